package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsActiveMember(t *testing.T) {
	tests := []struct {
		member tgbotapi.ChatMember
		want   bool
	}{
		{tgbotapi.ChatMember{Status: "member"}, true},
		{tgbotapi.ChatMember{Status: "administrator"}, true},
		{tgbotapi.ChatMember{Status: "creator"}, true},
		{tgbotapi.ChatMember{Status: "restricted", IsMember: true}, true},
		{tgbotapi.ChatMember{Status: "restricted"}, false},
		{tgbotapi.ChatMember{Status: "left"}, false},
		{tgbotapi.ChatMember{Status: "kicked"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isActiveMember(tt.member), tt.member.Status)
	}
}

func TestChatWithUser(t *testing.T) {
	byName := chatWithUser("@KinoTochkaUA", 7)
	assert.Equal(t, "@KinoTochkaUA", byName.SuperGroupUsername)
	assert.Equal(t, int64(7), byName.UserID)

	byID := chatWithUser("-1001234567890", 7)
	assert.Equal(t, int64(-1001234567890), byID.ChatID)
	assert.Empty(t, byID.SuperGroupUsername)
}

func TestGatewayIsMember(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	g := NewGateway(api)

	api.setStatus(kino.Handle, 1, "creator")
	ok, err := g.IsMember(ctx, 1, kino)
	require.NoError(t, err)
	assert.True(t, ok)

	// 400 от Telegram — пользователя нет в канале
	ok, err = g.IsMember(ctx, 2, kino)
	require.NoError(t, err)
	assert.False(t, ok)

	api.memberErr = errors.New("connection reset")
	_, err = g.IsMember(ctx, 1, kino)
	assert.ErrorContains(t, err, "connection reset")
}

func TestGatewaySendError(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	g := NewGateway(api)

	err := g.SendQualified(context.Background(), 1, films)
	var apiErr *tgbotapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Code)
}

func TestWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	_, err := withContext(ctx, func() (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	v, err := withContext(context.Background(), func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
