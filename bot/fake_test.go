package bot

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"giveaway_ref_bot/referral"
	"giveaway_ref_bot/store"
)

var (
	kino  = referral.Channel{Key: "kino", Handle: "@KinoTochkaUA"}
	films = referral.Channel{Key: "films", Handle: "@KinoTochkaFilms"}
)

// fakeAPI записывает всё, что бот отправил в Telegram
type fakeAPI struct {
	mu        sync.Mutex
	sent      []tgbotapi.MessageConfig
	requests  []tgbotapi.Chattable
	statuses  map[string]string
	memberErr error
	sendErr   error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{statuses: map[string]string{}}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetChatMember(cfg tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memberErr != nil {
		return tgbotapi.ChatMember{}, f.memberErr
	}
	status, ok := f.statuses[memberKey(cfg.SuperGroupUsername, cfg.UserID)]
	if !ok {
		return tgbotapi.ChatMember{}, &tgbotapi.Error{Code: 400, Message: "Bad Request: user not found"}
	}
	return tgbotapi.ChatMember{Status: status}, nil
}

func (f *fakeAPI) setStatus(handle string, userID int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[memberKey(handle, userID)] = status
}

func (f *fakeAPI) messagesTo(chatID int64) []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAPI) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.requests = nil
}

func memberKey(handle string, userID int64) string {
	return fmt.Sprintf("%s:%d", handle, userID)
}

func newTestBot(t *testing.T) (*Bot, *fakeAPI, *store.MemoryStore) {
	t.Helper()
	channels, err := referral.NewChannels([]referral.Channel{kino, films})
	require.NoError(t, err)

	api := newFakeAPI()
	gateway := NewGateway(api)
	rows := store.NewMemoryStore()
	engine := referral.New(rows, gateway, gateway, channels, referral.Options{
		BotLink:       "https://t.me/GiveawayKinoBot",
		CallTimeout:   time.Second,
		ReadRetries:   1,
		NotifyRetries: 1,
		NewBackOff:    func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
	return NewBot(nil, gateway, engine, time.Second), api, rows
}

func commandUpdate(userID int64, username, text string) tgbotapi.Update {
	cmd, _, _ := strings.Cut(text, " ")
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID, UserName: username},
		Chat:     &tgbotapi.Chat{ID: userID, Type: "private"},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID, Type: "private"},
		Text: text,
	}}
}

func callbackUpdate(userID int64, username, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   fmt.Sprintf("cb-%d", userID),
		From: &tgbotapi.User{ID: userID, UserName: username},
		Data: data,
	}}
}

func inlineKeyboard(t *testing.T, msg tgbotapi.MessageConfig) tgbotapi.InlineKeyboardMarkup {
	t.Helper()
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "ожидалась inline-клавиатура, получено %T", msg.ReplyMarkup)
	return kb
}
