package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"giveaway_ref_bot/referral"
)

// telegramAPI — методы BotAPI, которые нужны боту и шлюзу
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Gateway проверяет подписку через getChatMember и отправляет уведомления
// участникам. Реализует referral.Oracle и referral.Messenger.
type Gateway struct {
	api telegramAPI
}

func NewGateway(api telegramAPI) *Gateway {
	return &Gateway{api: api}
}

var (
	_ referral.Oracle    = (*Gateway)(nil)
	_ referral.Messenger = (*Gateway)(nil)
)

func (g *Gateway) IsMember(ctx context.Context, userID int64, channel referral.Channel) (bool, error) {
	member, err := withContext(ctx, func() (tgbotapi.ChatMember, error) {
		return g.api.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: chatWithUser(channel.Handle, userID),
		})
	})
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 400 {
			// пользователь ни разу не заходил в канал
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки подписки %d на %s: %w", userID, channel.Handle, err)
	}
	return isActiveMember(member), nil
}

func isActiveMember(m tgbotapi.ChatMember) bool {
	switch m.Status {
	case "member", "administrator", "creator":
		return true
	case "restricted":
		return m.IsMember
	default:
		return false
	}
}

// chatWithUser: числовой ID канала начинается с "-", иначе это @username
func chatWithUser(handle string, userID int64) tgbotapi.ChatConfigWithUser {
	if strings.HasPrefix(handle, "-") {
		if id, err := strconv.ParseInt(handle, 10, 64); err == nil {
			return tgbotapi.ChatConfigWithUser{ChatID: id, UserID: userID}
		}
	}
	return tgbotapi.ChatConfigWithUser{SuperGroupUsername: handle, UserID: userID}
}

func (g *Gateway) SendProgress(ctx context.Context, userID int64, channel referral.Channel, count, threshold int) error {
	return g.send(ctx, tgbotapi.NewMessage(userID, progressText(channel, count, threshold)))
}

func (g *Gateway) SendQualified(ctx context.Context, userID int64, channel referral.Channel) error {
	return g.send(ctx, tgbotapi.NewMessage(userID, qualifiedText(channel)))
}

func (g *Gateway) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	_, err := withContext(ctx, func() (tgbotapi.Message, error) {
		return g.api.Send(msg)
	})
	if err != nil {
		return fmt.Errorf("ошибка отправки сообщения %d: %w", msg.ChatID, err)
	}
	return nil
}

// sendMessage отправляет ответ пользователю; ошибка только логируется
func (g *Gateway) sendMessage(ctx context.Context, msg tgbotapi.MessageConfig) {
	if err := g.send(ctx, msg); err != nil {
		log.Errorf("Ошибка отправки сообщения: %v", err)
	}
}

// answerCallback снимает "часики" с нажатой кнопки
func (g *Gateway) answerCallback(ctx context.Context, id, text string) {
	_, err := withContext(ctx, func() (*tgbotapi.APIResponse, error) {
		return g.api.Request(tgbotapi.NewCallback(id, text))
	})
	if err != nil {
		log.Warnf("Ошибка ответа на callback: %v", err)
	}
}

// withContext ограничивает блокирующий вызов BotAPI контекстом. Сам HTTP-запрос
// не отменяется, но вызывающий перестаёт его ждать.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn()
		done <- result{val, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.val, r.err
	}
}
