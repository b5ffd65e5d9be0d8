package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"giveaway_ref_bot/referral"
)

type Bot struct {
	api         *tgbotapi.BotAPI
	gateway     *Gateway
	engine      *referral.Engine
	callTimeout time.Duration

	// обработчики обновлений, которые ещё выполняются
	inflight sync.WaitGroup
}

func NewBot(api *tgbotapi.BotAPI, gateway *Gateway, engine *referral.Engine, callTimeout time.Duration) *Bot {
	return &Bot{
		api:         api,
		gateway:     gateway,
		engine:      engine,
		callTimeout: callTimeout,
	}
}

// Start получает обновления через long polling до отмены ctx
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	log.Printf("Бот @%s запущен в режиме long polling", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.inflight.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.inflight.Wait()
				return nil
			}
			b.dispatch(ctx, update)
		}
	}
}

// dispatch обрабатывает обновление в отдельной горутине. Начатая обработка
// доводится до конца даже после отмены ctx.
func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	ctx = context.WithoutCancel(ctx)
	b.inflight.Add(1)
	go func(upd tgbotapi.Update) {
		defer b.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Паника в обработке обновления %d: %v", upd.UpdateID, r)
			}
		}()
		b.handleUpdate(ctx, upd)
	}(update)
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.From == nil {
		return
	}

	msg := update.Message
	if msg.Chat != nil && !msg.Chat.IsPrivate() {
		return
	}
	userID := msg.From.ID
	username := msg.From.UserName

	log.WithFields(log.Fields{"user": userID, "username": username}).Debugf("Сообщение: %s", msg.Text)

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.handleStart(ctx, msg, userID, username)
			return
		case "progress":
			b.handleProgress(ctx, msg.Chat.ID, userID)
			return
		}
	}

	if strings.TrimSpace(msg.Text) == progressButton {
		b.handleProgress(ctx, msg.Chat.ID, userID)
		return
	}

	// Показываем меню для неизвестных команд
	b.send(ctx, renderOutcome(msg.Chat.ID, b.engine.Menu(userID)))
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message, userID int64, username string) {
	out := b.engine.ResolveEntry(ctx, referral.Entry{
		ActorID:  userID,
		Username: username,
		Payload:  msg.CommandArguments(),
	})
	b.send(ctx, renderOutcome(msg.Chat.ID, out))
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}
	chatID := q.From.ID
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	}

	action, payload := parseCallback(q.Data)
	switch action {
	case callbackCheck:
		out := b.engine.ResolveEntry(ctx, referral.Entry{
			ActorID:  q.From.ID,
			Username: q.From.UserName,
			Payload:  payload,
		})
		if out.Kind == referral.OutcomeSubscribe {
			// Повторное сообщение не шлём, достаточно всплывающей подсказки
			b.answer(ctx, q.ID, fmt.Sprintf("Ви ще не підписані на %s", out.Channel.Handle))
			return
		}
		b.answer(ctx, q.ID, "")
		b.send(ctx, renderOutcome(chatID, out))

	case callbackProgress:
		b.answer(ctx, q.ID, "")
		b.handleProgress(ctx, chatID, q.From.ID)

	default:
		log.Warnf("Неизвестная кнопка от %d: %q", q.From.ID, q.Data)
		b.answer(ctx, q.ID, "")
	}
}

func (b *Bot) handleProgress(ctx context.Context, chatID, userID int64) {
	rows, err := b.engine.Progress(ctx, userID)
	if err != nil {
		log.Errorf("Ошибка получения прогресса %d: %v", userID, err)
		b.send(ctx, tgbotapi.NewMessage(chatID, retryLaterText))
		return
	}

	text := progressReport(rows, b.engine.Channels(), func(channelKey string) string {
		return b.engine.ShareLink(userID, channelKey)
	})
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	b.send(ctx, msg)
}

func (b *Bot) send(ctx context.Context, msg tgbotapi.MessageConfig) {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	b.gateway.sendMessage(ctx, msg)
}

func (b *Bot) answer(ctx context.Context, callbackID, text string) {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	b.gateway.answerCallback(ctx, callbackID, text)
}
