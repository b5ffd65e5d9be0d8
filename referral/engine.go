// Package referral — учёт приглашений и допуск к розыгрышу.
//
// Движок получает все внешние зависимости явно: хранилище строк, проверку
// подписки и отправку уведомлений. Все изменения строки одного ключа
// (user_id, channel) выполняются под мьютексом этого ключа.
package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"giveaway_ref_bot/store"
)

// Oracle отвечает, состоит ли пользователь в канале
type Oracle interface {
	IsMember(ctx context.Context, userID int64, channel Channel) (bool, error)
}

// Messenger доставляет уведомления участникам
type Messenger interface {
	SendProgress(ctx context.Context, userID int64, channel Channel, count, threshold int) error
	SendQualified(ctx context.Context, userID int64, channel Channel) error
}

type Options struct {
	// BotLink — ссылка вида https://t.me/<bot>
	BotLink string
	// CallTimeout ограничивает каждый внешний вызов
	CallTimeout time.Duration
	// ReadRetries — повторы чтения хранилища и проверки подписки
	ReadRetries uint64
	// NotifyRetries — повторы отправки сообщения о допуске
	NotifyRetries uint64
	Selector      Selector
	// NewBackOff задаёт паузы между повторами
	NewBackOff func() backoff.BackOff
}

func (o *Options) setDefaults() {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.Selector == nil {
		o.Selector = FixedSelector{}
	}
	if o.NewBackOff == nil {
		o.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}
	}
}

type Engine struct {
	store     store.RowStore
	oracle    Oracle
	messenger Messenger
	channels  *Channels
	opts      Options
	locks     *keyLocker
}

func New(rows store.RowStore, oracle Oracle, messenger Messenger, channels *Channels, opts Options) *Engine {
	opts.setDefaults()
	return &Engine{
		store:     rows,
		oracle:    oracle,
		messenger: messenger,
		channels:  channels,
		opts:      opts,
		locks:     newKeyLocker(),
	}
}

func (e *Engine) Channels() *Channels {
	return e.channels
}

// Entry — входящий /start или нажатие "Я підписався"
type Entry struct {
	ActorID  int64
	Username string
	Payload  string
}

type OutcomeKind int

const (
	OutcomeMenu OutcomeKind = iota
	OutcomeSubscribe
	OutcomeEntered
	OutcomeRetryLater
)

type MenuItem struct {
	Channel Channel
	Link    string
}

// Outcome описывает, что показать пользователю
type Outcome struct {
	Kind OutcomeKind
	// Menu заполнено для OutcomeMenu
	Menu []MenuItem
	// Channel заполнено для OutcomeSubscribe и OutcomeEntered
	Channel Channel
	// Payload исходного приглашения, для кнопки повторной проверки
	Payload string
	// Link — персональная ссылка участника для OutcomeEntered
	Link string
	// Invited — сколько друзей уже пригласил сам участник
	Invited int
	// Counted — вход засчитан другому участнику
	Counted bool
}

// ResolveEntry обрабатывает вход по ссылке. Ошибки внешних сервисов не
// выходят наружу: подписка при ошибке считается отсутствующей, сбой
// хранилища превращается в OutcomeRetryLater.
func (e *Engine) ResolveEntry(ctx context.Context, in Entry) Outcome {
	p, ok := ParsePayload(in.Payload, e.channels)
	if !ok {
		if in.Payload != "" {
			log.WithFields(log.Fields{"actor": in.ActorID, "payload": in.Payload}).
				Debug("Некорректный payload, показываем меню")
		}
		return e.menu(in.ActorID)
	}

	logger := log.WithFields(log.Fields{
		"actor":    in.ActorID,
		"channel":  p.Channel.Key,
		"referrer": p.ReferrerID,
	})

	payload := FormatPayload(p.Channel.Key, p.ReferrerID)
	if !e.isMember(ctx, in.ActorID, p.Channel) {
		logger.Info("Пользователь не подписан на канал")
		return Outcome{Kind: OutcomeSubscribe, Channel: p.Channel, Payload: payload}
	}

	own, err := e.enroll(ctx, in.ActorID, in.Username, p.Channel.Key)
	if err != nil {
		logger.Errorf("Ошибка регистрации участника: %v", err)
		return Outcome{Kind: OutcomeRetryLater, Channel: p.Channel, Payload: payload}
	}

	res, err := e.RecordReferral(ctx, p.ReferrerID, p.Channel.Key, in.ActorID)
	if err != nil {
		logger.Errorf("Ошибка учёта приглашения: %v", err)
		return Outcome{Kind: OutcomeRetryLater, Channel: p.Channel, Payload: payload}
	}
	logger.WithField("reason", res.Reason).Info("Вход по реферальной ссылке обработан")

	return Outcome{
		Kind:    OutcomeEntered,
		Channel: p.Channel,
		Link:    e.ShareLink(in.ActorID, p.Channel.Key),
		Invited: own.InvitedCount(),
		Counted: res.Accepted,
	}
}

// Menu — меню выбора канала для пользователя
func (e *Engine) Menu(actorID int64) Outcome {
	return e.menu(actorID)
}

func (e *Engine) menu(actorID int64) Outcome {
	channels := ordered(e.channels.All(), e.opts.Selector)
	items := make([]MenuItem, 0, len(channels))
	for _, c := range channels {
		items = append(items, MenuItem{Channel: c, Link: e.ShareLink(actorID, c.Key)})
	}
	return Outcome{Kind: OutcomeMenu, Menu: items}
}

func (e *Engine) ShareLink(actorID int64, channelKey string) string {
	return Link(e.opts.BotLink, channelKey, actorID)
}

type Reason string

const (
	ReasonAccepted  Reason = "accepted"
	ReasonSelf      Reason = "self"
	ReasonDuplicate Reason = "duplicate"
)

// Result — итог RecordReferral
type Result struct {
	Row       *store.Row
	Accepted  bool
	Qualified bool
	Reason    Reason
}

// RecordReferral засчитывает inviteeID рефереру. Повторы и самоприглашения
// ничего не меняют. Уведомления отправляются внутри секции ключа, поэтому
// сообщение о допуске уходит не больше одного раза.
func (e *Engine) RecordReferral(ctx context.Context, referrerID int64, channelKey string, inviteeID int64) (Result, error) {
	ch, ok := e.channels.Lookup(channelKey)
	if !ok {
		return Result{}, fmt.Errorf("неизвестный канал %q", channelKey)
	}

	key := store.Key{UserID: referrerID, Channel: channelKey}
	unlock := e.locks.Lock(key)
	defer unlock()

	row, err := e.getRow(ctx, key)
	if err != nil {
		return Result{}, err
	}
	created := row == nil
	if created {
		row = store.NewRow(key)
	}

	if inviteeID == referrerID {
		if created {
			if err := e.write(ctx, row); err != nil {
				return Result{}, err
			}
		}
		return Result{Row: row.Clone(), Reason: ReasonSelf}, nil
	}

	ids, added := row.InvitedIDs.With(inviteeID)
	if !added {
		return Result{Row: row.Clone(), Reason: ReasonDuplicate}, nil
	}
	row.InvitedIDs = ids
	if err := e.write(ctx, row); err != nil {
		return Result{}, err
	}

	logger := log.WithFields(log.Fields{"referrer": referrerID, "channel": channelKey, "invitee": inviteeID})
	logger.WithField("count", row.InvitedCount()).Info("Засчитано новое приглашение")

	res := Result{Accepted: true, Reason: ReasonAccepted}
	e.sendProgress(ctx, row, ch)

	if row.InvitedCount() >= store.QualifyThreshold && !row.Notified {
		e.deliverQualification(ctx, row, ch)
		row.Notified = true
		if err := e.persistNotified(ctx, row); err != nil {
			// Приглашение уже сохранено; флаг будет выставлен при следующем приглашении
			logger.Errorf("Ошибка сохранения флага уведомления: %v", err)
			row.Notified = false
		} else {
			res.Qualified = true
		}
	}

	res.Row = row.Clone()
	return res, nil
}

// CheckParticipation — есть ли уже строка для пары (user_id, channel)
func (e *Engine) CheckParticipation(ctx context.Context, actorID int64, channelKey string) (bool, error) {
	row, err := e.getRow(ctx, store.Key{UserID: actorID, Channel: channelKey})
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

// Progress возвращает строки пользователя по всем настроенным каналам
func (e *Engine) Progress(ctx context.Context, actorID int64) ([]*store.Row, error) {
	var rows []*store.Row
	for _, c := range e.channels.All() {
		row, err := e.getRow(ctx, store.Key{UserID: actorID, Channel: c.Key})
		if err != nil {
			return nil, err
		}
		if row != nil {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// enroll создаёт строку участника при первом входе и обновляет username, если он изменился
func (e *Engine) enroll(ctx context.Context, actorID int64, username, channelKey string) (*store.Row, error) {
	key := store.Key{UserID: actorID, Channel: channelKey}
	unlock := e.locks.Lock(key)
	defer unlock()

	row, err := e.getRow(ctx, key)
	if err != nil {
		return nil, err
	}

	display := displayName(username)
	if row == nil {
		row = store.NewRow(key)
		row.Username = display
		if err := e.write(ctx, row); err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{"user": actorID, "channel": channelKey}).Info("Новый участник")
		return row, nil
	}

	if display != "" && row.Username != display {
		log.Printf("Обновление username для ID %d: %q -> %q", actorID, row.Username, display)
		row.Username = display
		if err := e.write(ctx, row); err != nil {
			log.Errorf("Ошибка обновления username: %v", err)
		}
	}
	return row, nil
}

func displayName(username string) string {
	if username == "" {
		return ""
	}
	return "@" + username
}

func (e *Engine) isMember(ctx context.Context, userID int64, ch Channel) bool {
	ok, err := retryRead(ctx, e, func(ctx context.Context) (bool, error) {
		return e.oracle.IsMember(ctx, userID, ch)
	})
	if err != nil {
		log.WithFields(log.Fields{"user": userID, "channel": ch.Key}).
			Warnf("Проверка подписки не удалась, считаем что не подписан: %v", err)
		return false
	}
	return ok
}

// getRow читает строку с повторами; повреждённая строка считается отсутствующей
func (e *Engine) getRow(ctx context.Context, key store.Key) (*store.Row, error) {
	row, err := retryRead(ctx, e, func(ctx context.Context) (*store.Row, error) {
		row, err := e.store.GetRow(ctx, key)
		if errors.Is(err, store.ErrInconsistentRow) {
			return nil, backoff.Permanent(err)
		}
		return row, err
	})
	if errors.Is(err, store.ErrInconsistentRow) {
		log.Warnf("Строка %s повреждена, создаём заново", key)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения участника %s: %w", key, err)
	}
	if row != nil {
		row.InvitedIDs = row.InvitedIDs.Without(row.UserID)
	}
	return row, nil
}

// write — одна попытка записи: строка пишется целиком по ключу
func (e *Engine) write(ctx context.Context, row *store.Row) error {
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	if err := e.store.UpsertRow(cctx, row); err != nil {
		return fmt.Errorf("ошибка записи участника %s: %w", row.Key(), err)
	}
	return nil
}

// persistNotified записывает строку с выставленным флагом, повторяя при сбоях.
// Без сохранённого флага следующее приглашение отправит сообщение о допуске снова.
func (e *Engine) persistNotified(ctx context.Context, row *store.Row) error {
	b := backoff.WithContext(backoff.WithMaxRetries(e.opts.NewBackOff(), e.opts.ReadRetries), ctx)
	return backoff.RetryNotify(func() error {
		return e.write(ctx, row)
	}, b, func(err error, wait time.Duration) {
		log.WithField("key", row.Key().String()).Warnf("Ошибка записи флага уведомления, повтор через %s: %v", wait, err)
	})
}

func (e *Engine) sendProgress(ctx context.Context, row *store.Row, ch Channel) {
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	if err := e.messenger.SendProgress(cctx, row.UserID, ch, row.InvitedCount(), store.QualifyThreshold); err != nil {
		log.WithFields(log.Fields{"user": row.UserID, "channel": ch.Key}).
			Warnf("Не удалось отправить уведомление о прогрессе: %v", err)
	}
}

// deliverQualification отправляет сообщение о допуске, пока не получится или
// не закончатся попытки
func (e *Engine) deliverQualification(ctx context.Context, row *store.Row, ch Channel) {
	logger := log.WithFields(log.Fields{"user": row.UserID, "channel": ch.Key})
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()
		return e.messenger.SendQualified(cctx, row.UserID, ch)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(e.opts.NewBackOff(), e.opts.NotifyRetries), ctx)
	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		logger.Warnf("Ошибка отправки сообщения о допуске, повтор через %s: %v", wait, err)
	})
	if err != nil {
		logger.Errorf("Сообщение о допуске не доставлено, попытки исчерпаны: %v", err)
		return
	}
	logger.Info("Участник допущен к розыгрышу")
}

func retryRead[T any](ctx context.Context, e *Engine, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.WithContext(backoff.WithMaxRetries(e.opts.NewBackOff(), e.opts.ReadRetries), ctx)
	return backoff.RetryWithData(func() (T, error) {
		cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()
		return op(cctx)
	}, b)
}

// AuditReport — итог проверки подписок
type AuditReport struct {
	RunID   string
	Checked int
	Changed int
	Failed  int
}

// AuditSubscriptions проверяет подписку каждого участника и сохраняет статус.
// Ошибка проверки статус не меняет.
func (e *Engine) AuditSubscriptions(ctx context.Context) (AuditReport, error) {
	report := AuditReport{RunID: uuid.NewString()}
	logger := log.WithField("run", report.RunID)

	rows, err := retryRead(ctx, e, func(ctx context.Context) ([]*store.Row, error) {
		return e.store.ListRows(ctx)
	})
	if err != nil {
		return report, fmt.Errorf("ошибка чтения участников: %w", err)
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ch, ok := e.channels.Lookup(row.Channel)
		if !ok {
			continue
		}
		report.Checked++

		member, err := retryRead(ctx, e, func(ctx context.Context) (bool, error) {
			return e.oracle.IsMember(ctx, row.UserID, ch)
		})
		if err != nil {
			report.Failed++
			logger.Warnf("Ошибка проверки %d в %s: %v", row.UserID, ch.Handle, err)
			continue
		}

		status := store.StatusLeft
		if member {
			status = store.StatusSubscribed
		}
		changed, err := e.setStatus(ctx, row.Key(), status)
		if err != nil {
			report.Failed++
			logger.Errorf("Ошибка сохранения статуса %s: %v", row.Key(), err)
			continue
		}
		if changed {
			report.Changed++
		}
	}

	logger.WithFields(log.Fields{
		"checked": report.Checked,
		"changed": report.Changed,
		"failed":  report.Failed,
	}).Info("Проверка подписок завершена")
	return report, nil
}

func (e *Engine) setStatus(ctx context.Context, key store.Key, status store.Status) (bool, error) {
	unlock := e.locks.Lock(key)
	defer unlock()

	// перечитываем под блокировкой, чтобы не затереть свежие приглашения
	row, err := e.getRow(ctx, key)
	if err != nil || row == nil || row.Status == status {
		return false, err
	}
	row.Status = status
	if err := e.write(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}
