package bot

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// auditStartDelay — пауза перед первой проверкой после старта
	auditStartDelay = time.Minute
	// workerRestartDelay — пауза перед перезапуском воркера после паники
	workerRestartDelay = 5 * time.Minute
)

// StartAuditWorker периодически сверяет подписки участников.
// Интервал 0 отключает проверку.
func (b *Bot) StartAuditWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		log.Printf("Проверка подписок отключена")
		return
	}
	go b.auditLoop(ctx, interval)
}

func (b *Bot) auditLoop(ctx context.Context, interval time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Паника в проверке подписок: %v", r)
			// Перезапускаем через некоторое время
			select {
			case <-ctx.Done():
			case <-time.After(workerRestartDelay):
				go b.auditLoop(ctx, interval)
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	select {
	case <-ctx.Done():
		return
	case <-time.After(auditStartDelay):
	}
	b.runAudit(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.runAudit(ctx)
		}
	}
}

func (b *Bot) runAudit(ctx context.Context) {
	log.Printf("Начало проверки подписок...")

	report, err := b.engine.AuditSubscriptions(ctx)
	if err != nil {
		log.Errorf("Ошибка проверки подписок (run %s): %v", report.RunID, err)
		return
	}
	if report.Failed > 0 {
		log.Warnf("Проверка подписок %s: не удалось проверить %d из %d", report.RunID, report.Failed, report.Checked)
	}
}

// StartHeartbeat пишет в лог, что процесс жив. Канал закрывается после остановки.
func StartHeartbeat(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return done
	}
	started := time.Now()
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.WithField("uptime", time.Since(started).Round(time.Second).String()).Info("💓 Бот работает")
			}
		}
	}()
	return done
}
