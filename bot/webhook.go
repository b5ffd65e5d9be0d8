package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

const webhookPath = "/webhook"

// Router — HTTP-обработчики режима webhook
func (b *Bot) Router(ctx context.Context) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "Giveaway bot is running!"})
	})

	r.POST(webhookPath, func(c *gin.Context) {
		var update tgbotapi.Update
		if err := c.ShouldBindJSON(&update); err != nil {
			log.Warnf("Ошибка разбора webhook: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		b.dispatch(ctx, update)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	return r
}

// ServeWebhook регистрирует webhook, обслуживает HTTP до отмены ctx и
// снимает webhook при остановке
func (b *Bot) ServeWebhook(ctx context.Context, publicURL string, port int) error {
	wh, err := tgbotapi.NewWebhook(publicURL + webhookPath)
	if err != nil {
		return fmt.Errorf("некорректный WEBHOOK_URL: %w", err)
	}
	if _, err := b.request(ctx, wh); err != nil {
		return fmt.Errorf("ошибка установки webhook: %w", err)
	}
	log.Printf("Webhook установлен: %s%s", publicURL, webhookPath)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           b.Router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP сервер слушает %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP сервера: %w", err)
		}
	case <-ctx.Done():
	}

	log.Printf("Удаляем webhook...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Ошибка остановки HTTP сервера: %v", err)
	}
	if _, err := b.request(shutdownCtx, tgbotapi.DeleteWebhookConfig{}); err != nil {
		log.Errorf("Ошибка удаления webhook: %v", err)
	}
	b.inflight.Wait()
	return nil
}

func (b *Bot) request(ctx context.Context, c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	return withContext(ctx, func() (*tgbotapi.APIResponse, error) {
		return b.gateway.api.Request(c)
	})
}
