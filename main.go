package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"giveaway_ref_bot/bot"
	"giveaway_ref_bot/config"
	"giveaway_ref_bot/referral"
	"giveaway_ref_bot/sheets"
	"giveaway_ref_bot/store"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	setupLogging(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, openStore)
	cancel()
	if err != nil {
		log.Fatal(err)
	}
	log.Println("Бот остановлен")
}

var apiEndpoint = tgbotapi.APIEndpoint

type storeOpener func(ctx context.Context, cfg *config.Config) (store.RowStore, func(), error)

// run возвращает ошибку вместо выхода, чтобы хранилище успело закрыться
func run(ctx context.Context, cfg *config.Config, open storeOpener) error {
	channels, err := channelsFromConfig(cfg.Channels)
	if err != nil {
		return fmt.Errorf("ошибка настройки каналов: %w", err)
	}
	selector, err := referral.SelectorByName(cfg.ChannelPolicy, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("ошибка настройки CHANNEL_POLICY: %w", err)
	}

	rows, closeStore, err := open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ошибка подключения к хранилищу %s: %w", cfg.StoreBackend, err)
	}
	defer closeStore()

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.TelegramToken, apiEndpoint)
	if err != nil {
		return fmt.Errorf("ошибка создания бота: %w", err)
	}
	log.Printf("Авторизован как %s", api.Self.UserName)

	botLink := cfg.BotLink
	if botLink == "" {
		botLink = "https://t.me/" + api.Self.UserName
	}

	gateway := bot.NewGateway(api)
	engine := referral.New(rows, gateway, gateway, channels, referral.Options{
		BotLink:       botLink,
		CallTimeout:   cfg.CallTimeout,
		ReadRetries:   uint64(cfg.ReadRetries),
		NotifyRetries: uint64(cfg.NotifyRetries),
		Selector:      selector,
	})

	telegramBot := bot.NewBot(api, gateway, engine, cfg.CallTimeout)
	telegramBot.StartAuditWorker(ctx, time.Duration(cfg.AuditIntervalMinutes)*time.Minute)
	bot.StartHeartbeat(ctx, time.Duration(cfg.HeartbeatMinutes)*time.Minute)

	log.Println("Бот запущен и готов к работе...")

	if cfg.WebhookURL != "" {
		err = telegramBot.ServeWebhook(ctx, cfg.WebhookURL, cfg.Port)
	} else {
		// Если webhook раньше был установлен, getUpdates вернёт ошибку
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.Warnf("Не удалось удалить webhook: %v", err)
		}
		err = telegramBot.Start(ctx)
	}
	if err != nil {
		return fmt.Errorf("ошибка работы бота: %w", err)
	}
	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Неизвестный LOG_LEVEL %q, используем info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if level < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
}

// openStore создаёт хранилище участников для выбранного бэкенда
func openStore(ctx context.Context, cfg *config.Config) (store.RowStore, func(), error) {
	noop := func() {}

	switch cfg.StoreBackend {
	case config.BackendSheets:
		if cfg.CredentialsJSON == "" {
			// Проверяем наличие файла credentials
			if _, err := os.Stat(cfg.CredentialsPath); os.IsNotExist(err) {
				return nil, noop, fmt.Errorf("файл credentials не найден: %s", cfg.CredentialsPath)
			}
		}
		client, err := sheets.NewSheetsClient(ctx, cfg.SpreadsheetID, cfg.SheetName,
			sheets.CredentialsOption(cfg.CredentialsPath, cfg.CredentialsJSON))
		if err != nil {
			return nil, noop, err
		}
		if err := client.EnsureHeader(ctx); err != nil {
			return nil, noop, err
		}
		return client, noop, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("redis недоступен: %w", err)
		}
		return store.NewRedisStore(client), func() { client.Close() }, nil

	case config.BackendPostgres:
		pg, err := store.OpenPostgres(cfg.DatabaseDSN)
		if err != nil {
			return nil, noop, err
		}
		return pg, func() { pg.Close() }, nil

	default:
		log.Warnf("Используется хранилище в памяти: данные пропадут при перезапуске")
		return store.NewMemoryStore(), noop, nil
	}
}

func channelsFromConfig(entries []config.ChannelEntry) (*referral.Channels, error) {
	list := make([]referral.Channel, 0, len(entries))
	for _, e := range entries {
		list = append(list, referral.Channel{Key: e.Key, Handle: e.Handle})
	}
	return referral.NewChannels(list)
}
