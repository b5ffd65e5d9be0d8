package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	BackendSheets   = "sheets"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// ChannelEntry — канал розыгрыша из конфигурации
type ChannelEntry struct {
	Key    string
	Handle string
}

type Config struct {
	TelegramToken string
	BotLink       string

	Channels      []ChannelEntry
	ChannelPolicy string

	StoreBackend    string
	SpreadsheetID   string
	CredentialsPath string
	CredentialsJSON string
	SheetName       string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	DatabaseDSN     string

	WebhookURL string
	Port       int

	CallTimeout   time.Duration
	ReadRetries   int
	NotifyRetries int

	AuditIntervalMinutes int
	HeartbeatMinutes     int

	LogLevel  string
	LogFormat string
}

const defaultChannels = "kino=@KinoTochkaUA,films=@KinoTochkaFilms"

// Load читает .env (если есть), затем переменные окружения и необязательный config.yaml
func Load() (*Config, error) {
	// Загружаем .env файл, если он существует
	if err := godotenv.Load(); err != nil {
		log.Printf("Предупреждение: .env файл не найден, используем переменные окружения")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("ошибка чтения config.yaml: %w", err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("CHANNELS", defaultChannels)
	v.SetDefault("CHANNEL_POLICY", "fixed")
	v.SetDefault("STORE_BACKEND", BackendSheets)
	v.SetDefault("GOOGLE_CREDENTIALS_PATH", "credentials.json")
	v.SetDefault("SHEET_NAME", "Giveaway")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("PORT", 8000)
	v.SetDefault("CALL_TIMEOUT", "10s")
	v.SetDefault("READ_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRIES", 3)
	v.SetDefault("AUDIT_INTERVAL_MINUTES", 60)
	v.SetDefault("HEARTBEAT_MINUTES", 5)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		TelegramToken:        v.GetString("TELEGRAM_BOT_TOKEN"),
		BotLink:              strings.TrimSuffix(v.GetString("BOT_LINK"), "/"),
		ChannelPolicy:        v.GetString("CHANNEL_POLICY"),
		StoreBackend:         strings.ToLower(v.GetString("STORE_BACKEND")),
		SpreadsheetID:        v.GetString("SPREADSHEET_ID"),
		CredentialsPath:      v.GetString("GOOGLE_CREDENTIALS_PATH"),
		CredentialsJSON:      v.GetString("GOOGLE_SHEETS_CREDENTIALS_JSON"),
		SheetName:            v.GetString("SHEET_NAME"),
		RedisAddr:            v.GetString("REDIS_ADDR"),
		RedisPassword:        v.GetString("REDIS_PASSWORD"),
		RedisDB:              v.GetInt("REDIS_DB"),
		DatabaseDSN:          v.GetString("DATABASE_DSN"),
		WebhookURL:           strings.TrimSuffix(v.GetString("WEBHOOK_URL"), "/"),
		Port:                 v.GetInt("PORT"),
		CallTimeout:          v.GetDuration("CALL_TIMEOUT"),
		ReadRetries:          v.GetInt("READ_RETRIES"),
		NotifyRetries:        v.GetInt("NOTIFY_RETRIES"),
		AuditIntervalMinutes: v.GetInt("AUDIT_INTERVAL_MINUTES"),
		HeartbeatMinutes:     v.GetInt("HEARTBEAT_MINUTES"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		LogFormat:            v.GetString("LOG_FORMAT"),
	}

	// В config.yaml каналы задаются картой channels: {kino: "@KinoTochkaUA"}
	if m := v.GetStringMapString("channels"); len(m) > 0 {
		cfg.Channels = channelsFromMap(m)
	} else {
		channels, err := ParseChannels(v.GetString("CHANNELS"))
		if err != nil {
			return nil, err
		}
		cfg.Channels = channels
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return &ConfigError{Message: "TELEGRAM_BOT_TOKEN не установлен"}
	}
	if len(c.Channels) == 0 {
		return &ConfigError{Message: "CHANNELS не содержит ни одного канала"}
	}

	switch c.StoreBackend {
	case BackendSheets:
		if c.SpreadsheetID == "" {
			return &ConfigError{Message: "SPREADSHEET_ID не установлен"}
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return &ConfigError{Message: "REDIS_ADDR не установлен"}
		}
	case BackendPostgres:
		if c.DatabaseDSN == "" {
			return &ConfigError{Message: "DATABASE_DSN не установлен"}
		}
	case BackendMemory:
	default:
		return &ConfigError{Message: fmt.Sprintf("неизвестный STORE_BACKEND: %q", c.StoreBackend)}
	}

	if c.CallTimeout <= 0 {
		return &ConfigError{Message: "CALL_TIMEOUT должен быть больше нуля"}
	}
	if c.ReadRetries < 0 || c.NotifyRetries < 0 {
		return &ConfigError{Message: "READ_RETRIES и NOTIFY_RETRIES не могут быть отрицательными"}
	}
	return nil
}

// ParseChannels разбирает строку вида "kino=@KinoTochkaUA,films=@KinoTochkaFilms"
func ParseChannels(s string) ([]ChannelEntry, error) {
	var out []ChannelEntry
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, handle, ok := strings.Cut(part, "=")
		key, handle = strings.TrimSpace(key), strings.TrimSpace(handle)
		if !ok || key == "" || handle == "" {
			return nil, &ConfigError{Message: fmt.Sprintf("некорректный канал в CHANNELS: %q", part)}
		}
		out = append(out, ChannelEntry{Key: key, Handle: normalizeHandle(handle)})
	}
	return out, nil
}

func channelsFromMap(m map[string]string) []ChannelEntry {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]ChannelEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, ChannelEntry{Key: k, Handle: normalizeHandle(m[k])})
	}
	return out
}

func normalizeHandle(h string) string {
	if strings.HasPrefix(h, "@") || strings.HasPrefix(h, "-") {
		return h
	}
	return "@" + h
}

type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
