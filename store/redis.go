package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	redisRowPrefix = "giveaway:participant:"
	redisIndexKey  = "giveaway:participants"
)

// RedisStore хранит каждую строку в отдельном хэше, список ключей — в множестве.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisRowKey(key Key) string {
	return redisRowPrefix + key.String()
}

func (s *RedisStore) GetRow(ctx context.Context, key Key) (*Row, error) {
	fields, err := s.client.HGetAll(ctx, redisRowKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения участника %s из redis: %w", key, err)
	}
	return rowFromHash(key, fields)
}

// rowFromHash: пустой хэш — строки нет, повреждённый — ErrInconsistentRow
func rowFromHash(key Key, fields map[string]string) (*Row, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	row, err := decodeRedisRow(fields)
	if err != nil {
		return nil, fmt.Errorf("участник %s: %w", key, err)
	}
	return row, nil
}

func (s *RedisStore) UpsertRow(ctx context.Context, row *Row) error {
	rowKey := redisRowKey(row.Key())
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, rowKey, encodeRedisRow(row))
		pipe.SAdd(ctx, redisIndexKey, rowKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка записи участника %s в redis: %w", row.Key(), err)
	}
	return nil
}

func (s *RedisStore) ListRows(ctx context.Context) ([]*Row, error) {
	keys, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка участников из redis: %w", err)
	}

	rows := make([]*Row, 0, len(keys))
	for _, k := range keys {
		fields, err := s.client.HGetAll(ctx, k).Result()
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения %s из redis: %w", k, err)
		}
		row, err := decodeRedisRow(fields)
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func encodeRedisRow(row *Row) map[string]interface{} {
	return map[string]interface{}{
		"user_id":       strconv.FormatInt(row.UserID, 10),
		"username":      row.Username,
		"channel":       row.Channel,
		"invited_ids":   EncodeIDs(row.InvitedIDs),
		"invited_count": row.InvitedCount(),
		"notified":      FormatFlag(row.Notified),
		"status":        string(row.Status),
	}
}

func decodeRedisRow(fields map[string]string) (*Row, error) {
	id, ok := ParseUserID(fields["user_id"])
	channel := strings.TrimSpace(fields["channel"])
	if !ok || channel == "" {
		return nil, ErrInconsistentRow
	}
	return &Row{
		UserID:     id,
		Username:   fields["username"],
		Channel:    channel,
		InvitedIDs: DecodeIDs(fields["invited_ids"]).Without(id),
		Notified:   ParseFlag(fields["notified"]),
		Status:     Status(fields["status"]),
	}, nil
}
