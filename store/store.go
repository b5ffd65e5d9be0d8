// Package store описывает хранилище строк участников и его реализации.
package store

import (
	"context"
	"errors"
)

// ErrInconsistentRow — строка хранилища повреждена (не хватает колонок, нечисловой ID).
// Движок считает такую строку отсутствующей и создаёт заново.
var ErrInconsistentRow = errors.New("повреждённая строка участника")

// RowStore — хранилище строк, ключ (user_id, channel).
// GetRow возвращает nil, nil если строки нет. UpsertRow записывает строку целиком
// и идемпотентен: повторная запись того же содержимого ничего не меняет.
type RowStore interface {
	GetRow(ctx context.Context, key Key) (*Row, error)
	UpsertRow(ctx context.Context, row *Row) error
	ListRows(ctx context.Context) ([]*Row, error)
}
