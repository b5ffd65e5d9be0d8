package store

import (
	"strconv"
	"strings"
)

// Значения флага "notified" в таблице
const (
	FlagYes = "так"
	FlagNo  = "ні"
)

// EncodeIDs склеивает ID через запятую
func EncodeIDs(ids IDSet) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

// DecodeIDs разбирает ячейку со списком ID. Пустые и нечисловые элементы
// отбрасываются, повторы схлопываются.
func DecodeIDs(cell string) IDSet {
	var ids IDSet
	for _, part := range strings.Split(cell, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids, _ = ids.With(id)
	}
	return ids
}

func FormatFlag(v bool) string {
	if v {
		return FlagYes
	}
	return FlagNo
}

// ParseFlag понимает локализованные и английские варианты
func ParseFlag(cell string) bool {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case FlagYes, "yes", "true", "1", "да":
		return true
	default:
		return false
	}
}

// ParseUserID разбирает ID пользователя из ячейки или ключа
func ParseUserID(s string) (int64, bool) {
	// неразрывные пробелы встречаются в значениях, вставленных вручную
	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.TrimSpace(strings.ReplaceAll(s, " ", ""))
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
