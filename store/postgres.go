package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// participantModel — таблица participants, первичный ключ (user_id, channel)
type participantModel struct {
	UserID       int64  `gorm:"primaryKey;autoIncrement:false"`
	Channel      string `gorm:"primaryKey;size:64"`
	Username     string `gorm:"size:255"`
	InvitedIDs   string `gorm:"type:text"`
	InvitedCount int
	Notified     bool
	Status       string `gorm:"size:32"`
}

func (participantModel) TableName() string { return "participants" }

// PostgresStore хранит строки в PostgreSQL через gorm.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres подключается по DSN и создаёт таблицу при необходимости
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к postgres: %w", err)
	}
	return NewPostgresStore(db)
}

func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&participantModel{}); err != nil {
		return nil, fmt.Errorf("ошибка миграции таблицы participants: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetRow(ctx context.Context, key Key) (*Row, error) {
	var m participantModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND channel = ?", key.UserID, key.Channel).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения участника %s: %w", key, err)
	}
	return m.toRow(), nil
}

func (s *PostgresStore) UpsertRow(ctx context.Context, row *Row) error {
	m := fromRow(row)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "channel"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "invited_ids", "invited_count", "notified", "status"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("ошибка записи участника %s: %w", row.Key(), err)
	}
	return nil
}

func (s *PostgresStore) ListRows(ctx context.Context) ([]*Row, error) {
	var models []participantModel
	if err := s.db.WithContext(ctx).Order("channel, user_id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("ошибка чтения участников: %w", err)
	}
	rows := make([]*Row, 0, len(models))
	for i := range models {
		rows = append(rows, models[i].toRow())
	}
	return rows, nil
}

func fromRow(row *Row) participantModel {
	return participantModel{
		UserID:       row.UserID,
		Channel:      row.Channel,
		Username:     row.Username,
		InvitedIDs:   EncodeIDs(row.InvitedIDs),
		InvitedCount: row.InvitedCount(),
		Notified:     row.Notified,
		Status:       string(row.Status),
	}
}

func (m participantModel) toRow() *Row {
	return &Row{
		UserID:     m.UserID,
		Username:   m.Username,
		Channel:    m.Channel,
		InvitedIDs: DecodeIDs(m.InvitedIDs).Without(m.UserID),
		Notified:   m.Notified,
		Status:     Status(m.Status),
	}
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
