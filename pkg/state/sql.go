package state

import (
	"context"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(&Match{})
	if err != nil {
		return nil, err
	}

	return db, nil
}

type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(path string) (*SQLStore, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) SaveMatch(ctx context.Context, match *Match) error {
	return s.db.WithContext(ctx).Create(match).Error
}

func (s *SQLStore) RecentMatches(ctx context.Context, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}

	var matches []Match
	err := s.db.WithContext(ctx).
		Order("ended desc").
		Order("id desc").
		Limit(limit).
		Find(&matches).Error
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *SQLStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
