package state

import (
	"context"
	"fmt"
	"time"

	"github.com/cfoust/lockstep/pkg/config"
)

type Entity struct {
	ID uint `gorm:"primaryKey" cbor:"id"`
}

// Match is the record kept for every finished game.
type Match struct {
	Entity

	// Every game is assigned a unique identifier
	UUID    string    `gorm:"unique;size:36" cbor:"uuid"`
	Started time.Time `cbor:"started"`
	Ended   time.Time `gorm:"index" cbor:"ended"`
	// empty or last-player
	Reason string `gorm:"size:16" cbor:"reason"`
	// Simulation time when the game ended
	FinalTime int32 `cbor:"finalTime"`
	Players   int   `cbor:"players"`
	// Number of player commands relayed over the whole game
	Commands uint64 `cbor:"commands"`
}

func (m *Match) Duration() time.Duration {
	return m.Ended.Sub(m.Started)
}

type Store interface {
	SaveMatch(ctx context.Context, match *Match) error
	// RecentMatches returns up to limit matches, most recently ended first.
	RecentMatches(ctx context.Context, limit int) ([]Match, error)
	Close() error
}

// NopStore drops everything.
type NopStore struct{}

func (NopStore) SaveMatch(context.Context, *Match) error { return nil }

func (NopStore) RecentMatches(context.Context, int) ([]Match, error) { return nil, nil }

func (NopStore) Close() error { return nil }

func NewStore(settings config.StoreSettings) (Store, error) {
	switch settings.Type {
	case config.StoreTypeNone, "":
		return NopStore{}, nil
	case config.StoreTypeSQLite:
		return NewSQLStore(settings.DBPath)
	case config.StoreTypeRedis:
		return NewRedisStore(settings.Redis), nil
	}

	return nil, fmt.Errorf("unknown store type %q", settings.Type)
}
