package config

import (
	"time"
)

type StoreType string

const (
	StoreTypeNone   StoreType = "none"
	StoreTypeSQLite StoreType = "sqlite"
	StoreTypeRedis  StoreType = "redis"
)

type RedisSettings struct {
	Address    string `yaml:"address" json:"address"`
	Password   string `yaml:"password" json:"password"`
	DB         int    `yaml:"db" json:"db"`
	MaxMatches int64  `yaml:"maxMatches" json:"maxMatches"`
}

type StoreSettings struct {
	Type   StoreType     `yaml:"type" json:"type"`
	DBPath string        `yaml:"dbPath" json:"dbPath"`
	Redis  RedisSettings `yaml:"redis" json:"redis"`
}

type WebIngress struct {
	Port int    `yaml:"port" json:"port"`
	Path string `yaml:"path" json:"path"`
}

type ServerIngress struct {
	Web          WebIngress    `yaml:"web" json:"web"`
	LogSessions  bool          `yaml:"logSessions" json:"logSessions"`
	CommandRate  float64       `yaml:"commandRate" json:"commandRate"`
	CommandBurst int           `yaml:"commandBurst" json:"commandBurst"`
	SendBuffer   int           `yaml:"sendBuffer" json:"sendBuffer"`
	WriteTimeout time.Duration `yaml:"writeTimeout" json:"writeTimeout"`
}

type WarmupSettings struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Interval   time.Duration `yaml:"interval" json:"interval"`
	MaxRetries int           `yaml:"maxRetries" json:"maxRetries"`
}

type GameSettings struct {
	Locale           string         `yaml:"locale" json:"locale"`
	MinPlayers       int            `yaml:"minPlayers" json:"minPlayers"`
	TickInterval     time.Duration  `yaml:"tickInterval" json:"tickInterval"`
	TimeStep         int32          `yaml:"timeStep" json:"timeStep"`
	Warmup           WarmupSettings `yaml:"warmup" json:"warmup"`
	GameOverDelay    time.Duration  `yaml:"gameOverDelay" json:"gameOverDelay"`
	TeamDataInterval time.Duration  `yaml:"teamDataInterval" json:"teamDataInterval"`
	PingInterval     time.Duration  `yaml:"pingInterval" json:"pingInterval"`
}

type ServerSettings struct {
	Description string        `yaml:"description" json:"description"`
	Ingress     ServerIngress `yaml:"ingress" json:"ingress"`
	Game        GameSettings  `yaml:"game" json:"game"`
	Store       StoreSettings `yaml:"store" json:"store"`
}

type Config struct {
	Server ServerSettings `yaml:"server" json:"server"`
}
