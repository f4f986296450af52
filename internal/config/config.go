package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Engine    EngineConfig
	RBAC      RBACConfig
	Scheduler SchedulerConfig
	API       APIConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

// EngineConfig points at the workflow-execution engine.
type EngineConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// RBACConfig points at the permission service. AllowAll short-circuits the
// service for development setups.
type RBACConfig struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	AllowAll bool
}

type SchedulerConfig struct {
	TickSpec      string
	BatchSize     int
	MaxConcurrent int
	ClaimTTL      time.Duration
}

type APIConfig struct {
	Key string
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("ENGINE_TIMEOUT", "30s")
	viper.SetDefault("RBAC_TIMEOUT", "5s")
	viper.SetDefault("RBAC_ALLOW_ALL", false)
	viper.SetDefault("SCHEDULER_TICK_SPEC", "*/15 * * * * *")
	viper.SetDefault("SCHEDULER_BATCH_SIZE", 100)
	viper.SetDefault("SCHEDULER_MAX_CONCURRENT", 8)
	viper.SetDefault("SCHEDULER_CLAIM_TTL", "10m")

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		Engine: EngineConfig{
			BaseURL: viper.GetString("ENGINE_BASE_URL"),
			Token:   viper.GetString("ENGINE_TOKEN"),
			Timeout: viper.GetDuration("ENGINE_TIMEOUT"),
		},
		RBAC: RBACConfig{
			BaseURL:  viper.GetString("RBAC_BASE_URL"),
			Token:    viper.GetString("RBAC_TOKEN"),
			Timeout:  viper.GetDuration("RBAC_TIMEOUT"),
			AllowAll: viper.GetBool("RBAC_ALLOW_ALL"),
		},
		Scheduler: SchedulerConfig{
			TickSpec:      viper.GetString("SCHEDULER_TICK_SPEC"),
			BatchSize:     viper.GetInt("SCHEDULER_BATCH_SIZE"),
			MaxConcurrent: viper.GetInt("SCHEDULER_MAX_CONCURRENT"),
			ClaimTTL:      viper.GetDuration("SCHEDULER_CLAIM_TTL"),
		},
		API: APIConfig{
			Key: viper.GetString("API_KEY"),
		},
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if cfg.Engine.BaseURL == "" {
		log.Println("WARNING: ENGINE_BASE_URL is not set")
	}

	return cfg, nil
}

// DSN returns the MySQL DSN string for GORM. Timestamps are stored and
// compared in UTC so due-time claims behave the same on every replica.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=UTC"
}
