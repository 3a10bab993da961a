package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendBadger = "badger"
)

var ErrUnknownBackend = errors.New("unknown store backend")

type Config struct {
	Port     int    `env:"PORT,default=8080"`
	AppEnv   string `env:"APP_ENV,default=development"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	StoreBackend   string `env:"STORE_BACKEND,default=memory"`
	MongoURI       string `env:"MONGODB_URI,default=mongodb://localhost:27017"`
	MongoDatabase  string `env:"MONGODB_DATABASE,default=loventia"`
	BadgerPath     string `env:"BADGER_PATH,default=./data/messages"`
	RedisAddr      string `env:"REDIS_ADDR"`
	ServerID       string `env:"SERVER_ID,default=server-1"`
	JWTSecret      string `env:"JWT_SECRET,required=true"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`

	SendRatePerSecond float64       `env:"SEND_RATE_PER_SECOND,default=5"`
	SendBurst         int           `env:"SEND_BURST,default=10"`
	MaxMessageLength  int           `env:"MAX_MESSAGE_LENGTH,default=4000"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// LoadDotEnv loads .env files with priority: .env.local > .env.
// godotenv.Load does not overwrite variables already set, so the OS
// environment always wins. Returns the files actually loaded.
func LoadDotEnv() []string {
	var loaded []string
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	if len(loaded) > 0 {
		_ = godotenv.Load(loaded...)
	}
	return loaded
}

// Load reads the configuration from the environment after applying dotenv files.
func Load() (Config, error) {
	LoadDotEnv()

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendMongo, BackendBadger:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.StoreBackend)
	}
	if c.SendRatePerSecond <= 0 || c.SendBurst <= 0 {
		return errors.New("SEND_RATE_PER_SECOND and SEND_BURST must be positive")
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

// Origins splits ALLOWED_ORIGINS on commas. "*" allows any origin.
func (c Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
