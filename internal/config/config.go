package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// Config is read from the environment. Fields tagged validate are checked
// after decoding.
type Config struct {
	ServerAddr        string        `env:"QUIZLIVE_ADDR,default=localhost:8000" validate:"required"`
	DatabaseDSN       string        `env:"QUIZLIVE_DATABASE_DSN" validate:"required"`
	SigningSecret     string        `env:"QUIZLIVE_SIGNING_KEY" validate:"required,base64"`
	Origins           string        `env:"QUIZLIVE_ALLOWED_ORIGINS"`
	RedisAddr         string        `env:"QUIZLIVE_REDIS_ADDR,default=localhost:6379" validate:"required"`
	RedisPassword     string        `env:"QUIZLIVE_REDIS_PASSWORD"`
	RedisDB           int           `env:"QUIZLIVE_REDIS_DB,default=0" validate:"gte=0"`
	QueuePrefix       string        `env:"QUIZLIVE_QUEUE_PREFIX,default=quizlive:notifications" validate:"required"`
	WorkerConcurrency int           `env:"QUIZLIVE_WORKER_CONCURRENCY,default=5" validate:"gte=1,lte=256"`
	JobAttempts       int           `env:"QUIZLIVE_JOB_ATTEMPTS,default=3" validate:"gte=1"`
	JobBackoff        time.Duration `env:"QUIZLIVE_JOB_BACKOFF,default=1s" validate:"gt=0"`
	EmbeddedWorker    bool          `env:"QUIZLIVE_EMBEDDED_WORKER,default=false"`
	LogLevel          string        `env:"QUIZLIVE_LOG_LEVEL,default=info" validate:"oneof=trace debug info warn error"`
	LogJSON           bool          `env:"QUIZLIVE_LOG_JSON,default=false"`

	SigningKey     []byte
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("signing secret cannot be empty")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func splitOrigins(origins string) []string {
	var out []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Load reads an optional dotenv file and then the process environment.
// Values already present in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) finalize() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}

	c.SigningKey = signingKey
	c.AllowedOrigins = splitOrigins(c.Origins)
	return nil
}
