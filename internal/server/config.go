// Package server provides configuration helpers that define runtime defaults,
// validation, and environment/flag loading for the relay process.
package server

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	// DefaultPort is the TCP port the relay listens on unless told otherwise.
	DefaultPort = 1060
	// DefaultWriteTimeout bounds how long one peer that stopped reading can
	// hold up the senders relaying to it. Zero disables the bound.
	DefaultWriteTimeout = 5 * time.Second
)

// RateLimitConfig defines the optional per-connection inbound rate limit.
// A zero Burst disables limiting.
type RateLimitConfig struct {
	Burst    int
	Interval time.Duration
}

// Config holds the relay settings. Defaults come from the env tags, the
// environment overrides them, and command-line flags override both.
type Config struct {
	Host              string        `env:"CHAT_HOST"`
	Port              int           `env:"CHAT_PORT,default=1060" validate:"min=1,max=65535"`
	ReadBufferSize    int           `env:"CHAT_READ_BUFFER_SIZE,default=1024" validate:"min=1"`
	WriteTimeout      time.Duration `env:"CHAT_WRITE_TIMEOUT,default=5s" validate:"gte=0"`
	EvictOnWriteError bool          `env:"CHAT_EVICT_ON_WRITE_ERROR,default=true"`
	ShutdownTimeout   time.Duration `env:"CHAT_SHUTDOWN_TIMEOUT,default=5s" validate:"gt=0"`
	QuitToken         string        `env:"CHAT_QUIT_TOKEN,default=q" validate:"required"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`

	WebSocketAddr           string `env:"CHAT_WS_ADDR"`
	WebSocketAllowedOrigins string `env:"CHAT_WS_ALLOWED_ORIGINS,default=http://localhost:8080"`
	WebSocketMaxMessageSize int64  `env:"CHAT_WS_MAX_MESSAGE_SIZE,default=4096" validate:"min=1"`

	RateLimitBurst    int           `env:"CHAT_RATE_LIMIT_BURST,default=0" validate:"gte=0"`
	RateLimitInterval time.Duration `env:"CHAT_RATE_LIMIT_INTERVAL,default=1s" validate:"gt=0"`
}

var validate = validator.New()

// NewConfig returns a Config populated with default values only.
func NewConfig() Config {
	return Config{
		Port:                    DefaultPort,
		ReadBufferSize:          1024,
		WriteTimeout:            DefaultWriteTimeout,
		EvictOnWriteError:       true,
		ShutdownTimeout:         5 * time.Second,
		QuitToken:               "q",
		LogLevel:                "INFO",
		WebSocketAllowedOrigins: "http://localhost:8080",
		WebSocketMaxMessageSize: 4096,
		RateLimitInterval:       time.Second,
	}
}

// Addr returns the TCP bind address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RateLimit returns the per-connection rate limit settings.
func (c Config) RateLimit() RateLimitConfig {
	return RateLimitConfig{Burst: c.RateLimitBurst, Interval: c.RateLimitInterval}
}

// AllowedOrigins returns the configured WebSocket origins as a list.
func (c Config) AllowedOrigins() []string {
	return parseOrigins(c.WebSocketAllowedOrigins)
}

// Validate checks the configuration constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig builds the relay configuration from the environment and args.
// Args follow the form `[host] [-p port] [-ws addr] [-log-level lvl]`;
// the host may appear before or after the flags.
func LoadConfig(args []string, output io.Writer) (Config, error) {
	fs := flag.NewFlagSet("relaychat-server", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(output, "Launch the chat relay over TCP\n\n\trelaychat-server [host] [options]\n\nOptions:\n\n")
		fs.PrintDefaults()
	}

	var (
		port     int
		wsAddr   string
		logLevel string
		envFile  string
	)
	fs.IntVar(&port, "p", DefaultPort, "TCP port")
	fs.StringVar(&wsAddr, "ws", "", "WebSocket gateway listen address, disabled when empty")
	fs.StringVar(&logLevel, "log-level", "INFO", "Log level: DEBUG, INFO, WARN or ERROR")
	fs.StringVar(&envFile, "env-file", "", "Optional .env file loaded before reading the environment")

	host, err := parseArgs(fs, args)
	if err != nil {
		return Config{}, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg := NewConfig()
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}

	if host != "" {
		cfg.Host = host
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "p":
			cfg.Port = port
		case "ws":
			cfg.WebSocketAddr = wsAddr
		case "log-level":
			cfg.LogLevel = logLevel
		}
	})
	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseArgs parses flags on both sides of an optional positional host.
func parseArgs(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() == 0 {
		return "", nil
	}
	host := fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return "", err
	}
	if fs.NArg() > 0 {
		return "", errors.New("unexpected arguments: " + strings.Join(fs.Args(), " "))
	}
	return host, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
