package client

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

// DefaultPort is the relay port used unless told otherwise.
const DefaultPort = 1060

// Config holds the client settings.
type Config struct {
	Host     string `env:"CHAT_HOST,default=localhost" validate:"required"`
	Port     int    `env:"CHAT_PORT,default=1060" validate:"min=1,max=65535"`
	Name     string `env:"CHAT_NAME"`
	LogLevel string `env:"LOG_LEVEL,default=WARN" validate:"oneof=DEBUG INFO WARN ERROR"`
}

var validate = validator.New()

// Addr returns the relay address to dial.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoadConfig builds the client configuration from the environment and
// args of the form `[host] [-p port] [-name name]`.
func LoadConfig(args []string, output io.Writer) (Config, error) {
	fs := flag.NewFlagSet("relaychat-client", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(output, "Join a relaychat server\n\n\trelaychat-client [host] [options]\n\nOptions:\n\n")
		fs.PrintDefaults()
	}

	var (
		port     int
		name     string
		logLevel string
	)
	fs.IntVar(&port, "p", DefaultPort, "TCP port")
	fs.StringVar(&name, "name", "", "Display name, prompted for when empty")
	fs.StringVar(&logLevel, "log-level", "WARN", "Log level: DEBUG, INFO, WARN or ERROR")

	host, err := parseArgs(fs, args)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{Host: "localhost", Port: DefaultPort, LogLevel: "WARN"}
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
		case "name":
			cfg.Name = name
		case "log-level":
			cfg.LogLevel = logLevel
		}
	})
	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)
	cfg.Name = strings.TrimSpace(cfg.Name)

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

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
