// Package relay parses relay command flags and composes transport entrypoints.
package relay

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/relay.chat/internal/platform/cmd"
	server "github.com/louisbranch/relay.chat/internal/services/relay/app"
)

// Config holds relay command configuration.
type Config struct {
	HTTPAddr        string        `env:"RELAY_CHAT_HTTP_ADDR"         envDefault:":8086"`
	HelloTimeout    time.Duration `env:"RELAY_CHAT_HELLO_TIMEOUT"     envDefault:"5s"`
	MaxMessageRunes int           `env:"RELAY_CHAT_MAX_MESSAGE_RUNES" envDefault:"2000"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "relay HTTP listen address")
	fs.DurationVar(&cfg.HelloTimeout, "hello-timeout", cfg.HelloTimeout, "how long a connection may stay unregistered")
	fs.IntVar(&cfg.MaxMessageRunes, "max-message-runes", cfg.MaxMessageRunes, "maximum chat message length in runes")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the relay app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRelay, func(context.Context) error {
		return server.Run(ctx, server.Config{
			HTTPAddr:        cfg.HTTPAddr,
			HelloTimeout:    cfg.HelloTimeout,
			MaxMessageRunes: cfg.MaxMessageRunes,
		})
	})
}
