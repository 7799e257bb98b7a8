// Package game parses game command flags and composes the service entrypoint.
package game

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/oakline/venturesim/internal/platform/cmd"
	server "github.com/oakline/venturesim/internal/services/game/app"
)

// Config holds game command configuration.
type Config struct {
	HTTPAddr      string `env:"VENTURESIM_GAME_HTTP_ADDR"     envDefault:":8080"`
	StoragePath   string `env:"VENTURESIM_GAME_STORAGE_PATH"  envDefault:"game.db"`
	TokenIssuer   string `env:"VENTURESIM_TOKEN_ISSUER"       envDefault:"venturesim"`
	TokenAudience string `env:"VENTURESIM_TOKEN_AUDIENCE"     envDefault:"game"`
	TokenSecret   string `env:"VENTURESIM_TOKEN_SECRET"`
	GroupSize     int    `env:"VENTURESIM_GROUP_SIZE"         envDefault:"4"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "game HTTP listen address")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "SQLite database path")
	fs.StringVar(&cfg.TokenIssuer, "token-issuer", cfg.TokenIssuer, "access token issuer")
	fs.StringVar(&cfg.TokenAudience, "token-audience", cfg.TokenAudience, "access token audience")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "access token signing secret")
	fs.IntVar(&cfg.GroupSize, "group-size", cfg.GroupSize, "participants per auto-formed group")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the game app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGame, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:      cfg.HTTPAddr,
			StoragePath:   cfg.StoragePath,
			TokenIssuer:   cfg.TokenIssuer,
			TokenAudience: cfg.TokenAudience,
			TokenSecret:   cfg.TokenSecret,
			GroupSize:     cfg.GroupSize,
		}); err != nil {
			return fmt.Errorf("serve game: %w", err)
		}
		return nil
	})
}
