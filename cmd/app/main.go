package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/plotweave/internal"
	pkgconfig "github.com/starford/plotweave/pkg/config"
)

// loadConfig reads the config file named by --config, falling back to
// defaults plus PLOTWEAVE_* overrides when the file does not exist.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(configPath, "", cfg, pkgconfig.WithEnvPrefix(internal.EnvPrefix)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if f := cmd.String("log-format"); f != "" {
		cfg.App.LogFormat = f
		if err := cfg.App.Validate(); err != nil {
			return nil, fmt.Errorf("log format: %w", err)
		}
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "plotweave",
		Usage: "Knowledge-graph retrieval over a novel's chapters and settings",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Override app.log_format (json or console)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with the file watcher and ingestion queue",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio with the file watcher and ingestion queue",
				Action: serveMCP,
			},
			rebuildCommand(),
			queryCommand(),
			networkCommand(),
			traceCommand(),
			foreshadowsCommand(),
			statsCommand(),
			exportCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
