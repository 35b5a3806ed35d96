package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/embedmark/internal"
	pkgconfig "github.com/starford/embedmark/pkg/config"
)

var version = "dev"

func runMode(mode internal.Mode) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		configPath := cmd.String("config")

		cfg := internal.NewDefaultConfig()
		if err := pkgconfig.LoadWithDefaults(configPath, "", cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}

		opts := []internal.Option{
			internal.WithConfig(cfg),
			internal.WithMode(mode),
			internal.WithVersion(version),
		}

		if err := internal.Run(ctx, opts...); err != nil {
			return fmt.Errorf("app run error: %w", err)
		}

		return nil
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "embedmark",
		Usage:   "Static site builder that turns Markdown links into preview cards, players and wiki-links",
		Version: version,
		Action:  runMode(internal.ModeBuild),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "build",
				Usage:  "Build the site once and exit",
				Action: runMode(internal.ModeBuild),
			},
			{
				Name:   "serve",
				Usage:  "Build, then watch sources and serve the site and API",
				Action: runMode(internal.ModeServe),
			},
			{
				Name:   "mcp",
				Usage:  "Build, then serve MCP tools on stdio",
				Action: runMode(internal.ModeMCP),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
