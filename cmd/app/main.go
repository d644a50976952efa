package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/quire/internal"
	pkgconfig "github.com/starford/quire/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// stdout carries the protocol.
	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithLogOutput(os.Stderr),
	}
	if err := internal.RunMCP(ctx, opts...); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}
	return nil
}

func tail(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if s := cmd.String("server"); s != "" {
		cfg.Client.ServerURL = s
	}
	if o := cmd.String("owner"); o != "" {
		cfg.Client.OwnerID = o
	}

	t := internal.TailOptions{
		DocumentID: cmd.String("document"),
		UserID:     cmd.String("user"),
	}
	if err := internal.RunTail(ctx, t, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("tail run error: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "quire",
		Usage:  "Real-time document sync server with live relay, presence and a durable change feed",
		Action: serve,
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
				Name:   "serve",
				Usage:  "Run the HTTP API, relay socket and change feed",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve document tools over MCP stdio",
				Action: mcp,
			},
			{
				Name:   "tail",
				Usage:  "Open a document as a headless client and log what it sees",
				Action: tail,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "document",
						Usage: "Document id to open",
					},
					&cli.StringFlag{
						Name:     "user",
						Usage:    "User id announced on the presence channel",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "server",
						Usage:   "Server base URL, overrides client.server_url",
						Sources: cli.EnvVars("QUIRE_SERVER_URL"),
					},
					&cli.StringFlag{
						Name:  "owner",
						Usage: "Owner id whose workspaces are hydrated",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
