package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/allisson/relay/cmd/app/commands"
	"github.com/allisson/relay/internal/app"
	"github.com/allisson/relay/internal/config"
)

func getSystemCommands(version string) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "server",
			Usage: "Start the HTTP server",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    "with-worker",
					Aliases: []string{"w"},
					Value:   false,
					Usage:   "Also run the dispatch and reconcile loops in this process",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunServer(ctx, version, cmd.Bool("with-worker"))
			},
		},
		{
			Name:  "worker",
			Usage: "Run the dispatch and reconcile loops",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunWorker(ctx, version)
			},
		},
		{
			Name:  "migrate",
			Usage: "Run database migrations",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "steps",
					Value: 0,
					Usage: "Migrations to apply (negative rolls back, 0 applies all pending)",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				return commands.RunMigrations(
					container.Logger(),
					os.Stdout,
					cfg.DBDriver,
					cfg.DBConnectionString,
					int(cmd.Int("steps")),
				)
			},
		},
		{
			Name:  "hash-admin-token",
			Usage: "Hash an admin token for ADMIN_TOKEN_HASH",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "token",
					Aliases: []string{"t"},
					Usage:   "Admin token to hash (omit for interactive mode)",
				},
				&cli.StringFlag{
					Name:    "format",
					Aliases: []string{"f"},
					Value:   "text",
					Usage:   "Output format: 'text' or 'json'",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunHashAdminToken(commands.DefaultIO(), cmd.String("token"), cmd.String("format"))
			},
		},
	}
}
