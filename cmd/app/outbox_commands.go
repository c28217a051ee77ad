package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/relay/cmd/app/commands"
	"github.com/allisson/relay/internal/app"
	"github.com/allisson/relay/internal/config"
)

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "text",
		Usage:   "Output format: 'text' or 'json'",
	}
}

func getOutboxCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "enqueue",
			Usage: "Record an outbox item for an integration",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "integration",
					Aliases:  []string{"i"},
					Required: true,
					Usage:    "Integration ID (e.g., resend)",
				},
				&cli.StringFlag{
					Name:     "operation",
					Aliases:  []string{"o"},
					Required: true,
					Usage:    "Operation name (e.g., send_email)",
				},
				&cli.StringFlag{
					Name:     "resource",
					Aliases:  []string{"r"},
					Required: true,
					Usage:    "Stable resource ID the side effect is about",
				},
				&cli.StringFlag{
					Name:     "payload",
					Aliases:  []string{"p"},
					Required: true,
					Usage:    "JSON payload",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				outboxUseCase, err := container.OutboxUseCase()
				if err != nil {
					return err
				}

				return commands.RunEnqueue(
					ctx,
					outboxUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("integration"),
					cmd.String("operation"),
					cmd.String("resource"),
					cmd.String("payload"),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "dispatch",
			Usage: "Dispatch one batch of due outbox items",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "batch-size",
					Aliases: []string{"b"},
					Value:   0,
					Usage:   "Maximum items to process (0 uses DISPATCH_BATCH_SIZE)",
				},
				&cli.StringFlag{
					Name:    "integration",
					Aliases: []string{"i"},
					Usage:   "Only dispatch items of this integration",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				dispatchUseCase, err := container.DispatchUseCase(ctx)
				if err != nil {
					return err
				}

				return commands.RunDispatch(
					ctx,
					dispatchUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					int(cmd.Int("batch-size")),
					cmd.String("integration"),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "reconcile",
			Usage: "Detect and repair drift with downstream systems",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "integration",
					Aliases: []string{"i"},
					Usage:   "Integration to reconcile (omit for every configured integration)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				reconcileUseCase, err := container.ReconcileUseCase(ctx)
				if err != nil {
					return err
				}

				return commands.RunReconcile(
					ctx,
					reconcileUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("integration"),
					cmd.String("format"),
				)
			},
		},
	}
}
