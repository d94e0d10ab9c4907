// userhub is the user-management backend: HTTP API, Redis cache and
// lock layer, GORM persistence and a pluggable event bus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/userforge/userhub/internal/app"
	"github.com/userforge/userhub/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:           "userhub",
		Short:         "User management backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), initDBCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "userhub:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var trace bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if trace {
				exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
				if err != nil {
					return err
				}
				tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
				defer func() { _ = tp.Shutdown(context.Background()) }()
				otel.SetTracerProvider(tp)
			}

			a := app.New(cfg)
			if err := a.Init(ctx); err != nil {
				return err
			}
			if err := a.Migrate(); err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "export traces to stdout")
	return cmd
}

func initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a := app.New(cfg)
			if err := a.Init(cmd.Context()); err != nil {
				return err
			}
			defer func() { _ = a.Shutdown(context.Background()) }()
			if err := a.Migrate(); err != nil {
				return err
			}
			fmt.Println("database schema up to date")
			return nil
		},
	}
}
