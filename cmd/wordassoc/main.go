package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"wordassoc/internal/app"
	"wordassoc/internal/config"
)

func newCmd(cfg *config.Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("WORDASSOC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "wordassoc",
		Short:         "A real-time classroom word-association quiz server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", cfg.Bind, "address to bind to (env: WORDASSOC_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to listen on (env: WORDASSOC_PORT)")
	fs.StringVar(&cfg.DatabasePath, "database", cfg.DatabasePath, "path to the sqlite database (env: WORDASSOC_DATABASE)")
	fs.StringVar(&cfg.AdminPassword, "admin-password", "", "password for the admin dashboard (env: WORDASSOC_ADMIN_PASSWORD)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "externally reachable base URL for join links (env: WORDASSOC_PUBLIC_URL)")
	fs.IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "API requests allowed per client per minute (env: WORDASSOC_RATE_LIMIT)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: WORDASSOC_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	application, err := app.NewApplication(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := application.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return application.Stop(shutdownCtx)
}

func main() {
	cfg := config.Default()

	if err := newCmd(cfg).Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
