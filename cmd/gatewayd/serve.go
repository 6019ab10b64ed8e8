package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/homiegw/internal/config"
	"github.com/ehrlich-b/homiegw/internal/crypto"
	"github.com/ehrlich-b/homiegw/internal/gateway"
	"github.com/ehrlich-b/homiegw/internal/identity"
	"github.com/ehrlich-b/homiegw/internal/logger"
	"github.com/ehrlich-b/homiegw/internal/store"
)

// shutdownGrace is reported in the shutdown log line after a signal.
// serve does not wait for in-flight connections to drain: srv.Close
// closes the listener and returns, so no grace period is applied.
const shutdownGrace = 5 * time.Second

func serveCmd() *cobra.Command {
	var dsn string
	var logFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := config.GatewayConfigDir()
			if err != nil {
				return err
			}
			if err := logger.Init("info", logFile); err != nil {
				return err
			}
			cfg, err := config.LoadGatewayConfig(configDir)
			if err != nil {
				return err
			}

			if dsn == "" {
				dsn = configDir + "/gateway.db"
			}
			st, err := store.Open(dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			verify, err := loadVerifier(configDir)
			if err != nil {
				logger.Warn("no identity signing key found, mesh connections will be rejected", "error", err)
			}

			srv := gateway.New(cfg, st, verify)

			watcher, err := config.WatchGatewayConfig(configDir+"/settings.json", func(reloaded config.GatewayConfig) {
				cfg = reloaded
			})
			if err == nil {
				defer watcher.Close()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Run(ctx) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down", "grace", shutdownGrace)
			return srv.Close()
		},
	}

	cmd.Flags().StringVar(&dsn, "db", "", "sqlite DSN (default: <config dir>/gateway.db)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "additional log file path")
	return cmd
}

func loadVerifier(configDir string) (identity.VerifyFunc, error) {
	ycfg, err := config.LoadGatewayYAML(configDir)
	if err != nil {
		return nil, err
	}
	if ycfg.SigningKeyDER == "" {
		return nil, os.ErrNotExist
	}
	key, err := crypto.ParseECPrivateKeyDER(ycfg.SigningKeyDER)
	if err != nil {
		return nil, err
	}
	return identity.NewVerifier(&key.PublicKey), nil
}
