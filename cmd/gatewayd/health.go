package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/homiegw/internal/config"
)

func healthCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check whether a gateway is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				configDir, err := config.GatewayConfigDir()
				if err != nil {
					return err
				}
				cfg, err := config.LoadGatewayConfig(configDir)
				if err != nil {
					return err
				}
				addr = cfg.BindAddr
			}

			client := &http.Client{Timeout: 3 * time.Second}
			start := time.Now()
			resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
			if err != nil {
				return fmt.Errorf("gateway at %s is unreachable: %w", addr, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read health response: %w", err)
			}
			elapsed := time.Since(start)

			out := cmd.OutOrStdout()
			if string(body) != "ok" {
				fmt.Fprintf(out, "%s reported unhealthy (%s)\n", addr, elapsed)
				return fmt.Errorf("gateway unhealthy")
			}

			check := "ok"
			if isatty.IsTerminal(os.Stdout.Fd()) {
				check = "✓"
			}
			serverID := resp.Header.Get("X-Server-ID")
			fmt.Fprintf(out, "%s %s server_id=%s checked=%s round-trip=%s\n", check, addr, serverID, humanize.Time(start), elapsed)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "gateway bind address (default: from settings.json)")
	return cmd
}
