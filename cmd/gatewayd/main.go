package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "gatewayd",
		Short: "homiegw — local-first remote access gateway",
		Long:  "Exposes terminal sessions, an LLM chat façade, and presence/job/pairing/notification registries over a single multiplexed WebSocket.",
	}

	root.AddCommand(serveCmd())
	root.AddCommand(keygenCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(attachCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
