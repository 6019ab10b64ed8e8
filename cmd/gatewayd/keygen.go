package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/homiegw/internal/config"
	"github.com/ehrlich-b/homiegw/internal/crypto"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate and persist the identity-assertion signing key",
		Long:  "Generates an ECDSA P-256 key, writes it to gateway.yaml so `serve` can verify Mesh connections, and prints the public key for distribution to a trusted proxy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, encoded, err := crypto.GenerateECKey()
			if err != nil {
				return err
			}
			pub, err := crypto.MarshalECPublicKey(&key.PublicKey)
			if err != nil {
				return err
			}

			dir, err := config.GatewayConfigDir()
			if err != nil {
				return err
			}
			if err := config.SaveGatewayYAML(dir, &config.GatewayYAML{SigningKeyDER: encoded}); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "signing key written to %s/gateway.yaml\npublic key: %s\n", dir, pub)
			return nil
		},
	}
}
