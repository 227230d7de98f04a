package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kevin07696/processing-service/internal/config"
	"github.com/kevin07696/processing-service/pkg/crypto"
)

func keygenCmd() *cobra.Command {
	var (
		bits int
		put  string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the RSA key pair used to encrypt payment requisites",
		Long: `Generate an RSA key pair. The public key is printed for producers that
encrypt payment requisites. With --put the private key is stored in the
configured secret manager under the given path, which is what
PAYSYS_DECRYPT_KEY_PATH should point at.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.GenerateRSAKeyPair(bits)
			if err != nil {
				return err
			}

			if put != "" {
				cfg, err := config.LoadFromEnv()
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				logger := initLogger(cfg.Logger)
				defer func() { _ = logger.Sync() }()

				sm, err := openSecretManager(cmd.Context(), cfg.Secrets, logger)
				if err != nil {
					return fmt.Errorf("failed to create secret manager: %w", err)
				}
				version, err := sm.PutSecret(cmd.Context(), put, kp.PrivateKeyPEM, map[string]string{
					"fingerprint": kp.Fingerprint,
				})
				if err != nil {
					return fmt.Errorf("failed to store private key: %w", err)
				}
				logger.Info("Private key stored",
					zap.String("path", put),
					zap.String("version", version),
					zap.String("fingerprint", kp.Fingerprint),
				)
			} else {
				fmt.Fprint(cmd.OutOrStdout(), kp.PrivateKeyPEM)
			}

			fmt.Fprint(cmd.OutOrStdout(), kp.PublicKeyPEM)
			fmt.Fprintf(cmd.OutOrStdout(), "fingerprint: %s\n", kp.Fingerprint)
			return nil
		},
	}

	cmd.Flags().IntVar(&bits, "bits", crypto.DefaultKeyBits, "RSA modulus size")
	cmd.Flags().StringVar(&put, "put", "", "secret path to store the private key under")

	return cmd
}
