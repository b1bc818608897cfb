package main

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"steward/internal/hotp"
	"steward/internal/vault/blob"
	"steward/internal/vault/envelope"
)

var errInconsistent = errors.New("ledger stores are inconsistent")

func newHOTPCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "hotp", Short: "HOTP helpers"}

	var (
		secretHex string
		counter   uint64
		digits    int
	)
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Print the code for a secret and counter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := hex.DecodeString(secretHex)
			if err != nil {
				return fmt.Errorf("secret-hex: %w", err)
			}
			code, err := hotp.Generate(secret, counter, digits)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
	gen.Flags().StringVar(&secretHex, "secret-hex", "", "Credential secret, hex encoded")
	gen.Flags().Uint64Var(&counter, "counter", 0, "Counter value")
	gen.Flags().IntVar(&digits, "digits", hotp.DefaultDigits, "Code length")
	_ = gen.MarkFlagRequired("secret-hex")
	cmd.AddCommand(gen)
	return cmd
}

func newSaltCmd(load loader) *cobra.Command {
	var vaultPath string
	cmd := &cobra.Command{
		Use:   "salt",
		Short: "Create the per-vault salt before first open",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if vaultPath == "" {
				cfg, err := load()
				if err != nil {
					return err
				}
				vaultPath = cfg.Vault.Path
			}
			salt, err := envelope.NewSalt()
			if err != nil {
				return err
			}
			f := blob.NewFile(vaultPath)
			if err := f.InitSalt(cmd.Context(), salt); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "salt written to %s\n", f.SaltPath())
			return nil
		},
	}
	cmd.Flags().StringVar(&vaultPath, "vault-path", "", "Vault file path; defaults to vault.path from config")
	return cmd
}
