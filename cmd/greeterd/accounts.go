package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"greeterd/internal/wallet"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage keystore accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keystore accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ks, err := openKeystore()
		if err != nil {
			return err
		}
		def, hasDefault := cfg.DefaultAccount()
		for _, addr := range ks.Accounts() {
			marker := ""
			if hasDefault && addr == def {
				marker = "\t(default)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", addr.Hex(), marker)
		}
		return nil
	},
}

var accountsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create an account encrypted with the keystore passphrase",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ks, err := openKeystore()
		if err != nil {
			return err
		}
		addr, err := ks.CreateAccount()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), addr.Hex())
		return nil
	},
}

func openKeystore() (*wallet.Keystore, error) {
	return wallet.NewKeystore(cfg.KeyStore.Dir, os.Getenv(cfg.KeyStore.PassphraseEnv))
}

func init() {
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsNewCmd)
}
