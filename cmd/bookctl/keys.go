package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"bookchain/crypto"
)

func keysCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage signing keys",
	}

	var (
		path      string
		importHex string
		force     bool
	)
	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Create an encrypted keystore file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := firstNonEmpty(path, a.keystore)
			if target == "" {
				return errors.New("--out or --keystore is required")
			}
			if _, err := os.Stat(target); err == nil && !force {
				return fmt.Errorf("keystore %s already exists; use --force to overwrite", target)
			}

			var (
				key *crypto.PrivateKey
				err error
			)
			if importHex != "" {
				key, err = crypto.PrivateKeyFromHex(importHex)
			} else {
				key, err = crypto.GeneratePrivateKey()
			}
			if err != nil {
				return err
			}
			secret, err := a.passphrase.Get()
			if err != nil {
				return err
			}
			if err := crypto.SaveToKeystore(target, key, secret); err != nil {
				return err
			}
			return a.print(struct {
				Address  common.Address `json:"address"`
				Keystore string         `json:"keystore"`
			}{key.Address(), target})
		},
	}
	newCmd.Flags().StringVarP(&path, "out", "o", "", "keystore file to write")
	newCmd.Flags().StringVar(&importHex, "import", "", "hex private key to import instead of generating one")
	newCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")

	cmd.AddCommand(newCmd)
	return cmd
}
