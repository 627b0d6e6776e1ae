package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"floorlend/cmd/internal/passphrase"
	"floorlend/crypto"
)

const passphraseEnv = "FLOORD_KEY_PASSPHRASE"

func keygenCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "keygen <keystore-path>",
		Short: "Generate an account key and store it in an encrypted keystore file",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeygen,
	}
	c.Flags().String("passphrase-file", "", "file holding the keystore passphrase (default $"+passphraseEnv+")")
	c.Flags().Bool("lightkdf", false, "use light scrypt parameters")
	return c
}

func runKeygen(c *cobra.Command, args []string) error {
	file, _ := c.Flags().GetString("passphrase-file")
	secret, err := passphrase.NewSource(passphraseEnv).WithFile(file).Get()
	if err != nil {
		return err
	}
	if light, _ := c.Flags().GetBool("lightkdf"); light {
		crypto.UseLightKDF()
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveKey(args[0], key, secret); err != nil {
		return fmt.Errorf("save key: %w", err)
	}
	fmt.Fprintln(c.OutOrStdout(), crypto.EncodeAddress(key.Address()))
	return nil
}
