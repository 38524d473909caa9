package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create this user's encryption identity",
	Long: `First-time setup: derives the master key from the passphrase, generates the
personal keypair and stores only the wrapped private key plus the public key.
Prints recovery material exactly once - store it somewhere safe; without the
passphrase or the recovery material, entries are unrecoverable by design.`,
	RunE: runInit,
}

var generatePassphraseCmd = &cobra.Command{
	Use:   "generate-passphrase",
	Short: "Generate a strong random passphrase",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := generatePassphrase()
		if err != nil {
			return err
		}
		fmt.Println(p)
		return nil
	},
}

func init() {
	initCmd.Flags().Bool("no-recovery", false, "skip recovery mnemonic generation")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(generatePassphraseCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := vault.Initialize(); err != nil {
		return err
	}
	fmt.Printf("Identity created for user %s\n", userID)
	fmt.Printf("Key ID: %s\n", vault.KeyID())

	if skip, _ := cmd.Flags().GetBool("no-recovery"); !skip {
		mnemonic, err := vault.GenerateRecovery()
		if err != nil {
			return fmt.Errorf("identity created but recovery generation failed: %w", err)
		}
		fmt.Println("\nRecovery phrase (write this down, it is shown only once):")
		fmt.Printf("\n  %s\n\n", mnemonic)
	}

	fmt.Println("Public key (share with people who should be able to share entries with you):")
	fmt.Printf("%s", vault.PublicKeyPEM())
	return nil
}
