package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Change the vault passphrase",
	Long: `Re-wraps the private key under a master key derived from a new passphrase
and a fresh salt. The keypair itself does not change, so entries and share
grants remain valid.`,
	RunE: rotatePassphrase,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Destroy the current identity",
	Long: `Discards the keypair entirely. Every entry and grant wrapped solely under it
becomes permanently unreadable, and recovery material stops working.`,
	RunE: resetIdentity,
}

func init() {
	rotateCmd.Flags().String("new-passphrase", "", "the new passphrase (required)")
	if err := rotateCmd.MarkFlagRequired("new-passphrase"); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(resetCmd)
}

func rotatePassphrase(cmd *cobra.Command, args []string) error {
	if err := ensureUnlocked(); err != nil {
		return err
	}
	newPassphrase, _ := cmd.Flags().GetString("new-passphrase")
	if err := vault.RotatePassphrase(newPassphrase); err != nil {
		return err
	}
	fmt.Println("Passphrase rotated. Existing shares and recovery material remain valid.")
	return nil
}

func resetIdentity(cmd *cobra.Command, args []string) error {
	fmt.Println("WARNING: this permanently destroys the keypair. Entries and grants")
	fmt.Println("wrapped solely under it become unreadable, and recovery material stops working.")
	if !confirm("Type y to destroy the identity") {
		fmt.Println("Aborted.")
		return nil
	}
	if err := vault.Reset(); err != nil {
		return err
	}
	fmt.Println("Identity destroyed. Run 'entryvault init' to start over.")
	return nil
}
