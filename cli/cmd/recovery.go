package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Generate and use recovery material",
}

var recoveryGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new recovery mnemonic",
	Long: `Generates fresh recovery material and prints the mnemonic once.
Previously issued recovery material (mnemonic or shares) stops working.`,
	RunE: recoveryGenerate,
}

var recoverySharesCmd = &cobra.Command{
	Use:   "shares",
	Short: "Generate M-of-N social recovery shares",
	RunE:  recoveryShares,
}

var recoveryRestoreCmd = &cobra.Command{
	Use:   "restore <mnemonic words...>",
	Short: "Restore access from a recovery mnemonic",
	Long: `Unlocks the vault from the recovery mnemonic when the passphrase is lost,
then rotates to the passphrase currently configured. Grants and entries are
unaffected - the keypair does not change.`,
	Args: cobra.MinimumNArgs(1),
	RunE: recoveryRestore,
}

var recoveryRestoreSharesCmd = &cobra.Command{
	Use:   "restore-shares <share>...",
	Short: "Restore access from a quorum of social recovery shares",
	Args:  cobra.MinimumNArgs(2),
	RunE:  recoveryRestoreShares,
}

func init() {
	recoverySharesCmd.Flags().Int("parts", 5, "number of shares to issue")
	recoverySharesCmd.Flags().Int("threshold", 3, "shares required to restore")

	recoveryCmd.AddCommand(recoveryGenerateCmd)
	recoveryCmd.AddCommand(recoverySharesCmd)
	recoveryCmd.AddCommand(recoveryRestoreCmd)
	recoveryCmd.AddCommand(recoveryRestoreSharesCmd)
	rootCmd.AddCommand(recoveryCmd)
}

func recoveryGenerate(cmd *cobra.Command, args []string) error {
	if err := ensureUnlocked(); err != nil {
		return err
	}
	mnemonic, err := vault.GenerateRecovery()
	if err != nil {
		return err
	}
	fmt.Println("Recovery phrase (write this down, it is shown only once):")
	fmt.Printf("\n  %s\n", mnemonic)
	return nil
}

func recoveryShares(cmd *cobra.Command, args []string) error {
	if err := ensureUnlocked(); err != nil {
		return err
	}
	parts, _ := cmd.Flags().GetInt("parts")
	threshold, _ := cmd.Flags().GetInt("threshold")

	shares, err := vault.GenerateRecoveryShares(parts, threshold)
	if err != nil {
		return err
	}
	fmt.Printf("Issued %d shares, any %d restore access. Hand each to a different custodian:\n\n", parts, threshold)
	for i, share := range shares {
		fmt.Printf("  %d: %s\n", i+1, share)
	}
	return nil
}

func recoveryRestore(cmd *cobra.Command, args []string) error {
	mnemonic := ""
	for i, word := range args {
		if i > 0 {
			mnemonic += " "
		}
		mnemonic += word
	}

	if err := vault.RecoverWithMnemonic(mnemonic); err != nil {
		return err
	}
	fmt.Println("Access restored from recovery phrase.")

	// Bind the restored identity to the currently configured passphrase
	if err := vault.RotatePassphrase(passphrase); err != nil {
		return fmt.Errorf("restored, but failed to set the new passphrase: %w", err)
	}
	fmt.Println("Passphrase updated.")
	return nil
}

func recoveryRestoreShares(cmd *cobra.Command, args []string) error {
	if err := vault.RecoverWithShares(args); err != nil {
		return err
	}
	fmt.Println("Access restored from recovery shares.")

	if err := vault.RotatePassphrase(passphrase); err != nil {
		return fmt.Errorf("restored, but failed to set the new passphrase: %w", err)
	}
	fmt.Println("Passphrase updated.")
	return nil
}
