package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export and import passphrase-encrypted vault backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a backup of salt, identity, entries and grants",
	RunE:  backupCreate,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Restore the vault from a backup",
	Args:  cobra.ExactArgs(1),
	RunE:  backupRestore,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored backups",
	RunE:  backupList,
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <backup-id>",
	Short: "Delete a stored backup",
	Args:  cobra.ExactArgs(1),
	RunE:  backupDelete,
}

func init() {
	backupCreateCmd.Flags().String("backup-passphrase", "", "passphrase protecting the backup container (defaults to the vault passphrase)")
	backupRestoreCmd.Flags().String("backup-passphrase", "", "passphrase the backup was created with (defaults to the vault passphrase)")

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupDeleteCmd)
	rootCmd.AddCommand(backupCmd)
}

func backupPassphraseFlag(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("backup-passphrase")
	if p == "" {
		p = passphrase
	}
	return p
}

func backupCreate(cmd *cobra.Command, args []string) error {
	backupID, err := vault.CreateBackup(cmd.Context(), backupPassphraseFlag(cmd))
	if err != nil {
		return err
	}
	fmt.Printf("Backup created: %s\n", backupID)
	return nil
}

func backupRestore(cmd *cobra.Command, args []string) error {
	if !confirm("Restoring replaces the current vault contents. Continue?") {
		fmt.Println("Aborted.")
		return nil
	}
	if err := vault.RestoreBackup(cmd.Context(), args[0], backupPassphraseFlag(cmd)); err != nil {
		return err
	}
	fmt.Println("Backup restored. The vault is locked; unlock with the passphrase that was active when the backup was taken.")
	return nil
}

func backupList(cmd *cobra.Command, args []string) error {
	backups, err := vault.ListBackups()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSIZE\tVALID")
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", b.BackupID, b.BackupTimestamp.Format(time.RFC3339), b.FileSize, b.IsValid)
	}
	return w.Flush()
}

func backupDelete(cmd *cobra.Command, args []string) error {
	if err := vault.DeleteBackup(args[0]); err != nil {
		return err
	}
	fmt.Printf("Backup deleted: %s\n", args[0])
	return nil
}
