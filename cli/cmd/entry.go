package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	entryvault "github.com/john-matlock-eng/ai-lifestyle-app-sub007"
)

var entryCmd = &cobra.Command{
	Use:   "entry",
	Short: "Create, read and manage encrypted entries",
}

var entryCreateCmd = &cobra.Command{
	Use:   "create [body...]",
	Short: "Encrypt and store a new entry",
	Long:  "Encrypts a new entry under a fresh content key. The body is taken from arguments or stdin.",
	RunE:  createEntry,
}

var entryReadCmd = &cobra.Command{
	Use:   "read <entry-id>",
	Short: "Decrypt and print an entry",
	Args:  cobra.ExactArgs(1),
	RunE:  readEntry,
}

var entryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored entries (metadata only, no decryption)",
	RunE:  listEntries,
}

var entryUpdateCmd = &cobra.Command{
	Use:   "update <entry-id> [body...]",
	Short: "Re-encrypt an entry with a new body",
	Args:  cobra.MinimumNArgs(1),
	RunE:  updateEntry,
}

var entryDeleteCmd = &cobra.Command{
	Use:   "delete <entry-id>",
	Short: "Delete an entry and all grants that reference it",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteEntry,
}

func init() {
	entryCreateCmd.Flags().StringSlice("tag", nil, "cleartext tag (repeatable)")
	entryCreateCmd.Flags().String("mood", "", "cleartext mood marker")
	entryUpdateCmd.Flags().StringSlice("tag", nil, "cleartext tag (repeatable)")
	entryUpdateCmd.Flags().String("mood", "", "cleartext mood marker")

	entryCmd.AddCommand(entryCreateCmd)
	entryCmd.AddCommand(entryReadCmd)
	entryCmd.AddCommand(entryListCmd)
	entryCmd.AddCommand(entryUpdateCmd)
	entryCmd.AddCommand(entryDeleteCmd)
	rootCmd.AddCommand(entryCmd)
}

func entryMetadataFromFlags(cmd *cobra.Command) entryvault.EntryMetadata {
	tags, _ := cmd.Flags().GetStringSlice("tag")
	mood, _ := cmd.Flags().GetString("mood")
	return entryvault.EntryMetadata{Tags: tags, Mood: mood}
}

func createEntry(cmd *cobra.Command, args []string) error {
	if err := ensureUnlocked(); err != nil {
		return err
	}
	body, err := readBody(args)
	if err != nil {
		return err
	}

	entry, err := vault.EncryptEntry(cmd.Context(), body, entryMetadataFromFlags(cmd))
	if err != nil {
		return err
	}
	fmt.Printf("Entry created: %s\n", entry.ID)
	return nil
}

func readEntry(cmd *cobra.Command, args []string) error {
	if err := ensureUnlocked(); err != nil {
		return err
	}
	plaintext, err := vault.DecryptEntry(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Println(plaintext.Body)
	return nil
}

func listEntries(cmd *cobra.Command, args []string) error {
	entries, err := vault.ListEntries()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tSIZE\tMOOD\tTAGS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%v\n",
			e.ID, e.UpdatedAt.Format("2006-01-02 15:04"), e.Metadata.Size, e.Metadata.Mood, e.Metadata.Tags)
	}
	return w.Flush()
}

func updateEntry(cmd *cobra.Command, args []string) error {
	if err := ensureUnlocked(); err != nil {
		return err
	}
	body, err := readBody(args[1:])
	if err != nil {
		return err
	}

	entry, err := vault.UpdateEntry(cmd.Context(), args[0], body, entryMetadataFromFlags(cmd))
	if err != nil {
		return err
	}
	fmt.Printf("Entry updated: %s (version %d)\n", entry.ID, entry.Version)
	return nil
}

func deleteEntry(cmd *cobra.Command, args []string) error {
	if !confirm(fmt.Sprintf("Delete entry %s and its grants?", args[0])) {
		fmt.Println("Aborted.")
		return nil
	}
	if err := vault.DeleteEntry(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Entry deleted: %s\n", args[0])
	return nil
}
