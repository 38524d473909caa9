package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	entryvault "github.com/john-matlock-eng/ai-lifestyle-app-sub007"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Share entries with other principals",
}

var shareCreateCmd = &cobra.Command{
	Use:   "create <entry-id> <recipient-id>",
	Short: "Grant a recipient access to an entry",
	Long: `Wraps the entry's content key under the recipient's published public key and
stores a grant. The entry ciphertext itself is untouched. Sharing the same
entry with the same recipient again replaces the existing grant.`,
	Args: cobra.ExactArgs(2),
	RunE: createShare,
}

var shareRevokeCmd = &cobra.Command{
	Use:   "revoke <grant-id>",
	Short: "Revoke a grant",
	Long: `Marks the grant revoked so future fetches fail. Plaintext the recipient
already decrypted on their own device is beyond reach and stays with them.`,
	Args: cobra.ExactArgs(1),
	RunE: revokeShare,
}

var shareListCmd = &cobra.Command{
	Use:   "list",
	Short: "List grants you have created",
	RunE:  listShares,
}

func init() {
	shareCreateCmd.Flags().Bool("reshare", false, "allow the recipient to share onward")
	shareCreateCmd.Flags().Duration("expires-in", 0, "grant lifetime (e.g. 1h, 24h); 0 means no expiry")

	shareCmd.AddCommand(shareCreateCmd)
	shareCmd.AddCommand(shareRevokeCmd)
	shareCmd.AddCommand(shareListCmd)
	rootCmd.AddCommand(shareCmd)
}

func createShare(cmd *cobra.Command, args []string) error {
	if err := ensureUnlocked(); err != nil {
		return err
	}

	permissions := []entryvault.Permission{entryvault.PermissionRead}
	if reshare, _ := cmd.Flags().GetBool("reshare"); reshare {
		permissions = append(permissions, entryvault.PermissionReshare)
	}

	var expiresAt *time.Time
	if d, _ := cmd.Flags().GetDuration("expires-in"); d > 0 {
		t := time.Now().Add(d).UTC()
		expiresAt = &t
	}

	grant, err := vault.CreateShare(cmd.Context(), args[0], args[1], permissions, expiresAt)
	if err != nil {
		return err
	}
	fmt.Printf("Grant created: %s\n", grant.ID)
	if grant.ExpiresAt != nil {
		fmt.Printf("Expires: %s\n", grant.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func revokeShare(cmd *cobra.Command, args []string) error {
	if err := vault.RevokeShare(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Grant revoked: %s\n", args[0])
	return nil
}

func listShares(cmd *cobra.Command, args []string) error {
	grants, err := vault.ListGrants()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GRANT\tENTRY\tRECIPIENT\tPERMISSIONS\tEXPIRES\tREVOKED")
	for _, g := range grants {
		expires := "-"
		if g.ExpiresAt != nil {
			expires = g.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%t\n",
			g.ID, g.EntryID, g.RecipientID, g.Permissions, expires, g.Revoked)
	}
	return w.Flush()
}
