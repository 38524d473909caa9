package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault status",
	Long:  "Display vault state, memory protection level and the active key fingerprint.",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("Entry Vault Status")
	fmt.Println("==================")
	fmt.Printf("User: %s\n", userID)
	fmt.Printf("State: %s\n", vault.State())
	fmt.Printf("Memory Protection: %s\n", vault.SecureMemoryProtection())

	if keyID := vault.KeyID(); keyID != "" {
		fmt.Printf("Key ID: %s\n", keyID)
	} else {
		fmt.Println("Key ID: (not initialized)")
	}

	entries, err := vault.ListEntries()
	if err != nil {
		fmt.Printf("Entries: ERROR - %v\n", err)
	} else {
		fmt.Printf("Entries: %d\n", len(entries))
	}

	grants, err := vault.ListGrants()
	if err != nil {
		fmt.Printf("Grants: ERROR - %v\n", err)
	} else {
		active := 0
		for _, g := range grants {
			if !g.Revoked {
				active++
			}
		}
		fmt.Printf("Grants: %d (active: %d)\n", len(grants), active)
	}
	return nil
}
