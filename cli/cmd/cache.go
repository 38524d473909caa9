package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/localstore"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the local entry mirror and decrypted search cache",
	Long: `The local store mirrors server-held encrypted entries on this device and
optionally keeps a decrypted projection for search. The projection is derived,
rebuildable and evictable; the canonical ciphertext is never touched by cache
operations. Enable the projection with --cache; its TTL and quota come from
--cache-ttl and --cache-quota.`,
}

var cacheSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror server-held entries into the local store",
	RunE:  cacheSync,
}

var cacheRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Decrypt every mirrored entry into the search cache",
	RunE:  cacheRebuild,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the decrypted projection",
	RunE:  cacheClear,
}

var cacheSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search mirrored entries",
	Long: `With the decrypted cache enabled, --query matches entry bodies; tag, mood
and date filters match cleartext metadata and work either way.`,
	RunE: cacheSearch,
}

func init() {
	cacheSearchCmd.Flags().StringP("query", "q", "", "free-text query (needs the decrypted cache)")
	cacheSearchCmd.Flags().StringSlice("tag", nil, "required tag (repeatable)")
	cacheSearchCmd.Flags().String("mood", "", "mood marker")

	cacheCmd.AddCommand(cacheSyncCmd)
	cacheCmd.AddCommand(cacheRebuildCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheSearchCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openLocalStore() (*localstore.LocalStore, error) {
	cfg := localstore.ConfigFromOptions(
		filepath.Join(vaultPath, "localstore"),
		viper.GetBool("cache.enabled"),
		vaultOptions,
	)
	return localstore.Open(cfg)
}

func cacheSync(cmd *cobra.Command, args []string) error {
	local, err := openLocalStore()
	if err != nil {
		return err
	}
	defer local.Close()

	entries, err := vault.ListEntries()
	if err != nil {
		return err
	}
	merged, err := local.Sync(entries)
	if err != nil {
		return err
	}
	fmt.Printf("Synced %d of %d entries (dirty local edits kept)\n", merged, len(entries))
	return nil
}

func cacheRebuild(cmd *cobra.Command, args []string) error {
	if err := ensureUnlocked(); err != nil {
		return err
	}
	local, err := openLocalStore()
	if err != nil {
		return err
	}
	defer local.Close()

	cached, skipped, err := local.RebuildCache(cmd.Context(), vault)
	if err != nil {
		return err
	}
	fmt.Printf("Cache rebuilt: %d entries cached, %d skipped\n", cached, skipped)
	return nil
}

func cacheClear(cmd *cobra.Command, args []string) error {
	local, err := openLocalStore()
	if err != nil {
		return err
	}
	defer local.Close()

	if err := local.ClearCache(); err != nil {
		return err
	}
	fmt.Println("Decrypted cache cleared; mirrored ciphertext untouched.")
	return nil
}

func cacheSearch(cmd *cobra.Command, args []string) error {
	local, err := openLocalStore()
	if err != nil {
		return err
	}
	defer local.Close()

	query, _ := cmd.Flags().GetString("query")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	mood, _ := cmd.Flags().GetString("mood")

	matches, err := local.Search(localstore.SearchFilters{
		Query: query,
		Tags:  tags,
		Mood:  mood,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMOOD\tTAGS\tBODY")
	for _, m := range matches {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", m.EntryID, m.Mood, m.Tags, truncate(m.Body, 60))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
