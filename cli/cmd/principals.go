package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	entryvault "github.com/john-matlock-eng/ai-lifestyle-app-sub007"
)

// fileDirectory is a PrincipalDirectory persisted to a JSON file so
// registered recipients survive across CLI invocations.
type fileDirectory struct {
	path string
	mem  *entryvault.InMemoryDirectory
	all  map[string]entryvault.Principal
}

func openFileDirectory(path string) (*fileDirectory, error) {
	d := &fileDirectory{
		path: path,
		mem:  entryvault.NewInMemoryDirectory(),
		all:  make(map[string]entryvault.Principal),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &d.all); err != nil {
		return nil, fmt.Errorf("corrupted principal directory %s: %w", path, err)
	}
	for _, p := range d.all {
		if err := d.mem.Register(p); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *fileDirectory) Lookup(id string) (*entryvault.Principal, error) {
	return d.mem.Lookup(id)
}

func (d *fileDirectory) Register(principal entryvault.Principal) error {
	if err := d.mem.Register(principal); err != nil {
		return err
	}
	d.all[principal.ID] = principal
	return d.save()
}

func (d *fileDirectory) save() error {
	data, err := json.MarshalIndent(d.all, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.path, data, 0600)
}

var principalCmd = &cobra.Command{
	Use:   "principal",
	Short: "Manage known principals (share recipients)",
}

var principalRegisterCmd = &cobra.Command{
	Use:   "register <id> <public-key-file>",
	Short: "Register a principal's public key",
	Long:  "Register another user (or analysis service) so entries can be shared with them. The public key file is PEM-encoded.",
	Args:  cobra.ExactArgs(2),
	RunE:  registerPrincipal,
}

var principalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered principals",
	RunE:  listPrincipals,
}

func init() {
	principalRegisterCmd.Flags().Bool("analysis-service", false, "register as an analysis service principal")
	principalCmd.AddCommand(principalRegisterCmd)
	principalCmd.AddCommand(principalListCmd)
	rootCmd.AddCommand(principalCmd)
}

func registerPrincipal(cmd *cobra.Command, args []string) error {
	publicKey, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read public key: %w", err)
	}

	kind := entryvault.PrincipalUser
	if isService, _ := cmd.Flags().GetBool("analysis-service"); isService {
		kind = entryvault.PrincipalAnalysisService
	}

	if err := directory.Register(entryvault.Principal{
		ID:        args[0],
		Kind:      kind,
		PublicKey: publicKey,
	}); err != nil {
		return err
	}
	fmt.Printf("Registered principal %s (%s)\n", args[0], kind)
	return nil
}

func listPrincipals(cmd *cobra.Command, args []string) error {
	ids := make([]string, 0, len(directory.all))
	for id := range directory.all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND")
	for _, id := range ids {
		p := directory.all[id]
		fmt.Fprintf(w, "%s\t%s\n", p.ID, p.Kind)
	}
	return w.Flush()
}
