package cmd

import (
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	entryvault "github.com/john-matlock-eng/ai-lifestyle-app-sub007"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/crypto"
)

var analysisCmd = &cobra.Command{
	Use:   "analysis",
	Short: "Share entries with the analysis service and fetch results",
}

var analysisShareCmd = &cobra.Command{
	Use:   "share <entry-id>...",
	Short: "Create an analysis share for a set of entries",
	Long: `Wraps the selected entries' content keys for the analysis service. The
service decrypts in memory only and persists nothing but the derived result;
an ephemeral share loses its wrapped keys the moment processing completes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: createAnalysisShare,
}

var analysisStatusCmd = &cobra.Command{
	Use:   "status <share-id>",
	Short: "Show an analysis share's status",
	Args:  cobra.ExactArgs(1),
	RunE:  analysisStatus,
}

var analysisResultCmd = &cobra.Command{
	Use:   "result <result-id>",
	Short: "Print an analysis result",
	Args:  cobra.ExactArgs(1),
	RunE:  analysisResult,
}

var analysisDeleteCmd = &cobra.Command{
	Use:   "delete <share-id>",
	Short: "Delete an analysis share and its retained derived data",
	Args:  cobra.ExactArgs(1),
	RunE:  analysisDelete,
}

var analysisRunCmd = &cobra.Command{
	Use:   "run <share-id>",
	Short: "Process a pending share with the local analysis service",
	Long:  "Runs the locally registered analysis service against a pending share. Mainly for single-machine setups and demos; in production the service runs behind the analysis endpoints.",
	Args:  cobra.ExactArgs(1),
	RunE:  analysisRun,
}

var analysisServiceInitCmd = &cobra.Command{
	Use:   "service-init <service-id>",
	Short: "Create and register a local analysis service identity",
	Args:  cobra.ExactArgs(1),
	RunE:  analysisServiceInit,
}

func init() {
	analysisShareCmd.Flags().String("type", "mood", "analysis type tag")
	analysisShareCmd.Flags().String("retention", "ephemeral", "retention policy (ephemeral, bounded-duration)")
	analysisShareCmd.Flags().String("service", "", "analysis service principal ID")

	analysisRunCmd.Flags().String("service", "", "analysis service principal ID")

	analysisCmd.AddCommand(analysisShareCmd)
	analysisCmd.AddCommand(analysisStatusCmd)
	analysisCmd.AddCommand(analysisResultCmd)
	analysisCmd.AddCommand(analysisDeleteCmd)
	analysisCmd.AddCommand(analysisRunCmd)
	analysisCmd.AddCommand(analysisServiceInitCmd)
	rootCmd.AddCommand(analysisCmd)
}

func createAnalysisShare(cmd *cobra.Command, args []string) error {
	if err := ensureUnlocked(); err != nil {
		return err
	}

	analysisType, _ := cmd.Flags().GetString("type")
	retention, _ := cmd.Flags().GetString("retention")
	serviceID, _ := cmd.Flags().GetString("service")
	if serviceID == "" {
		return fmt.Errorf("--service is required (see 'analysis service-init')")
	}

	share, err := vault.CreateAnalysisShare(cmd.Context(), args, analysisType,
		entryvault.RetentionPolicy(retention), serviceID)
	if err != nil {
		return err
	}
	fmt.Printf("Analysis share created: %s (status: %s)\n", share.ID, share.Status)
	if share.ExpiresAt != nil {
		fmt.Printf("Expires: %s\n", share.ExpiresAt)
	}
	return nil
}

func analysisStatus(cmd *cobra.Command, args []string) error {
	share, err := vault.GetAnalysisShare(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Share: %s\n", share.ID)
	fmt.Printf("Status: %s (progress %.0f%%)\n", share.Status, share.Progress)
	fmt.Printf("Type: %s, Retention: %s\n", share.Type, share.Retention)
	if share.ResultID != "" {
		fmt.Printf("Result: %s\n", share.ResultID)
	}
	if share.Error != "" {
		fmt.Printf("Error: %s\n", share.Error)
	}
	return nil
}

func analysisResult(cmd *cobra.Command, args []string) error {
	result, err := vault.GetAnalysisResult(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Result: %s (type %s, confidence %.2f)\n", result.ID, result.Type, result.Confidence)
	fmt.Printf("\n%s\n", result.Summary)
	for _, f := range result.Findings {
		fmt.Printf("- %s\n", f)
	}
	for _, r := range result.Recommendations {
		fmt.Printf("* %s\n", r)
	}
	return nil
}

func analysisDelete(cmd *cobra.Command, args []string) error {
	if err := vault.DeleteAnalysisShare(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Analysis share deleted: %s\n", args[0])
	return nil
}

func analysisRun(cmd *cobra.Command, args []string) error {
	serviceID, _ := cmd.Flags().GetString("service")
	if serviceID == "" {
		return fmt.Errorf("--service is required")
	}

	boundary, err := loadLocalService(serviceID)
	if err != nil {
		return err
	}

	result, err := vault.RunAnalysis(cmd.Context(), args[0], boundary)
	if err != nil {
		return err
	}
	fmt.Printf("Analysis completed: result %s\n", result.ID)
	return nil
}

func analysisServiceInit(cmd *cobra.Command, args []string) error {
	serviceID := args[0]

	// The private key stays on disk (0600) so 'analysis run' can process
	// shares on this machine; production services keep theirs behind the
	// analysis endpoints instead
	provider := crypto.NewProvider()
	privateDER, publicDER, err := provider.GenerateKeyPair()
	if err != nil {
		return err
	}
	keyPath := serviceKeyPath(serviceID)
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: privateDER}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		return fmt.Errorf("failed to store service key: %w", err)
	}
	if err := directory.Register(entryvault.Principal{
		ID:        serviceID,
		Kind:      entryvault.PrincipalAnalysisService,
		PublicKey: crypto.EncodePublicKeyPEM(publicDER),
	}); err != nil {
		return err
	}

	fmt.Printf("Analysis service %s registered; key stored at %s\n", serviceID, keyPath)
	return nil
}

func serviceKeyPath(serviceID string) string {
	return filepath.Join(vaultPath, fmt.Sprintf("service-%s.key", serviceID))
}

func loadLocalService(serviceID string) (entryvault.AnalysisBoundary, error) {
	keyPEM, err := os.ReadFile(serviceKeyPath(serviceID))
	if err != nil {
		return nil, fmt.Errorf("no local key for service %s: %w", serviceID, err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("corrupted service key for %s", serviceID)
	}
	return entryvault.NewInsightProcessorFromKey(serviceID, block.Bytes, entryvault.MoodInsights), nil
}
