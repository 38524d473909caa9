package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	entryvault "github.com/john-matlock-eng/ai-lifestyle-app-sub007"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sharing and analysis HTTP API",
	Long: `Exposes the share and analysis endpoints over HTTP. All routes require a
bearer token. Only ciphertext, wrapped keys and derived insight records cross
this surface.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8700)")
	serveCmd.Flags().String("token", "", "bearer token required on every request")
	serveCmd.Flags().String("service", "", "analysis service principal ID for shares created via the API")
	serveCmd.Flags().Bool("process-locally", false, "run the local analysis service against incoming shares")

	if err := viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("serve.token", serveCmd.Flags().Lookup("token")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := ensureUnlocked(); err != nil {
		return err
	}

	token := viper.GetString("serve.token")
	if token == "" {
		token = os.Getenv("ENTRYVAULT_API_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("an API token is required: use --token or ENTRYVAULT_API_TOKEN")
	}

	serviceID, _ := cmd.Flags().GetString("service")

	cfg := api.Config{
		Token:     token,
		ServiceID: serviceID,
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "api").Logger()

	var boundary entryvault.AnalysisBoundary
	if local, _ := cmd.Flags().GetBool("process-locally"); local && serviceID != "" {
		b, err := loadLocalService(serviceID)
		if err != nil {
			return err
		}
		boundary = b
	}

	server := api.NewServer(vault, boundary, cfg, logger)

	addr := viper.GetString("serve.addr")
	if addr == "" {
		addr = ":8700"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Printf("Serving on %s\n", addr)
	return httpServer.ListenAndServe()
}
