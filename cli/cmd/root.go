package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	entryvault "github.com/john-matlock-eng/ai-lifestyle-app-sub007"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/audit"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/persist"
)

var (
	cfgFile      string
	vaultPath    string
	passphrase   string
	userID       string
	vault        *entryvault.Vault
	vaultOptions entryvault.Options
	auditLogger  audit.Logger
	directory    *fileDirectory
	cliContext   *CLIContext
)

type CLIContext struct {
	UserID    string
	SessionID string
	Source    string // hostname
	StartTime time.Time
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "entryvault",
	Short: "Client-side encrypted journal entries with selective sharing",
	Long: `A zero-knowledge vault for personal journal entries. Entries are encrypted
on this device under per-entry content keys; servers only ever hold ciphertext and
wrapped keys. Entries can be shared selectively with other users or with a
constrained analysis service, and access is recoverable via a mnemonic phrase or
social-recovery shares.`,
	PersistentPreRunE: initializeVault,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if vault != nil {
			return vault.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags - consistent with config file structure
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.entryvault.yaml)")
	rootCmd.PersistentFlags().StringVarP(&vaultPath, "vault-path", "p", "", "path to vault storage")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "vault passphrase (or use ENTRYVAULT_PASSPHRASE env var)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "user identifier")
	rootCmd.PersistentFlags().String("store-type", "", "storage backend type (file, s3)")
	rootCmd.PersistentFlags().String("store-config", "", "YAML store config file (overrides store flags)")

	bindFlagOrPanic("vault.path", "vault-path")
	bindFlagOrPanic("vault.passphrase", "passphrase")
	bindFlagOrPanic("vault.user", "user")
	bindFlagOrPanic("vault.store_type", "store-type")
	bindFlagOrPanic("vault.store_config", "store-config")

	// Local cache flags
	rootCmd.PersistentFlags().Bool("cache", false, "enable the local decrypted search cache")
	rootCmd.PersistentFlags().Duration("cache-ttl", 0, "decrypted cache TTL (default 1h)")
	rootCmd.PersistentFlags().Int64("cache-quota", 0, "decrypted cache quota in bytes (0 = no quota)")

	bindFlagOrPanic("cache.enabled", "cache")
	bindFlagOrPanic("cache.ttl", "cache-ttl")
	bindFlagOrPanic("cache.quota_bytes", "cache-quota")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")

	// S3 flags (for direct CLI usage)
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "Use SSL for S3 connections")

	bindFlagOrPanic("vault.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("vault.s3.region", "s3-region")
	bindFlagOrPanic("vault.s3.bucket", "s3-bucket")
	bindFlagOrPanic("vault.s3.prefix", "s3-prefix")
	bindFlagOrPanic("vault.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("vault.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("vault.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	bindFlag(rootCmd.PersistentFlags(), configKey, flagName)
}

func bindFlag(flags *pflag.FlagSet, configKey, flagName string) {
	if err := viper.BindPFlag(configKey, flags.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".entryvault")
	}

	viper.SetEnvPrefix("ENTRYVAULT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Config file not found is OK - defaults and env vars apply
	}
}

func setDefaults() {
	viper.SetDefault("vault.path", ".entryvault")
	viper.SetDefault("vault.user", "default")
	viper.SetDefault("vault.store_type", "file")

	viper.SetDefault("vault.s3.region", "us-east-1")
	viper.SetDefault("vault.s3.prefix", "entryvault/")
	viper.SetDefault("vault.s3.use_ssl", true)

	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.log_level", "info")
	viper.SetDefault("audit.options.file_path", "audit.log")

	viper.SetDefault("serve.addr", ":8700")
}

func initializeVault(cmd *cobra.Command, args []string) error {
	// Skip initialization for help and completion commands
	if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
		return nil
	}

	vaultPath = viper.GetString("vault.path")
	userID = viper.GetString("vault.user")

	if viper.GetString("audit.options.file_path") == "audit.log" {
		viper.Set("audit.options.file_path", filepath.Join(vaultPath, "audit.log"))
	}

	passphrase = viper.GetString("vault.passphrase")
	if passphrase == "" {
		passphrase = os.Getenv("ENTRYVAULT_PASSPHRASE")
	}
	if passphrase == "" {
		return fmt.Errorf("passphrase is required: use --passphrase or the ENTRYVAULT_PASSPHRASE environment variable")
	}

	if err := os.MkdirAll(vaultPath, 0700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	cliContext = &CLIContext{
		UserID:    userID,
		SessionID: generateSessionID(),
		Source:    getHostname(),
		StartTime: time.Now(),
	}

	var err error
	auditLogger, err = createAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	store, err := createStore(viper.GetString("vault.store_type"))
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	directory, err = openFileDirectory(filepath.Join(vaultPath, "principals.json"))
	if err != nil {
		return fmt.Errorf("failed to open principal directory: %w", err)
	}

	vaultOptions = entryvault.Options{
		DerivationPassphrase: passphrase,
		EnvPassphraseVar:     "ENTRYVAULT_PASSPHRASE",
		EnableMemoryLock:     true,
		UserID:               userID,
		CacheTTL:             viper.GetDuration("cache.ttl"),
		CacheQuotaBytes:      viper.GetInt64("cache.quota_bytes"),
	}

	vault, err = entryvault.NewWithStore(vaultOptions, store, auditLogger, directory)
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}
	return nil
}

func createAuditLogger() (audit.Logger, error) {
	return audit.NewLogger(&audit.Config{
		Enabled:  viper.GetBool("audit.enabled"),
		UserID:   userID,
		Type:     audit.ConfigType(viper.GetString("audit.type")),
		LogLevel: viper.GetString("audit.log_level"),
		Options: map[string]interface{}{
			"file_path": viper.GetString("audit.options.file_path"),
		},
	})
}

func createStore(storeType string) (persist.Store, error) {
	if configPath := viper.GetString("vault.store_config"); configPath != "" {
		config, err := persist.LoadStoreConfig(configPath)
		if err != nil {
			return nil, err
		}
		return persist.NewStore(config, userID)
	}

	switch storeType {
	case "", "file":
		return persist.NewFileSystemStore(vaultPath, userID)
	case "s3":
		return persist.NewS3Store(persist.S3Config{
			Endpoint:        viper.GetString("vault.s3.endpoint"),
			Region:          viper.GetString("vault.s3.region"),
			Bucket:          viper.GetString("vault.s3.bucket"),
			KeyPrefix:       viper.GetString("vault.s3.prefix"),
			AccessKeyID:     viper.GetString("vault.s3.access_key_id"),
			SecretAccessKey: viper.GetString("vault.s3.secret_access_key"),
			UseSSL:          viper.GetBool("vault.s3.use_ssl"),
		}, userID)
	default:
		return nil, fmt.Errorf("unknown store type %q (expected file or s3)", storeType)
	}
}
