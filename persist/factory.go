package persist

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadStoreConfig reads a StoreConfig from a YAML file.
func LoadStoreConfig(path string) (StoreConfig, error) {
	var config StoreConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read store config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse store config: %w", err)
	}
	if config.Type == "" {
		return config, fmt.Errorf("store config %s does not set a type", path)
	}
	return config, nil
}

// NewStore factory function to create storage backends
func NewStore(config StoreConfig, userID string) (Store, error) {
	switch config.Type {
	case StoreTypeFileSystem:
		basePath, ok := config.Config["base_path"].(string)
		if !ok {
			return nil, fmt.Errorf("filesystem storage requires 'base_path' in config")
		}
		return NewFileSystemStore(basePath, userID)

	case StoreTypeS3:
		return NewS3StoreFromConfig(config, userID)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// validateUserID validates the user ID for security
func validateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}

	// Basic validation to prevent path traversal and other issues
	if strings.Contains(userID, "..") ||
		strings.Contains(userID, "/") ||
		strings.Contains(userID, "\\") ||
		strings.Contains(userID, " ") {
		return fmt.Errorf("user ID contains invalid characters")
	}

	if len(userID) > 100 {
		return fmt.Errorf("user ID too long (max 100 characters)")
	}

	return nil
}

// validateRecordID keeps record IDs safe to embed in paths and object keys.
func validateRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("record ID cannot be empty")
	}
	if strings.Contains(id, "..") ||
		strings.ContainsAny(id, "/\\ \x00") {
		return fmt.Errorf("record ID contains invalid characters")
	}
	if len(id) > 200 {
		return fmt.Errorf("record ID too long (max 200 characters)")
	}
	return nil
}

func validateRecordKind(kind RecordKind) error {
	for _, known := range recordKinds {
		if kind == known {
			return nil
		}
	}
	return fmt.Errorf("unknown record kind: %s", kind)
}

func createSaltMetadata(userID string) map[string]string {
	return map[string]string{
		"vault-salt": "true",
		"data-type":  "salt",
		"user-id":    userID,
		"created-at": time.Now().UTC().Format(time.RFC3339),
	}
}
