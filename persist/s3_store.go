package persist

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/crypto"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/debug"
)

const (
	ctxTimeout = 10 * time.Second
)

// S3Store implements the Store interface against any S3-compatible object
// store (MinIO client). Because every object it holds is either ciphertext,
// a wrapped key or public material, the bucket operator learns nothing about
// entry content.
//
// Object structure (per user):
//
//	bucketName/
//	├── [keyPrefix/]user1/
//	│   ├── vault.config        # store configuration
//	│   ├── identity.json       # sealed private key + public key
//	│   ├── vault.salt          # key derivation salt
//	│   ├── entries/<id>.json   # encrypted entries
//	│   ├── grants/<id>.json
//	│   ├── analysis-shares/<id>.json
//	│   ├── analysis-results/<id>.json
//	│   └── backups/*.vault
//	└── [keyPrefix/]user2/
//	    └── ...
type S3Store struct {
	// client is the MinIO client used to interact with the object store.
	client *minio.Client

	// bucketName is the bucket used to store user data and backups.
	bucketName string

	// keyPrefix is an optional namespace prefix within the bucket.
	keyPrefix string

	// userID is the user this store instance is bound to.
	userID string
}

// NewS3Store initializes a new S3Store, connects to the endpoint and ensures
// the bucket exists. An empty userID defaults to "default".
func NewS3Store(config S3Config, userID string) (*S3Store, error) {
	if userID == "" {
		userID = "default"
	}

	if err := validateUserID(userID); err != nil {
		return nil, fmt.Errorf("invalid user ID: %w", err)
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &S3Store{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  config.KeyPrefix,
		userID:     userID,
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err = store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	if err = store.initializeVaultConfig(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize vault config: %w", err)
	}

	return store, nil
}

// NewS3StoreFromConfig initializes a new S3Store instance from the given StoreConfig.
func NewS3StoreFromConfig(config StoreConfig, userID string) (*S3Store, error) {
	if config.Type != StoreTypeS3 {
		return nil, fmt.Errorf("invalid store type for S3: %s", config.Type)
	}

	configBytes, err := json.Marshal(config.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var s3Config S3Config
	if err = json.Unmarshal(configBytes, &s3Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal S3 config: %w", err)
	}

	return NewS3Store(s3Config, userID)
}

// S3Config contains the configuration required to connect to S3 (MinIO).
type S3Config struct {
	Endpoint        string // The endpoint for the S3 service.
	AccessKeyID     string // The Access Key ID for accessing the S3 service.
	SecretAccessKey string // The Secret Access Key for accessing the S3 service.
	Bucket          string // The bucket to use.
	KeyPrefix       string // The prefix for keys stored in the bucket.
	UseSSL          bool   // Whether to use SSL for the connection.
	Region          string // The region of the bucket.
}

func (s3s *S3Store) initializeVaultConfig(ctx context.Context) error {
	objectName := s3s.buildUserPath("vault.config")

	_, err := s3s.client.StatObject(ctx, s3s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if minioErr := minio.ToErrorResponse(err); minioErr.Code == "NoSuchKey" {
			config := VaultConfig{
				Version:    "1.0.0",
				UserID:     s3s.userID,
				CreatedAt:  time.Now().UTC(),
				LastAccess: time.Now().UTC(),
				Structure:  "v1", // Structure version for migrations
			}

			data, err := json.MarshalIndent(config, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal vault config: %w", err)
			}

			_, err = s3s.client.PutObject(
				ctx,
				s3s.bucketName,
				objectName,
				bytes.NewReader(data),
				int64(len(data)),
				minio.PutObjectOptions{
					ContentType: "application/json",
					UserMetadata: map[string]string{
						"vault-config":      "true",
						"data-type":         "vault-config",
						"user-id":           s3s.userID,
						"version":           config.Version,
						"structure-version": config.Structure,
						"created-at":        config.CreatedAt.Format(time.RFC3339),
					},
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create vault config: %w", err)
			}
		} else {
			return fmt.Errorf("failed to check vault config: %w", err)
		}
	}

	return nil
}

// ListUsers returns all user IDs that have vaults in the bucket
func (s3s *S3Store) ListUsers() ([]string, error) {
	basePrefix := s3s.keyPrefix
	if basePrefix != "" && !strings.HasSuffix(basePrefix, "/") {
		basePrefix = basePrefix + "/"
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	objectCh := s3s.client.ListObjects(ctx, s3s.bucketName, minio.ListObjectsOptions{
		Prefix:    basePrefix,
		Recursive: true,
	})

	userSet := make(map[string]bool)
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}

		if strings.HasSuffix(object.Key, "/") {
			continue
		}

		relativePath := strings.TrimPrefix(object.Key, basePrefix)
		parts := strings.Split(relativePath, "/")
		if len(parts) > 0 && parts[0] != "" {
			userSet[parts[0]] = true
		}
	}

	var users []string
	for user := range userSet {
		users = append(users, user)
	}
	sort.Strings(users)

	return users, nil
}

// DeleteUser removes all data for a user (USE WITH EXTREME CAUTION)
func (s3s *S3Store) DeleteUser(userID string) error {
	if err := validateUserID(userID); err != nil {
		return fmt.Errorf("invalid user ID: %w", err)
	}

	if userID == s3s.userID {
		return fmt.Errorf("cannot delete current user")
	}

	userPrefix := s3s.buildUserPathForUser(userID) + "/"

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	objectCh := s3s.client.ListObjects(ctx, s3s.bucketName, minio.ListObjectsOptions{
		Prefix:    userPrefix,
		Recursive: true,
	})

	var objectNames []string
	for object := range objectCh {
		if object.Err != nil {
			return fmt.Errorf("failed to list user objects: %w", object.Err)
		}
		objectNames = append(objectNames, object.Key)
	}

	if len(objectNames) == 0 {
		return fmt.Errorf("user %s not found or has no data", userID)
	}

	for _, objectName := range objectNames {
		err := s3s.client.RemoveObject(ctx, s3s.bucketName, objectName, minio.RemoveObjectOptions{})
		if err != nil {
			// Don't fail if object was already deleted
			if minioErr := minio.ToErrorResponse(err); minioErr.Code != "NoSuchKey" {
				return fmt.Errorf("failed to delete object %s: %w", objectName, err)
			}
		}
	}

	return nil
}

// Identity operations

func (s3s *S3Store) SaveIdentity(identityData []byte, expectedVersion string) (string, error) {
	if identityData == nil {
		return "", fmt.Errorf("identity data cannot be nil")
	}
	return s3s.saveObject(s3s.getIdentityObjectName(), identityData, expectedVersion, "SaveIdentity", nil)
}

func (s3s *S3Store) LoadIdentity() (*VersionedData, error) {
	return s3s.loadObject(s3s.getIdentityObjectName(), "identity")
}

func (s3s *S3Store) IdentityExists() (bool, error) {
	return s3s.objectExists(s3s.getIdentityObjectName())
}

func (s3s *S3Store) DeleteIdentity() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	err := s3s.client.RemoveObject(ctx, s3s.bucketName, s3s.getIdentityObjectName(), minio.RemoveObjectOptions{})
	if err != nil {
		if minioErr := minio.ToErrorResponse(err); minioErr.Code != "NoSuchKey" {
			return fmt.Errorf("failed to delete identity: %w", err)
		}
	}
	return nil
}

// Salt operations

func (s3s *S3Store) SaveSalt(saltData []byte, expectedVersion string) (string, error) {
	if len(saltData) == 0 {
		return "", fmt.Errorf("salt is required")
	}
	return s3s.saveObject(s3s.getSaltObjectName(), saltData, expectedVersion, "SaveSalt", createSaltMetadata(s3s.userID))
}

func (s3s *S3Store) LoadSalt() (*VersionedData, error) {
	return s3s.loadObject(s3s.getSaltObjectName(), "salt")
}

func (s3s *S3Store) SaltExists() (bool, error) {
	return s3s.objectExists(s3s.getSaltObjectName())
}

// Keyed collections

func (s3s *S3Store) SaveRecord(kind RecordKind, id string, data []byte, expectedVersion string) (string, error) {
	if err := validateRecordKind(kind); err != nil {
		return "", err
	}
	if err := validateRecordID(id); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("record data is required")
	}
	operation := fmt.Sprintf("SaveRecord(%s)", kind)
	return s3s.saveObject(s3s.getRecordObjectName(kind, id), data, expectedVersion, operation, nil)
}

func (s3s *S3Store) LoadRecord(kind RecordKind, id string) (*VersionedData, error) {
	if err := validateRecordKind(kind); err != nil {
		return nil, err
	}
	if err := validateRecordID(id); err != nil {
		return nil, err
	}
	return s3s.loadObject(s3s.getRecordObjectName(kind, id), fmt.Sprintf("record %s/%s", kind, id))
}

func (s3s *S3Store) ListRecords(kind RecordKind) ([]string, error) {
	if err := validateRecordKind(kind); err != nil {
		return nil, err
	}

	prefix := s3s.buildUserPath(string(kind)) + "/"

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	objectCh := s3s.client.ListObjects(ctx, s3s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var ids []string
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list records: %w", object.Err)
		}
		if !strings.HasSuffix(object.Key, ".json") {
			continue
		}
		name := strings.TrimPrefix(object.Key, prefix)
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	sort.Strings(ids)
	return ids, nil
}

func (s3s *S3Store) DeleteRecord(kind RecordKind, id string) error {
	if err := validateRecordKind(kind); err != nil {
		return err
	}
	if err := validateRecordID(id); err != nil {
		return err
	}

	objectName := s3s.getRecordObjectName(kind, id)

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	// StatObject first so a missing record reports as such; RemoveObject
	// succeeds silently on absent keys
	_, err := s3s.client.StatObject(ctx, s3s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("record %s/%s does not exist", kind, id)
		}
		return fmt.Errorf("failed to check record: %w", err)
	}

	if err := s3s.client.RemoveObject(ctx, s3s.bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// saveObject uploads with optimistic concurrency via ETag preconditions.
func (s3s *S3Store) saveObject(objectName string, data []byte, expectedVersion, operation string, userMetadata map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if userMetadata == nil {
		userMetadata = map[string]string{
			"Created-At": time.Now().UTC().Format(time.RFC3339),
		}
	}

	putOptions := minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: userMetadata,
	}

	if expectedVersion != "" {
		currentVersion, err := s3s.getObjectVersion(ctx, objectName)
		if err != nil {
			return "", fmt.Errorf("failed to check current version: %w", err)
		}
		if currentVersion != expectedVersion {
			return "", ConcurrencyError{
				ExpectedVersion: expectedVersion,
				ActualVersion:   currentVersion,
				Operation:       operation,
			}
		}
		putOptions.SetMatchETag(expectedVersion)
	}

	info, err := s3s.client.PutObject(ctx, s3s.bucketName, objectName,
		bytes.NewReader(data), int64(len(data)), putOptions)
	if err != nil {
		if s3s.isPreconditionFailedError(err) {
			currentVersion, _ := s3s.getObjectVersion(ctx, objectName)
			return "", ConcurrencyError{
				ExpectedVersion: expectedVersion,
				ActualVersion:   currentVersion,
				Operation:       operation,
			}
		}
		return "", fmt.Errorf("%s failed: %w", operation, err)
	}

	return s3s.cleanETag(info.ETag), nil
}

// loadObject fetches an object and its version/timestamp.
func (s3s *S3Store) loadObject(objectName, what string) (*VersionedData, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	object, err := s3s.client.GetObject(ctx, s3s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		if s3s.isNotFoundError(err) {
			return nil, fmt.Errorf("%s not found", what)
		}
		return nil, fmt.Errorf("failed to load %s: %w", what, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if s3s.isNotFoundError(err) {
			return nil, fmt.Errorf("%s not found", what)
		}
		return nil, fmt.Errorf("failed to read %s: %w", what, err)
	}

	objectInfo, err := object.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s info: %w", what, err)
	}

	// Parse timestamp from metadata, fallback to LastModified
	var timestamp time.Time
	if createdAt, exists := objectInfo.UserMetadata["Created-At"]; exists {
		if parsedTime, err := time.Parse(time.RFC3339, createdAt); err == nil {
			timestamp = parsedTime
		}
	}
	if timestamp.IsZero() {
		timestamp = objectInfo.LastModified
	}

	return &VersionedData{
		Data:      data,
		Version:   s3s.cleanETag(objectInfo.ETag),
		Timestamp: timestamp,
	}, nil
}

func (s3s *S3Store) objectExists(objectName string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err := s3s.client.StatObject(ctx, s3s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// Backup operations
func (s3s *S3Store) SaveBackup(backupPath string, container *BackupContainer) error {
	if container.UserID == "" {
		container.UserID = s3s.userID
	}

	data, err := json.Marshal(container)
	if err != nil {
		return fmt.Errorf("failed to marshal backup container: %w", err)
	}

	objectPath := s3s.buildUserPath("backups") + "/" + backupPath + ".vault"

	// Use consistent lowercase-hyphen keys for maximum portability across S3 backends
	metadata := map[string]string{
		"backup-id":         container.BackupID,
		"backup-version":    container.BackupVersion,
		"vault-version":     container.VaultVersion,
		"encryption-method": container.EncryptionMethod,
		"checksum":          container.Checksum,
		"user-id":           container.UserID,
		"backup-timestamp":  container.BackupTimestamp.Format(time.RFC3339),
	}

	debug.Print("SaveBackup: saving to path: %s\n", objectPath)

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err = s3s.client.PutObject(ctx, s3s.bucketName, objectPath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to save backup to S3: %w", err)
	}

	return nil
}

func (s3s *S3Store) RestoreBackup(backupPath string) (*BackupContainer, error) {
	if backupPath == "" {
		return nil, fmt.Errorf("backup path cannot be empty")
	}

	objectName := s3s.buildUserPath("backups", backupPath+".vault")

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	object, err := s3s.client.GetObject(ctx, s3s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("backup '%s' not found for user %s", backupPath, s3s.userID)
		}
		return nil, fmt.Errorf("failed to get backup: %w", err)
	}
	defer object.Close()

	containerData, err := io.ReadAll(object)
	if err != nil {
		if s3s.isNotFoundError(err) {
			return nil, fmt.Errorf("backup '%s' not found for user %s", backupPath, s3s.userID)
		}
		return nil, fmt.Errorf("failed to read backup container: %w", err)
	}

	var container BackupContainer
	if err := json.Unmarshal(containerData, &container); err != nil {
		return nil, fmt.Errorf("failed to parse backup container: %w", err)
	}

	if container.BackupID == "" {
		return nil, fmt.Errorf("invalid backup: missing backup ID")
	}

	if container.BackupVersion == "" {
		return nil, fmt.Errorf("invalid backup: missing backup version")
	}

	if container.EncryptedData == "" {
		return nil, fmt.Errorf("invalid backup: missing encrypted data")
	}

	if container.UserID != "" && container.UserID != s3s.userID {
		fmt.Printf("Warning: Restoring backup from user %s to user %s\n",
			container.UserID, s3s.userID)
	}

	return &container, nil
}

func (s3s *S3Store) DeleteBackup(backupID string) error {
	backups, err := s3s.ListBackups()
	if err != nil {
		return fmt.Errorf("failed to list backups for deletion: %w", err)
	}

	var storePath string
	for _, backup := range backups {
		if backup.BackupID == backupID {
			storePath = backup.StorePath
			break
		}
	}

	if storePath == "" {
		return fmt.Errorf("backup %s not found for user %s", backupID, s3s.userID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	err = s3s.client.RemoveObject(ctx, s3s.bucketName, storePath, minio.RemoveObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			return fmt.Errorf("failed to delete backup '%s': %w", backupID, err)
		}
	}

	return nil
}

func (s3s *S3Store) ListBackups() ([]BackupInfo, error) {
	prefix := s3s.buildUserPath("backups") + "/"

	var backups []BackupInfo

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	objectCh := s3s.client.ListObjects(ctx, s3s.bucketName, minio.ListObjectsOptions{
		Prefix: prefix,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %w", object.Err)
		}

		if !strings.HasSuffix(object.Key, ".vault") {
			continue
		}

		// StatObject to get metadata (ListObjects doesn't include user metadata)
		statInfo, err := s3s.client.StatObject(ctx, s3s.bucketName, object.Key, minio.StatObjectOptions{})
		if err != nil {
			debug.Print("ListBackups: failed to stat object %s: %v\n", object.Key, err)
			continue
		}

		objectInfo := minio.ObjectInfo{
			Key:          statInfo.Key,
			LastModified: statInfo.LastModified,
			Size:         statInfo.Size,
			ContentType:  statInfo.ContentType,
			UserMetadata: statInfo.UserMetadata,
		}

		backupInfo, err := s3s.getBackupInfoFromMetadata(objectInfo)
		if err != nil {
			// Minimal BackupInfo for backups without usable metadata
			backupInfo = &BackupInfo{
				BackupID:        extractBackupIDFromPath(object.Key),
				BackupTimestamp: object.LastModified,
				UserID:          s3s.userID,
				FileSize:        object.Size,
				IsValid:         false,
			}
		}

		backups = append(backups, *backupInfo)
	}

	return backups, nil
}

// Helper function to extract backup ID from file path when metadata is missing
func extractBackupIDFromPath(objectKey string) string {
	parts := strings.Split(objectKey, "/")
	if len(parts) == 0 {
		return "unknown"
	}

	filename := parts[len(parts)-1]
	if strings.HasSuffix(filename, ".vault") {
		return strings.TrimSuffix(filename, ".vault")
	}

	return filename
}

// Health and utilities
func (s3s *S3Store) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to ping S3: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s3s.bucketName)
	}
	return nil
}

func (s3s *S3Store) Close() error {
	// Update last access time in config (similar to FileSystemStore)
	objectName := s3s.buildUserPath("vault.config")

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	object, err := s3s.client.GetObject(ctx, s3s.bucketName, objectName, minio.GetObjectOptions{})
	if err == nil {
		defer object.Close()

		if configData, err := io.ReadAll(object); err == nil {
			var config VaultConfig
			if err := json.Unmarshal(configData, &config); err == nil {
				config.LastAccess = time.Now().UTC()

				if updatedData, err := json.MarshalIndent(config, "", "  "); err == nil {
					_, _ = s3s.client.PutObject(
						ctx,
						s3s.bucketName,
						objectName,
						bytes.NewReader(updatedData),
						int64(len(updatedData)),
						minio.PutObjectOptions{
							ContentType: "application/json",
							UserMetadata: map[string]string{
								"vault-config": "true",
								"data-type":    "vault-config",
								"user-id":      s3s.userID,
								"updated-at":   time.Now().UTC().Format(time.RFC3339),
							},
						},
					)
				}
			}
		}
	}
	return nil
}

func (s3s *S3Store) GetType() string {
	return string(StoreTypeS3)
}

// Helper methods
func (s3s *S3Store) buildUserPath(components ...string) string {
	return s3s.buildUserPathForUser(s3s.userID, components...)
}

func (s3s *S3Store) buildUserPathForUser(userID string, components ...string) string {
	var parts []string

	if s3s.keyPrefix != "" {
		cleanPrefix := strings.Trim(s3s.keyPrefix, "/")
		if cleanPrefix != "" {
			parts = append(parts, cleanPrefix)
		}
	}

	if userID != "" {
		parts = append(parts, userID)
	}

	for _, component := range components {
		if component != "" {
			parts = append(parts, component)
		}
	}

	return strings.Join(parts, "/")
}

func (s3s *S3Store) ensureBucket(ctx context.Context) error {
	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		err = s3s.client.MakeBucket(ctx, s3s.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

func (s3s *S3Store) getBackupInfoFromMetadata(object minio.ObjectInfo) (*BackupInfo, error) {
	// Case-insensitive metadata lookup; S3 backends differ in key normalization
	getMetadata := func(metadataMap map[string]string, key string) string {
		searchKey := strings.ToLower(strings.ReplaceAll(key, "_", "-"))

		for k, v := range metadataMap {
			normalizedKey := strings.ToLower(strings.ReplaceAll(k, "_", "-"))
			if normalizedKey == searchKey {
				return v
			}
		}
		return ""
	}

	backupID := getMetadata(object.UserMetadata, "backup-id")
	vaultVersion := getMetadata(object.UserMetadata, "vault-version")
	backupVersion := getMetadata(object.UserMetadata, "backup-version")
	encryptionMethod := getMetadata(object.UserMetadata, "encryption-method")
	userID := getMetadata(object.UserMetadata, "user-id")
	checksum := getMetadata(object.UserMetadata, "checksum")
	timestampStr := getMetadata(object.UserMetadata, "backup-timestamp")

	var backupTimestamp time.Time
	if timestampStr != "" {
		if parsed, err := time.Parse(time.RFC3339, timestampStr); err == nil {
			backupTimestamp = parsed
		} else {
			backupTimestamp = object.LastModified
		}
	} else {
		backupTimestamp = object.LastModified
	}

	return &BackupInfo{
		BackupID:         backupID,
		BackupTimestamp:  backupTimestamp,
		VaultVersion:     vaultVersion,
		BackupVersion:    backupVersion,
		EncryptionMethod: encryptionMethod,
		UserID:           userID,
		Checksum:         checksum,
		FileSize:         object.Size,
		IsValid:          backupID != "",
		StorePath:        object.Key, // S3 object key as store path
	}, nil
}

func (s3s *S3Store) getBackupInfoFromContent(backupPath string, fileSize int64) (*BackupInfo, error) {
	container, err := s3s.RestoreBackup(backupPath)
	if err != nil {
		return nil, err
	}

	isValid := false
	if container.Checksum != "" && container.EncryptedData != "" {
		encryptedData, err := base64.StdEncoding.DecodeString(container.EncryptedData)
		if err == nil {
			actualChecksum := crypto.CalculateChecksum(encryptedData)
			isValid = actualChecksum == container.Checksum
		}
	}

	userID := container.UserID
	if userID == "" {
		userID = s3s.userID
	}

	return &BackupInfo{
		BackupID:         container.BackupID,
		BackupTimestamp:  container.BackupTimestamp,
		VaultVersion:     container.VaultVersion,
		BackupVersion:    container.BackupVersion,
		EncryptionMethod: container.EncryptionMethod,
		UserID:           userID,
		FileSize:         fileSize,
		IsValid:          isValid,
	}, nil
}

// Helper methods for version management
func (s3s *S3Store) getObjectVersion(ctx context.Context, objectName string) (string, error) {
	objInfo, err := s3s.client.StatObject(ctx, s3s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", nil // Object doesn't exist, version is empty
		}
		return "", err
	}
	return s3s.cleanETag(objInfo.ETag), nil
}

func (s3s *S3Store) cleanETag(etag string) string {
	return strings.Trim(etag, "\"")
}

func (s3s *S3Store) isPreconditionFailedError(err error) bool {
	return minio.ToErrorResponse(err).Code == "PreconditionFailed"
}

func (s3s *S3Store) isNotFoundError(err error) bool {
	var errResp minio.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp.Code == "NoSuchKey" || errResp.Code == "NotFound"
	}
	return false
}

func (s3s *S3Store) getIdentityObjectName() string {
	return s3s.buildUserPath("identity.json")
}

func (s3s *S3Store) getSaltObjectName() string {
	return s3s.buildUserPath("vault.salt")
}

func (s3s *S3Store) getRecordObjectName(kind RecordKind, id string) string {
	return s3s.buildUserPath(string(kind), id+".json")
}
