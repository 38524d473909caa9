package entryvault

import (
	"fmt"
	"os"
	"time"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/misc"
)

// Options represents configuration parameters for vault initialization and operation.
//
// This structure controls the security-critical settings of the encryption
// subsystem: key derivation inputs, memory protection, the analysis-share
// polling behavior and the decrypted-cache policy. It implements a clear
// separation between serializable configuration and sensitive runtime
// parameters that must never be persisted or transmitted.
//
// Serialization Security:
// - DerivationPassphrase is marked `json:"-"` and never appears in JSON output
// - Passphrases never appear in configuration files, logs or audit records
// - EnvPassphraseVar names an environment variable rather than carrying a secret
//
// Memory Security:
// - EnableMemoryLock requests mlockall()-style page locking so derived keys and
//   decrypted content are never paged to swap
// - Memory locking requires OS support and privileges; when the platform denies
//   it the vault degrades to partial protection and reports the achieved level
//   rather than failing initialization
type Options struct {
	// DerivationPassphrase is the master passphrase used with the stored salt
	// to derive the vault's key-encryption key via Argon2id. Minimum length is
	// 8 characters; longer generated passphrases are strongly recommended.
	//
	// Never logged, never serialized, wiped from working buffers immediately
	// after key derivation.
	DerivationPassphrase string `json:"-"`

	// EnvPassphraseVar names an environment variable containing the vault
	// passphrase. When set and DerivationPassphrase is empty, the vault reads
	// the passphrase from this variable during Unlock. This avoids passphrase
	// exposure through command-line arguments and process listings and
	// integrates with container secret injection.
	EnvPassphraseVar string `json:"env_passphrase_var,omitempty"`

	// EnableMemoryLock controls locking of sensitive pages into physical RAM
	// so derived keys, unwrapped private keys and decrypted entry content are
	// never written to swap or hibernation files.
	EnableMemoryLock bool `json:"enable_memory_lock"`

	// UserID identifies the owner of this vault instance. It namespaces all
	// persisted records and is stamped into every audit event.
	UserID string `json:"-"`

	// AnalysisPollInterval is the base interval between status polls while an
	// analysis share is pending or processing. The poller backs off from this
	// base up to AnalysisPollMax. Zero selects the default of two seconds.
	AnalysisPollInterval time.Duration `json:"analysis_poll_interval,omitempty"`

	// AnalysisPollMax caps the poll backoff. Zero selects thirty seconds.
	AnalysisPollMax time.Duration `json:"analysis_poll_max,omitempty"`

	// AnalysisTimeout is the overall deadline for a single analysis share to
	// reach a terminal state. A share still pending or processing when the
	// deadline passes is marked failed. Zero selects five minutes.
	AnalysisTimeout time.Duration `json:"analysis_timeout,omitempty"`

	// CacheTTL bounds how long a decrypted entry stays in the local cache
	// before it must be re-decrypted from the canonical ciphertext. Zero
	// selects one hour.
	CacheTTL time.Duration `json:"cache_ttl,omitempty"`

	// CacheQuotaBytes is the soft ceiling for the local store. When an insert
	// would exceed it the store evicts the oldest cached plaintext once and
	// retries; canonical ciphertext is never evicted. Zero disables the quota.
	CacheQuotaBytes int64 `json:"cache_quota_bytes,omitempty"`
}

// Validate validates the Options configuration
func (o Options) Validate() error {
	if o.DerivationPassphrase == "" && o.EnvPassphraseVar == "" {
		return fmt.Errorf("either DerivationPassphrase or EnvPassphraseVar must be provided")
	}
	if o.UserID == "" {
		return fmt.Errorf("UserID must be provided")
	}
	return nil
}

// resolvePassphrase returns the configured passphrase, consulting the
// environment variable when no literal passphrase was supplied.
func (o Options) resolvePassphrase() (string, error) {
	passphrase := o.DerivationPassphrase
	if passphrase == "" && o.EnvPassphraseVar != "" {
		passphrase = os.Getenv(o.EnvPassphraseVar)
	}
	if passphrase == "" {
		return "", fmt.Errorf("no passphrase available: set DerivationPassphrase or export %s", o.EnvPassphraseVar)
	}
	if len(passphrase) < misc.MinPassphraseLength {
		return "", ErrWeakPassphrase
	}
	return passphrase, nil
}

// checkPassphraseStrength rejects passphrases below the minimum length.
// Richer strength policy is delegated to an external validator.
func checkPassphraseStrength(passphrase string) error {
	if len(passphrase) < misc.MinPassphraseLength {
		return ErrWeakPassphrase
	}
	return nil
}

// pollInterval returns the effective analysis poll base interval.
func (o Options) pollInterval() time.Duration {
	if o.AnalysisPollInterval > 0 {
		return o.AnalysisPollInterval
	}
	return 2 * time.Second
}

// pollMax returns the effective analysis poll backoff ceiling.
func (o Options) pollMax() time.Duration {
	if o.AnalysisPollMax > 0 {
		return o.AnalysisPollMax
	}
	return 30 * time.Second
}

// analysisTimeout returns the effective terminal deadline for analysis shares.
func (o Options) analysisTimeout() time.Duration {
	if o.AnalysisTimeout > 0 {
		return o.AnalysisTimeout
	}
	return 5 * time.Minute
}
