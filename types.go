package entryvault

import (
	"time"
)

// PrincipalKind tags the two kinds of principal a content key can be wrapped
// for. The wrap/grant protocol is identical for both; only the obligations
// attached to a grant differ.
type PrincipalKind string

const (
	// PrincipalUser is another person, identified by their published public key.
	PrincipalUser PrincipalKind = "user"

	// PrincipalAnalysisService is the constrained automated analysis service.
	// Grants to it never carry reshare and always carry a retention policy.
	PrincipalAnalysisService PrincipalKind = "analysis-service"
)

// Principal is a party a content key can be wrapped for.
type Principal struct {
	ID        string        `json:"id"`
	Kind      PrincipalKind `json:"kind"`
	PublicKey []byte        `json:"public_key"` // PKIX DER or PEM
}

// Permission is a capability conveyed by a share grant.
type Permission string

const (
	PermissionRead    Permission = "read"
	PermissionReshare Permission = "reshare"
)

// HasPermission reports whether perms contains p.
func HasPermission(perms []Permission, p Permission) bool {
	for _, q := range perms {
		if q == p {
			return true
		}
	}
	return false
}

// EntryMetadata is the cleartext metadata a user may opt to leave beside the
// ciphertext. Everything here is visible to the server; the entry body never is.
type EntryMetadata struct {
	Tags     []string `json:"tags,omitempty"`
	Mood     string   `json:"mood,omitempty"`
	Checksum string   `json:"checksum,omitempty"` // SHA-256 of plaintext
	Size     int      `json:"size,omitempty"`
}

// EncryptedEntry is the canonical server-held form of an entry: ciphertext,
// nonce and the owner's wrapped content key. It is never decryptable without
// a valid wrapped key and the unwrapping principal's private key.
type EncryptedEntry struct {
	ID         string        `json:"id"`
	OwnerID    string        `json:"owner_id"`
	Ciphertext []byte        `json:"ciphertext"`
	Nonce      []byte        `json:"nonce"`
	WrappedKey []byte        `json:"wrapped_key"` // owner's copy
	KeyID      string        `json:"key_id"`      // fingerprint of the wrapping public key
	Metadata   EntryMetadata `json:"metadata"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Version    int           `json:"version"`
}

// ShareGrant conveys a wrapped content key plus permissions to a recipient
// principal. A grant conveys no ability to derive the owner's other keys.
type ShareGrant struct {
	ID            string        `json:"id"`
	EntryID       string        `json:"entry_id"`
	GranterID     string        `json:"granter_id"`
	RecipientID   string        `json:"recipient_id"`
	RecipientKind PrincipalKind `json:"recipient_kind"`
	WrappedKey    []byte        `json:"wrapped_key"`
	Permissions   []Permission  `json:"permissions"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	Revoked       bool          `json:"revoked"`
	RevokedAt     *time.Time    `json:"revoked_at,omitempty"`
}

// RetentionPolicy bounds how long an analysis share may exist.
type RetentionPolicy string

const (
	// RetentionEphemeral deletes the share immediately on completion.
	RetentionEphemeral RetentionPolicy = "ephemeral"

	// RetentionBounded lets the share live until its expiry, then the
	// ordinary grant-expiry check retires it.
	RetentionBounded RetentionPolicy = "bounded-duration"
)

// AnalysisStatus is the lifecycle state of an analysis share. Terminal
// failure is a visible state, not just an error return, so callers can poll.
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
	AnalysisDeleted    AnalysisStatus = "deleted"
)

// AnalysisShare grants the analysis service bounded access to a set of
// entries. It never carries reshare capability and always carries a
// retention policy. Raw decrypted content must not outlive the single
// processing call; the AnalysisResult is the only persisted artifact.
type AnalysisShare struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	EntryIDs    []string          `json:"entry_ids"`
	WrappedKeys map[string][]byte `json:"wrapped_keys"` // entry ID -> wrapped content key
	Type        string            `json:"analysis_type"`
	Retention   RetentionPolicy   `json:"retention_policy"`
	Status      AnalysisStatus    `json:"status"`
	Progress    float64           `json:"progress"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	ResultID    string            `json:"result_id,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// AnalysisResult is a derived insight record. It may carry short evidentiary
// snippets already treated as disclosed, never verbatim full-entry text.
type AnalysisResult struct {
	ID              string    `json:"id"`
	ShareID         string    `json:"share_id"`
	Type            string    `json:"analysis_type"`
	Summary         string    `json:"summary"`
	Findings        []string  `json:"findings,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	Snippets        []string  `json:"snippets,omitempty"`
	Confidence      float64   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
}

// Identity is the persisted form of a user's keypair: the private half
// sealed under the master key, the public half in the clear, plus a second
// copy of the private half sealed under the recovery key. Nothing here is
// usable without the passphrase or the recovery material.
type Identity struct {
	UserID             string    `json:"user_id"`
	PublicKeyPEM       []byte    `json:"public_key_pem"`
	KeyID              string    `json:"key_id"` // public key fingerprint
	WrappedPrivateKey  []byte    `json:"wrapped_private_key"`
	RecoveryWrappedKey []byte    `json:"recovery_wrapped_key,omitempty"` // private key sealed under recovery key
	RecoveryVersion    int       `json:"recovery_version"`
	CreatedAt          time.Time `json:"created_at"`
	RotatedAt          time.Time `json:"rotated_at,omitempty"`
}

// Plaintext is a decrypted entry body plus the cleartext fields search runs
// over. Lives only in the decrypted cache (if enabled) or call-scoped memory.
type Plaintext struct {
	EntryID   string    `json:"entry_id"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags,omitempty"`
	Mood      string    `json:"mood,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
