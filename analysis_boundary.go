package entryvault

import (
	"context"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/crypto"
)

// AnalysisInput is one entry handed to the analysis boundary: ciphertext
// plus the content key wrapped under the analysis service's public key.
// Plaintext never crosses this boundary in either direction.
type AnalysisInput struct {
	EntryID    string
	Ciphertext []byte
	Nonce      []byte
	WrappedKey []byte

	// Cleartext metadata the owner chose not to encrypt
	Tags []string
	Mood string
}

// AnalysisOutcome carries the derived insights produced by the analysis
// boundary. Snippets are short evidentiary excerpts the caller treats as
// disclosed; implementations must never include full entry bodies.
type AnalysisOutcome struct {
	Summary         string
	Findings        []string
	Recommendations []string
	Snippets        []string
	Confidence      float64
}

// AnalysisBoundary is the contract for the analysis service side of an
// analysis share. Implementations unwrap content keys with the service's
// own private key, decrypt strictly in volatile memory, and must drop every
// decrypted buffer before returning. Nothing but the returned outcome may
// outlive the call: no persisting, logging or caching of plaintext,
// regardless of the share's retention policy.
type AnalysisBoundary interface {
	Analyze(ctx context.Context, analysisType string, inputs []AnalysisInput) (*AnalysisOutcome, error)
}

// InsightFunc derives insights from decrypted entries. The slice and its
// contents are wiped by the caller the moment the function returns; an
// implementation must not retain references.
type InsightFunc func(analysisType string, entries []*Plaintext) (*AnalysisOutcome, error)

// InsightProcessor is an in-process AnalysisBoundary holding the analysis
// service's private key in a memguard enclave. It exists for local
// deployments and tests; remotely the boundary is reached through the
// analysis endpoints instead.
type InsightProcessor struct {
	serviceID  string
	provider   crypto.Provider
	privateKey *memguard.Enclave
	insights   InsightFunc
}

// NewAnalysisService generates a fresh identity for an analysis service and
// returns a processor holding its private key plus the principal record to
// register in the directory so owners can wrap keys for it.
func NewAnalysisService(serviceID string, insights InsightFunc) (*InsightProcessor, Principal, error) {
	provider := crypto.NewProvider()
	privateDER, publicDER, err := provider.GenerateKeyPair()
	if err != nil {
		return nil, Principal{}, fmt.Errorf("failed to generate analysis service keypair: %w", err)
	}

	if serviceID == "" {
		serviceID = "analysis-" + uuid.New().String()
	}

	processor := &InsightProcessor{
		serviceID:  serviceID,
		provider:   provider,
		privateKey: memguard.NewEnclave(privateDER),
		insights:   insights,
	}
	principal := Principal{
		ID:        serviceID,
		Kind:      PrincipalAnalysisService,
		PublicKey: crypto.EncodePublicKeyPEM(publicDER),
	}
	return processor, principal, nil
}

// NewInsightProcessorFromKey builds a processor around an existing private
// key in DER form. The DER bytes are moved into an enclave and wiped.
func NewInsightProcessorFromKey(serviceID string, privateDER []byte, insights InsightFunc) *InsightProcessor {
	return &InsightProcessor{
		serviceID:  serviceID,
		provider:   crypto.NewProvider(),
		privateKey: memguard.NewEnclave(privateDER),
		insights:   insights,
	}
}

// ServiceID returns the principal identifier of this processor.
func (p *InsightProcessor) ServiceID() string {
	return p.serviceID
}

// Analyze implements AnalysisBoundary. Each input's content key is
// unwrapped, the entry decrypted, and all plaintext buffers wiped before
// returning on every path, success or failure.
func (p *InsightProcessor) Analyze(ctx context.Context, analysisType string, inputs []AnalysisInput) (outcome *AnalysisOutcome, err error) {
	entries := make([]*Plaintext, 0, len(inputs))
	bodies := make([][]byte, 0, len(inputs))
	defer func() {
		for i := range entries {
			entries[i].Body = ""
		}
		for _, b := range bodies {
			memguard.WipeBytes(b)
		}
	}()

	for _, input := range inputs {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		body, decErr := p.decryptInput(input)
		if decErr != nil {
			return nil, fmt.Errorf("entry %s: %w", input.EntryID, decErr)
		}
		bodies = append(bodies, body)
		entries = append(entries, &Plaintext{
			EntryID: input.EntryID,
			Body:    string(body),
			Tags:    input.Tags,
			Mood:    input.Mood,
		})
	}

	if p.insights == nil {
		return nil, fmt.Errorf("no insight function configured")
	}
	return p.insights(analysisType, entries)
}

func (p *InsightProcessor) decryptInput(input AnalysisInput) ([]byte, error) {
	keyBuf, err := p.privateKey.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open service key: %w", err)
	}
	defer keyBuf.Destroy()

	contentKey, err := p.provider.UnwrapKey(input.WrappedKey, keyBuf)
	if err != nil {
		return nil, ErrUnwrapFailure
	}
	defer memguard.WipeBytes(contentKey)

	body, err := p.provider.Decrypt(input.Ciphertext, input.Nonce, contentKey)
	if err != nil {
		return nil, ErrTamperedCiphertext
	}
	return body, nil
}

// MoodInsights is a small reference InsightFunc producing a mood summary
// with a confidence score and no verbatim entry text.
func MoodInsights(analysisType string, entries []*Plaintext) (*AnalysisOutcome, error) {
	positive := 0
	for _, e := range entries {
		if e.Mood != "" && e.Mood != "low" && e.Mood != "sad" {
			positive++
		}
	}
	confidence := 0.5
	if len(entries) > 0 {
		confidence = 0.5 + 0.5*float64(positive)/float64(len(entries))
	}
	return &AnalysisOutcome{
		Summary:    fmt.Sprintf("Analyzed %d entries for %s patterns.", len(entries), analysisType),
		Findings:   []string{fmt.Sprintf("%d of %d entries carry a positive mood marker.", positive, len(entries))},
		Confidence: confidence,
	}, nil
}
