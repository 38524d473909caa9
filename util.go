package entryvault

import (
	"encoding/json"
	"encoding/pem"
	"fmt"
)

func encodeIdentity(identity *Identity) ([]byte, error) {
	data, err := json.Marshal(identity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity: %w", err)
	}
	return data, nil
}

func decodeIdentity(data []byte) (*Identity, error) {
	var identity Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}
	return &identity, nil
}

func encodeEntry(entry *EncryptedEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*EncryptedEntry, error) {
	var entry EncryptedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &entry, nil
}

func encodeGrant(grant *ShareGrant) ([]byte, error) {
	data, err := json.Marshal(grant)
	if err != nil {
		return nil, fmt.Errorf("failed to encode grant: %w", err)
	}
	return data, nil
}

func decodeGrant(data []byte) (*ShareGrant, error) {
	var grant ShareGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("failed to decode grant: %w", err)
	}
	return &grant, nil
}

func encodeAnalysisShare(share *AnalysisShare) ([]byte, error) {
	data, err := json.Marshal(share)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis share: %w", err)
	}
	return data, nil
}

func decodeAnalysisShare(data []byte) (*AnalysisShare, error) {
	var share AnalysisShare
	if err := json.Unmarshal(data, &share); err != nil {
		return nil, fmt.Errorf("failed to decode analysis share: %w", err)
	}
	return &share, nil
}

func encodeAnalysisResult(result *AnalysisResult) ([]byte, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis result: %w", err)
	}
	return data, nil
}

func decodeAnalysisResult(data []byte) (*AnalysisResult, error) {
	var result AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode analysis result: %w", err)
	}
	return &result, nil
}

// publicKeyDERFromPEM extracts the DER bytes from a PEM public key block.
// Returns nil if the input is not valid PEM.
func publicKeyDERFromPEM(pemBytes []byte) []byte {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil
	}
	return block.Bytes
}
