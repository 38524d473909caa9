package entryvault

import (
	"context"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/misc"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/persist"
)

// maxAnalysisEntries bounds the entry set of a single analysis share.
const maxAnalysisEntries = 50

// boundedRetentionDuration is how long a bounded-duration analysis share
// keeps its wrapped keys before expiring.
const boundedRetentionDuration = 24 * time.Hour

// CreateAnalysisShare wraps the content keys of a bounded set of entries
// for the analysis service principal, producing an AnalysisShare in the
// pending state.
//
// An analysis share is a constrained grant: it never carries reshare
// capability, it must name a retention policy, and the service is obligated
// to drop decrypted plaintext before returning. Only the derived
// AnalysisResult outlives processing. An ephemeral share has its wrapped
// keys destroyed the moment processing completes; a bounded-duration share
// expires automatically like any other grant.
func (v *Vault) CreateAnalysisShare(ctx context.Context, entryIDs []string, analysisType string, retention RetentionPolicy, serviceID string) (*AnalysisShare, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	requestID := v.newRequestID()
	meta := map[string]interface{}{
		"analysis_type": analysisType,
		"retention":     string(retention),
		"entry_count":   len(entryIDs),
	}

	if err := v.requireUnlockedLocked(); err != nil {
		v.logAudit(requestID, "ANALYSIS_SHARE_CREATE", err, meta)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(entryIDs) == 0 {
		err := fmt.Errorf("at least one entry is required")
		v.logAudit(requestID, "ANALYSIS_SHARE_CREATE", err, meta)
		return nil, err
	}
	if len(entryIDs) > maxAnalysisEntries {
		err := fmt.Errorf("analysis share limited to %d entries, got %d", maxAnalysisEntries, len(entryIDs))
		v.logAudit(requestID, "ANALYSIS_SHARE_CREATE", err, meta)
		return nil, err
	}
	if retention != RetentionEphemeral && retention != RetentionBounded {
		err := fmt.Errorf("unknown retention policy %q", retention)
		v.logAudit(requestID, "ANALYSIS_SHARE_CREATE", err, meta)
		return nil, err
	}

	service, err := v.directory.Lookup(serviceID)
	if err != nil {
		v.logAudit(requestID, "ANALYSIS_SHARE_CREATE", err, meta)
		return nil, fmt.Errorf("failed to resolve analysis service: %w", err)
	}
	if service.Kind != PrincipalAnalysisService {
		err := fmt.Errorf("principal %q is not an analysis service", serviceID)
		v.logAudit(requestID, "ANALYSIS_SHARE_CREATE", err, meta)
		return nil, err
	}

	wrappedKeys := make(map[string][]byte, len(entryIDs))
	for _, entryID := range entryIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := v.loadEntryLocked(entryID)
		if err != nil {
			v.logAudit(requestID, "ANALYSIS_SHARE_CREATE", err, meta)
			return nil, err
		}
		contentKey, err := v.unwrapContentKey(entry.WrappedKey)
		if err != nil {
			v.logAudit(requestID, "ANALYSIS_SHARE_CREATE", err, meta)
			return nil, err
		}
		wrapped, err := v.wrapContentKeyFor(contentKey, service.PublicKey)
		memguard.WipeBytes(contentKey)
		if err != nil {
			v.logAudit(requestID, "ANALYSIS_SHARE_CREATE", err, meta)
			return nil, err
		}
		wrappedKeys[entryID] = wrapped
	}

	now := time.Now().UTC()
	share := &AnalysisShare{
		ID:          uuid.New().String(),
		OwnerID:     v.userID,
		EntryIDs:    entryIDs,
		WrappedKeys: wrappedKeys,
		Type:        analysisType,
		Retention:   retention,
		Status:      AnalysisPending,
		CreatedAt:   now,
	}
	if retention == RetentionBounded {
		expires := now.Add(boundedRetentionDuration)
		share.ExpiresAt = &expires
	}

	if err := v.persistAnalysisShareLocked(share); err != nil {
		v.logAudit(requestID, "ANALYSIS_SHARE_CREATE", err, meta)
		return nil, err
	}

	meta["share_id"] = share.ID
	v.logAudit(requestID, "ANALYSIS_SHARE_CREATE", nil, meta)
	return share, nil
}

// RunAnalysis hands a pending share to the analysis boundary and records
// the outcome. Only pending shares are accepted: a failed share is never
// silently reused, the caller retries by creating a new share.
//
// On success the derived AnalysisResult is the only persisted artifact. An
// ephemeral share has its wrapped keys destroyed in the same update that
// marks it completed. On failure no partial result is persisted and the
// share moves to failed with the error recorded for status polling.
func (v *Vault) RunAnalysis(ctx context.Context, shareID string, boundary AnalysisBoundary) (*AnalysisResult, error) {
	requestID := v.newRequestID()
	meta := map[string]interface{}{"share_id": shareID}

	share, err := v.GetAnalysisShare(shareID)
	if err != nil {
		v.logAudit(requestID, "ANALYSIS_PROCESS_START", err, meta)
		return nil, err
	}
	if share.Status != AnalysisPending {
		err := fmt.Errorf("share %s is %s, only pending shares can be processed", shareID, share.Status)
		v.logAudit(requestID, "ANALYSIS_PROCESS_START", err, meta)
		return nil, err
	}
	if share.ExpiresAt != nil && share.ExpiresAt.Before(v.nowUTC()) {
		v.logAudit(requestID, "ANALYSIS_PROCESS_START", ErrGrantExpired, meta)
		return nil, ErrGrantExpired
	}

	share.Status = AnalysisProcessing
	share.Progress = 0
	if err := v.updateAnalysisShare(share); err != nil {
		v.logAudit(requestID, "ANALYSIS_PROCESS_START", err, meta)
		return nil, err
	}
	v.logAudit(requestID, "ANALYSIS_PROCESS_START", nil, meta)

	inputs := make([]AnalysisInput, 0, len(share.EntryIDs))
	for _, entryID := range share.EntryIDs {
		entry, loadErr := v.GetEntry(entryID)
		if loadErr != nil {
			v.markAnalysisFailed(requestID, share, loadErr)
			return nil, loadErr
		}
		inputs = append(inputs, AnalysisInput{
			EntryID:    entry.ID,
			Ciphertext: entry.Ciphertext,
			Nonce:      entry.Nonce,
			WrappedKey: share.WrappedKeys[entryID],
			Tags:       entry.Metadata.Tags,
			Mood:       entry.Metadata.Mood,
		})
	}

	outcome, err := boundary.Analyze(ctx, share.Type, inputs)
	if err != nil {
		v.markAnalysisFailed(requestID, share, err)
		return nil, fmt.Errorf("%w: %v", ErrAnalysisProcessingFailed, err)
	}

	now := time.Now().UTC()
	result := &AnalysisResult{
		ID:              uuid.New().String(),
		ShareID:         share.ID,
		Type:            share.Type,
		Summary:         outcome.Summary,
		Findings:        outcome.Findings,
		Recommendations: outcome.Recommendations,
		Snippets:        outcome.Snippets,
		Confidence:      outcome.Confidence,
		CreatedAt:       now,
	}

	data, err := encodeAnalysisResult(result)
	if err != nil {
		v.markAnalysisFailed(requestID, share, err)
		return nil, err
	}
	if err := v.saveRecordWithRetry(persist.RecordAnalysisResult, result.ID, data); err != nil {
		v.markAnalysisFailed(requestID, share, err)
		return nil, fmt.Errorf("failed to persist analysis result: %w", err)
	}

	share.Status = AnalysisCompleted
	share.Progress = 100
	share.CompletedAt = &now
	share.ResultID = result.ID
	if share.Retention == RetentionEphemeral {
		// Ephemeral retention: the wrapped keys die with completion
		share.WrappedKeys = nil
	}
	if err := v.updateAnalysisShare(share); err != nil {
		v.logAudit(requestID, "ANALYSIS_PROCESS_COMPLETE", err, meta)
		return nil, err
	}

	meta["result_id"] = result.ID
	v.logAudit(requestID, "ANALYSIS_PROCESS_COMPLETE", nil, meta)
	return result, nil
}

func (v *Vault) markAnalysisFailed(requestID string, share *AnalysisShare, cause error) {
	share.Status = AnalysisFailed
	share.Error = cause.Error()
	if err := v.updateAnalysisShare(share); err != nil {
		v.logAudit(requestID, "ANALYSIS_PROCESS_FAILED", err, map[string]interface{}{"share_id": share.ID})
		return
	}
	v.logAudit(requestID, "ANALYSIS_PROCESS_FAILED", cause, map[string]interface{}{"share_id": share.ID})
}

// GetAnalysisShare returns the share record, for status polling.
func (v *Vault) GetAnalysisShare(shareID string) (*AnalysisShare, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	versioned, err := v.store.LoadRecord(persist.RecordAnalysisShare, shareID)
	if err != nil {
		if misc.IsNotFoundError(err) {
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to load analysis share %s: %w", shareID, err)
	}
	return decodeAnalysisShare(versioned.Data)
}

// GetAnalysisResult returns a persisted derived-insight record.
func (v *Vault) GetAnalysisResult(resultID string) (*AnalysisResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	versioned, err := v.store.LoadRecord(persist.RecordAnalysisResult, resultID)
	if err != nil {
		return nil, fmt.Errorf("analysis result %s not found", resultID)
	}
	return decodeAnalysisResult(versioned.Data)
}

// ListAnalysisShares returns every analysis share for this user.
func (v *Vault) ListAnalysisShares() ([]*AnalysisShare, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ids, err := v.store.ListRecords(persist.RecordAnalysisShare)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis shares: %w", err)
	}
	shares := make([]*AnalysisShare, 0, len(ids))
	for _, id := range ids {
		versioned, err := v.store.LoadRecord(persist.RecordAnalysisShare, id)
		if err != nil {
			continue
		}
		share, err := decodeAnalysisShare(versioned.Data)
		if err != nil {
			continue
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// DeleteAnalysisShare removes a share and any derived data retained for it.
func (v *Vault) DeleteAnalysisShare(ctx context.Context, shareID string) error {
	requestID := v.newRequestID()
	meta := map[string]interface{}{"share_id": shareID}

	if err := ctx.Err(); err != nil {
		return err
	}

	share, err := v.GetAnalysisShare(shareID)
	if err != nil {
		v.logAudit(requestID, "ANALYSIS_SHARE_DELETE", err, meta)
		return err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if share.ResultID != "" {
		if err := v.store.DeleteRecord(persist.RecordAnalysisResult, share.ResultID); err != nil {
			v.logAudit(requestID, "ANALYSIS_SHARE_DELETE", err, meta)
			return fmt.Errorf("failed to delete analysis result: %w", err)
		}
	}
	if err := v.store.DeleteRecord(persist.RecordAnalysisShare, shareID); err != nil {
		v.logAudit(requestID, "ANALYSIS_SHARE_DELETE", err, meta)
		return fmt.Errorf("failed to delete analysis share: %w", err)
	}

	v.logAudit(requestID, "ANALYSIS_SHARE_DELETE", nil, meta)
	return nil
}

// WaitForAnalysis polls a share until it reaches a terminal state, backing
// off between polls up to the configured maximum interval. If the share is
// still pending or processing when the timeout elapses, it is marked failed
// rather than left hanging, and ErrAnalysisProcessingFailed is returned.
func (v *Vault) WaitForAnalysis(ctx context.Context, shareID string) (*AnalysisResult, error) {
	requestID := v.newRequestID()
	meta := map[string]interface{}{"share_id": shareID}

	deadline := time.Now().Add(v.options.analysisTimeout())
	delay := v.options.pollInterval()
	maxDelay := v.options.pollMax()

	for {
		share, err := v.GetAnalysisShare(shareID)
		if err != nil {
			return nil, err
		}

		switch share.Status {
		case AnalysisCompleted:
			return v.GetAnalysisResult(share.ResultID)
		case AnalysisFailed:
			if share.Error != "" {
				return nil, fmt.Errorf("%w: %s", ErrAnalysisProcessingFailed, share.Error)
			}
			return nil, ErrAnalysisProcessingFailed
		case AnalysisDeleted:
			return nil, ErrGrantNotFound
		}

		if time.Now().After(deadline) {
			v.markAnalysisFailed(requestID, share, fmt.Errorf("timed out waiting for analysis"))
			v.logAudit(requestID, "ANALYSIS_POLL_TIMEOUT", ErrAnalysisProcessingFailed, meta)
			return nil, fmt.Errorf("%w: timed out after %s", ErrAnalysisProcessingFailed, v.options.analysisTimeout())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (v *Vault) persistAnalysisShareLocked(share *AnalysisShare) error {
	data, err := encodeAnalysisShare(share)
	if err != nil {
		return err
	}
	if err := v.saveRecordWithRetry(persist.RecordAnalysisShare, share.ID, data); err != nil {
		return fmt.Errorf("failed to persist analysis share: %w", err)
	}
	return nil
}

func (v *Vault) updateAnalysisShare(share *AnalysisShare) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.persistAnalysisShareLocked(share)
}

func (v *Vault) nowUTC() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.now().UTC()
}
