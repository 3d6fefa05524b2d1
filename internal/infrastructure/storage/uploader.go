package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"
	"greenearth/pkg/circuitbreaker"
	"greenearth/pkg/retry"
	"greenearth/pkg/tracing"

	"go.uber.org/zap"
)

type UploaderConfig struct {
	Retry   retry.Config
	Breaker circuitbreaker.Config
	// AttemptTimeout bounds a single Put. Zero means only the caller's context applies.
	AttemptTimeout time.Duration
}

func DefaultUploaderConfig() UploaderConfig {
	return UploaderConfig{
		Retry:          retry.DefaultConfig(),
		Breaker:        circuitbreaker.DefaultConfig(),
		AttemptTimeout: 2 * time.Minute,
	}
}

// RecordingUploader stores finalized recordings and catalogs them.
type RecordingUploader struct {
	store   ObjectStore
	catalog ports.RecordingCatalog
	cfg     UploaderConfig
	breaker *circuitbreaker.CircuitBreaker
	now     func() time.Time
	logger  *zap.SugaredLogger
}

func NewRecordingUploader(store ObjectStore, catalog ports.RecordingCatalog, cfg UploaderConfig, logger *zap.SugaredLogger) *RecordingUploader {
	u := &RecordingUploader{
		store:   store,
		catalog: catalog,
		cfg:     cfg,
		breaker: circuitbreaker.New(cfg.Breaker),
		now:     time.Now,
		logger:  logger,
	}

	// An open breaker is not retried.
	u.cfg.Retry.NonRetryableErrors = append(append([]error(nil), cfg.Retry.NonRetryableErrors...), circuitbreaker.ErrOpen)
	u.cfg.Retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warnw("Recording upload attempt failed", "attempt", attempt, "retry_in", delay, "error", err)
	}
	u.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("Storage circuit breaker state changed", "backend", store.Backend(), "from", from.String(), "to", to.String())
	})
	return u
}

// ObjectKey is where a recording lives in the object store.
func ObjectKey(callID domain.CallID, id domain.RecordingID, isGroupCall bool) string {
	kind := "direct"
	if isGroupCall {
		kind = "group"
	}
	return fmt.Sprintf("recordings/%s/%s/%s.ogg", kind, callID, id)
}

func (u *RecordingUploader) UploadRecording(ctx context.Context, callID domain.CallID, artifact *domain.RecordingArtifact, isGroupCall bool) error {
	if artifact == nil || artifact.Size() == 0 {
		return fmt.Errorf("empty recording for call %s", callID)
	}

	key := ObjectKey(callID, artifact.ID, isGroupCall)
	ctx, span := tracing.TraceStorageOperation(ctx, "put_recording", u.store.Backend(), key)
	defer span.End()

	start := u.now()
	err := retry.Retry(ctx, u.cfg.Retry, func() error {
		return u.breaker.Execute(ctx, func() error {
			return u.put(ctx, key, artifact)
		})
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to store recording %s: %w", artifact.ID, err)
	}

	record := &domain.RecordingRecord{
		ID:          artifact.ID,
		CallID:      callID,
		ObjectKey:   key,
		SizeBytes:   int64(artifact.Size()),
		MimeType:    mimeTypeOf(artifact),
		Duration:    artifact.Duration,
		IsGroupCall: isGroupCall,
		CreatedAt:   u.now(),
	}
	if err := u.catalog.Save(ctx, record); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to catalog recording %s: %w", artifact.ID, err)
	}

	u.logger.Infow("Recording uploaded",
		"call_id", callID,
		"recording_id", artifact.ID,
		"key", key,
		"size", artifact.Size(),
		"took", u.now().Sub(start),
	)
	return nil
}

func (u *RecordingUploader) put(ctx context.Context, key string, artifact *domain.RecordingArtifact) error {
	if u.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.AttemptTimeout)
		defer cancel()
	}
	return u.store.Put(ctx, key, bytes.NewReader(artifact.Blob), int64(artifact.Size()), mimeTypeOf(artifact))
}

func mimeTypeOf(artifact *domain.RecordingArtifact) string {
	if artifact.MimeType == "" {
		return domain.RecordingMimeType
	}
	return artifact.MimeType
}

// Ping checks the object store for readiness probes.
func (u *RecordingUploader) Ping(ctx context.Context) error {
	return u.store.Ping(ctx)
}

func (u *RecordingUploader) BreakerState() circuitbreaker.State {
	return u.breaker.GetState()
}
