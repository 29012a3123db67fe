package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/krshsl/intervue/backend/metrics"
	"github.com/krshsl/intervue/backend/models"
	"github.com/krshsl/intervue/backend/repository"
)

// Retention defaults per entity
const (
	DefaultSessionTTL    = 365 * 24 * time.Hour
	DefaultTranscriptTTL = 90 * 24 * time.Hour
	DefaultFeedbackTTL   = 365 * 24 * time.Hour
	defaultSweepBatch    = 500
)

// RetentionPolicy computes expiresAt for every core entity. A child row never outlives its session.
type RetentionPolicy struct {
	SessionTTL    time.Duration
	TranscriptTTL time.Duration
	FeedbackTTL   time.Duration
}

func NewRetentionPolicy(cfg RetentionConfig) RetentionPolicy {
	p := RetentionPolicy{
		SessionTTL:    cfg.SessionTTL,
		TranscriptTTL: cfg.TranscriptTTL,
		FeedbackTTL:   cfg.FeedbackTTL,
	}
	if p.SessionTTL <= 0 {
		p.SessionTTL = DefaultSessionTTL
	}
	if p.TranscriptTTL <= 0 {
		p.TranscriptTTL = DefaultTranscriptTTL
	}
	if p.FeedbackTTL <= 0 {
		p.FeedbackTTL = DefaultFeedbackTTL
	}
	return p
}

func (p RetentionPolicy) SessionExpiry(now time.Time) time.Time {
	return now.UTC().Add(p.SessionTTL)
}

func (p RetentionPolicy) TranscriptExpiry(now time.Time, session *models.InterviewSession) time.Time {
	return capExpiry(now.UTC().Add(p.TranscriptTTL), session)
}

func (p RetentionPolicy) FeedbackExpiry(now time.Time, session *models.InterviewSession) time.Time {
	return capExpiry(now.UTC().Add(p.FeedbackTTL), session)
}

func capExpiry(at time.Time, session *models.InterviewSession) time.Time {
	if session != nil && !session.ExpiresAt.IsZero() && session.ExpiresAt.Before(at) {
		return session.ExpiresAt.UTC()
	}
	return at
}

// ArtifactStore removes recorded interview artifacts referenced by audioUrl
type ArtifactStore interface {
	Remove(ctx context.Context, ref string) error
}

// MinioArtifactStore deletes audio recordings from an S3-compatible bucket
type MinioArtifactStore struct {
	client *minio.Client
	bucket string
}

func NewMinioArtifactStore(cfg StorageConfig) (*MinioArtifactStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	slog.Info("Artifact storage configured", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return &MinioArtifactStore{client: client, bucket: cfg.Bucket}, nil
}

// Remove deletes the object behind ref. A missing object is not an error.
func (s *MinioArtifactStore) Remove(ctx context.Context, ref string) error {
	key := objectKey(ref, s.bucket)
	if key == "" {
		return nil
	}
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("failed to remove artifact %s: %w", key, err)
	}
	return nil
}

// objectKey extracts the object key from s3://bucket/key, http(s)://host/bucket/key or a bare key
func objectKey(ref, bucket string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" {
		return strings.TrimPrefix(ref, "/")
	}
	path := strings.TrimPrefix(u.Path, "/")
	if u.Scheme == "s3" {
		return path
	}
	return strings.TrimPrefix(path, bucket+"/")
}

// SweepResult counts what a sweep removed
type SweepResult struct {
	Transcripts int64 `json:"transcripts"`
	Feedback    int64 `json:"feedback"`
	Sessions    int64 `json:"sessions"`
}

// RetentionSweeper purges expired children and anonymizes expired sessions
type RetentionSweeper struct {
	repo      *repository.GORMRepository
	artifacts ArtifactStore
	batchSize int
	now       func() time.Time
}

// NewRetentionSweeper builds a sweeper. artifacts may be nil when no object storage is configured.
func NewRetentionSweeper(repo *repository.GORMRepository, artifacts ArtifactStore, batchSize int) *RetentionSweeper {
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}
	return &RetentionSweeper{
		repo:      repo,
		artifacts: artifacts,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs one retention pass
func (s *RetentionSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()

	n, err := s.drain(ctx, func() (int64, error) { return s.repo.DeleteExpiredTranscripts(ctx, now, s.batchSize) })
	res.Transcripts = n
	if err != nil {
		return res, err
	}
	n, err = s.drain(ctx, func() (int64, error) { return s.repo.DeleteExpiredFeedback(ctx, now, s.batchSize) })
	res.Feedback = n
	if err != nil {
		return res, err
	}

	sessions, err := s.repo.ListExpiredSessions(ctx, now, s.batchSize)
	if err != nil {
		return res, err
	}
	for _, session := range sessions {
		if session.AudioURL != "" && s.artifacts != nil {
			if err := s.artifacts.Remove(ctx, session.AudioURL); err != nil {
				// Keep the row so the next sweep retries the artifact
				slog.Warn("Failed to remove session artifact", "session_id", session.ID, "error", err)
				continue
			}
		}
		if err := s.repo.AnonymizeSession(ctx, session.ID); err != nil {
			slog.Error("Failed to anonymize expired session", "session_id", session.ID, "error", err)
			continue
		}
		res.Sessions++
	}

	metrics.RetentionPurged.WithLabelValues("transcript").Add(float64(res.Transcripts))
	metrics.RetentionPurged.WithLabelValues("feedback").Add(float64(res.Feedback))
	metrics.RetentionPurged.WithLabelValues("session").Add(float64(res.Sessions))
	slog.Info("Retention sweep finished",
		"transcripts", res.Transcripts,
		"feedback", res.Feedback,
		"sessions", res.Sessions)
	return res, nil
}

// drain repeats a batched delete until a short batch comes back
func (s *RetentionSweeper) drain(ctx context.Context, batch func() (int64, error)) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := batch()
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(s.batchSize) {
			return total, nil
		}
	}
}
