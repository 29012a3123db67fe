package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krshsl/intervue/backend/models"
)

func TestRetentionPolicyDefaults(t *testing.T) {
	p := NewRetentionPolicy(RetentionConfig{})
	assert.Equal(t, DefaultSessionTTL, p.SessionTTL)
	assert.Equal(t, DefaultTranscriptTTL, p.TranscriptTTL)
	assert.Equal(t, DefaultFeedbackTTL, p.FeedbackTTL)

	custom := NewRetentionPolicy(RetentionConfig{TranscriptTTL: time.Hour})
	assert.Equal(t, time.Hour, custom.TranscriptTTL)
	assert.Equal(t, DefaultSessionTTL, custom.SessionTTL)
}

func TestRetentionPolicyCapsChildrenToSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := RetentionPolicy{SessionTTL: 24 * time.Hour, TranscriptTTL: 48 * time.Hour, FeedbackTTL: 12 * time.Hour}
	session := &models.InterviewSession{ExpiresAt: p.SessionExpiry(now)}

	assert.Equal(t, now.Add(24*time.Hour), session.ExpiresAt)
	assert.Equal(t, session.ExpiresAt, p.TranscriptExpiry(now, session))
	assert.Equal(t, now.Add(12*time.Hour), p.FeedbackExpiry(now, session))
	assert.Equal(t, now.Add(48*time.Hour), p.TranscriptExpiry(now, nil))
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"recordings/abc.webm", "recordings/abc.webm"},
		{"/recordings/abc.webm", "recordings/abc.webm"},
		{"s3://interviews/recordings/abc.webm", "recordings/abc.webm"},
		{"https://minio.local:9000/interviews/recordings/abc.webm", "recordings/abc.webm"},
		{"https://cdn.example.com/recordings/abc.webm", "recordings/abc.webm"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.want, objectKey(tt.ref, "interviews"))
		})
	}
}

type fakeArtifacts struct {
	mu      sync.Mutex
	err     error
	removed []string
}

func (a *fakeArtifacts) Remove(ctx context.Context, ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.removed = append(a.removed, ref)
	return nil
}

func (f *fixture) sessionWithAudio(t *testing.T, audio string) *models.InterviewSession {
	t.Helper()
	s, err := f.machine.Create(context.Background(), CreateSessionInput{
		UserID:   "user-1",
		JobTitle: "Data Engineer",
		Company:  "Initech",
		AudioURL: audio,
	})
	require.NoError(t, err)
	return s
}

func TestSweepPurgesExpiredTranscriptsFirst(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	ctx := context.Background()
	s := f.completedSession(t, 4)
	_, err := f.pipeline.ComputeBasicFeedback(ctx, s.ID)
	require.NoError(t, err)

	sweeper := NewRetentionSweeper(f.repo, nil, 2)
	sweeper.now = func() time.Time { return time.Now().UTC().Add(DefaultTranscriptTTL + 24*time.Hour) }

	res, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Transcripts)
	assert.Equal(t, int64(0), res.Feedback)
	assert.Equal(t, int64(0), res.Sessions)

	turns, err := f.log.ListTurns(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)

	feedback, err := f.repo.GetFeedbackBySession(ctx, s.ID)
	require.NoError(t, err)
	assert.NotNil(t, feedback)
}

func TestSweepAnonymizesExpiredSessions(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	ctx := context.Background()
	s := f.completedSession(t, 2)
	_, err := f.pipeline.ComputeBasicFeedback(ctx, s.ID)
	require.NoError(t, err)
	withAudio := f.sessionWithAudio(t, "s3://interviews/recordings/one.webm")

	artifacts := &fakeArtifacts{}
	sweeper := NewRetentionSweeper(f.repo, artifacts, 0)
	sweeper.now = func() time.Time { return time.Now().UTC().Add(DefaultSessionTTL + 24*time.Hour) }

	res, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Transcripts)
	assert.Equal(t, int64(1), res.Feedback)
	assert.Equal(t, int64(2), res.Sessions)
	assert.Equal(t, []string{"s3://interviews/recordings/one.webm"}, artifacts.removed)

	got, err := f.repo.GetInterviewSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	var raw models.InterviewSession
	require.NoError(t, f.repo.DB().Unscoped().Where("id = ?", withAudio.ID).First(&raw).Error)
	assert.Empty(t, raw.JobTitle)
	assert.Empty(t, raw.Company)
	assert.Empty(t, raw.AudioURL)
	assert.True(t, raw.DeletedAt.Valid)

	again, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, again)
}

func TestSweepKeepsSessionWhenArtifactRemovalFails(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	ctx := context.Background()
	s := f.sessionWithAudio(t, "recordings/two.webm")

	artifacts := &fakeArtifacts{err: errors.New("bucket unreachable")}
	sweeper := NewRetentionSweeper(f.repo, artifacts, 0)
	sweeper.now = func() time.Time { return time.Now().UTC().Add(DefaultSessionTTL + 24*time.Hour) }

	res, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Sessions)

	got, err := f.repo.GetInterviewSession(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "recordings/two.webm", got.AudioURL)

	artifacts.err = nil
	res, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Sessions)
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRetentionSweeper(f.repo, nil, 0).Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
