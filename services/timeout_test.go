package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krshsl/intervue/backend/models"
)

func TestCheckTimeoutsClosesIdleSessions(t *testing.T) {
	f := newFixture(t, PipelineOptions{})
	ctx := context.Background()

	talked := f.activeSession(t)
	f.appendTurns(t, talked.ID, 2)
	silent := f.activeSession(t)
	pending := f.createSession(t)

	reaper := NewSessionTimeoutService(f.repo, f.machine, 0)

	res, err := reaper.CheckTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReapResult{}, res)

	reaper.now = func() time.Time { return time.Now().UTC().Add(DefaultIdleTimeout + time.Minute) }
	res, err = reaper.CheckTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReapResult{Completed: 1, Failed: 1}, res)

	got, err := f.machine.Get(ctx, talked.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)
	assert.Equal(t, models.FeedbackPending, got.FeedbackStatus)

	got, err = f.machine.Get(ctx, silent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, got.Status)
	assert.NotEmpty(t, got.FailureReason)

	got, err = f.machine.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, got.Status)

	res, err = reaper.CheckTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReapResult{}, res)
}

func TestLastActivity(t *testing.T) {
	created := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	started := created.Add(time.Minute)
	active := started.Add(time.Minute)

	s := &models.InterviewSession{CreatedAt: created}
	assert.Equal(t, created, lastActivity(s))
	s.StartedAt = &started
	assert.Equal(t, started, lastActivity(s))
	s.LastActivityAt = &active
	assert.Equal(t, active, lastActivity(s))
}
