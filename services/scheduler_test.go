package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerAdd(t *testing.T) {
	s := NewScheduler("")
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.Add("disabled", "", time.Minute, noop))
	assert.Empty(t, s.Entries())

	err := s.Add("broken", "every tuesday", time.Minute, noop)
	assert.Error(t, err)

	require.NoError(t, s.Add("retention", "@every 1h", time.Minute, noop))
	require.NoError(t, s.Add("rescore", "*/5 * * * *", time.Minute, noop))
	assert.Len(t, s.Entries(), 2)
}

func TestSchedulerTimezone(t *testing.T) {
	assert.Equal(t, time.UTC, NewScheduler("").loc)
	assert.Equal(t, time.UTC, NewScheduler("Not/AZone").loc)
	assert.Equal(t, time.UTC, NewScheduler("UTC").loc)
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := NewScheduler("UTC")
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", "@every 1s", time.Second, func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
}
