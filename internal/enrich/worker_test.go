package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/camino/internal/knowledge"
	"github.com/roach88/camino/internal/store"
)

func TestWorkerRunOnceProcessesEnhanceJob(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	j := r.completeJourney(t, "owner-1", "Help independent retailers modernize")

	n, err := r.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := r.store.Jobs().Get(ctx, j.ID, store.JobEnhance)
	require.NoError(t, err)
	assert.Equal(t, store.JobDone, job.Status)
	assert.Equal(t, 1, job.Attempts)

	k, err := r.store.Knowledge().GetByOrg(ctx, "org-1")
	require.NoError(t, err)
	_, ok := k.Get(knowledge.KeyMarketPosition)
	assert.True(t, ok)
}

func TestWorkerRunOnceDrainsInOrder(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	j1 := r.completeJourney(t, "owner-1", "Help independent retailers modernize")
	r.clock.Advance(time.Minute)
	j2 := r.completeJourney(t, "owner-2", "Equip restaurant kitchens with robotics")

	n, err := r.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{j1.ID, j2.ID} {
		job, err := r.store.Jobs().Get(ctx, id, store.JobEnhance)
		require.NoError(t, err)
		assert.Equal(t, store.JobDone, job.Status)
	}

	// FIFO means the later journey merged last and owns the field now.
	k, err := r.store.Knowledge().GetByOrg(ctx, "org-1")
	require.NoError(t, err)
	mission, ok := k.Get(knowledge.KeyMission)
	require.True(t, ok)
	assert.Equal(t, knowledge.Text("Equip restaurant kitchens with robotics"), mission.Value)
	assert.Equal(t, j2.ID, mission.SourceJourneyID)
}

func TestWorkerPartialEnhanceAcksThenRetriesStrategically(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	j := r.completeJourney(t, "owner-1", "Help independent retailers modernize")
	r.synth.Fail(errors.New("synthesizer offline"))

	n, err := r.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The enhance job is settled for good; the retry carries the follow-up.
	enhance, err := r.store.Jobs().Get(ctx, j.ID, store.JobEnhance)
	require.NoError(t, err)
	assert.Equal(t, store.JobDone, enhance.Status)

	retry, err := r.store.Jobs().Get(ctx, j.ID, store.JobStrategicRetry)
	require.NoError(t, err)
	assert.Equal(t, store.JobPending, retry.Status)

	// Not ready until its delay passes.
	n, err = r.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	r.synth.Recover()
	r.clock.Advance(DefaultRetryDelay + time.Second)
	n, err = r.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	retry, err = r.store.Jobs().Get(ctx, j.ID, store.JobStrategicRetry)
	require.NoError(t, err)
	assert.Equal(t, store.JobDone, retry.Status)

	k, err := r.store.Knowledge().GetByOrg(ctx, "org-1")
	require.NoError(t, err)
	market, ok := k.Get(knowledge.KeyMarketPosition)
	require.True(t, ok)
	assert.Equal(t, knowledge.LayerStrategic, market.SourceLayer)
	assert.Equal(t, j.ID, market.SourceJourneyID)
}

func TestWorkerStrategicRetryBacksOffDeadLettersAndReplays(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	j := r.completeJourney(t, "owner-1", "Help independent retailers modernize")
	r.synth.Fail(errors.New("synthesizer offline"))

	// Settles the enhance job and schedules the retry.
	_, err := r.worker.RunOnce(ctx)
	require.NoError(t, err)

	// Each pass waits out the backoff and fails again.
	for i := 0; i < DefaultMaxAttempts; i++ {
		r.clock.Advance(maxRetryDelay + time.Second)
		n, err := r.worker.RunOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n, "pass %d", i)
	}

	job, err := r.store.Jobs().Get(ctx, j.ID, store.JobStrategicRetry)
	require.NoError(t, err)
	assert.Equal(t, store.JobDead, job.Status)
	assert.Equal(t, DefaultMaxAttempts, job.Attempts)
	assert.Contains(t, job.DeadLetterReason, "strategic synthesizer unavailable")
	require.NotNil(t, job.DeadLetteredAt)

	// Dead letters never run again on their own.
	r.clock.Advance(time.Hour)
	n, err := r.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// An explicit replay revives it; with the synthesizer back it finishes.
	r.synth.Recover()
	replayed, err := r.store.Jobs().Replay(ctx, j.ID, r.clock.Now())
	require.NoError(t, err)
	require.True(t, replayed)

	n, err = r.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err = r.store.Jobs().Get(ctx, j.ID, store.JobStrategicRetry)
	require.NoError(t, err)
	assert.Equal(t, store.JobDone, job.Status)

	k, err := r.store.Knowledge().GetByOrg(ctx, "org-1")
	require.NoError(t, err)
	_, ok := k.Get(knowledge.KeyMarketPosition)
	assert.True(t, ok)
}

func TestWorkerDeadLettersUnknownJourney(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	_, _, err := r.store.Jobs().Enqueue(ctx, "ghost", "org-1", store.JobEnhance, epoch, epoch)
	require.NoError(t, err)

	n, err := r.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := r.store.Jobs().Get(ctx, "ghost", store.JobEnhance)
	require.NoError(t, err)
	assert.Equal(t, store.JobDead, job.Status)
	assert.Contains(t, job.DeadLetterReason, "not found")
}

func TestRetryDelaySchedule(t *testing.T) {
	w := NewWorker(nil, nil)

	assert.Equal(t, 5*time.Second, w.retryDelay(1))
	assert.Equal(t, 10*time.Second, w.retryDelay(2))
	assert.Equal(t, 20*time.Second, w.retryDelay(3))
	assert.Equal(t, 40*time.Second, w.retryDelay(4))
	assert.Equal(t, 5*time.Minute, w.retryDelay(10), "schedule caps")
	assert.Equal(t, 5*time.Second, w.retryDelay(0))
}
