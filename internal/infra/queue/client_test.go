package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type notePayload struct {
	Text string `json:"text"`
}

func TestBackoffPolicyNext(t *testing.T) {
	exp := BackoffPolicy{Type: BackoffExponential, Delay: 5 * time.Second}
	assert.Equal(t, 5*time.Second, exp.Next(1))
	assert.Equal(t, 10*time.Second, exp.Next(2))
	assert.Equal(t, 20*time.Second, exp.Next(3))

	fixed := BackoffPolicy{Type: BackoffFixed, Delay: time.Minute}
	assert.Equal(t, time.Minute, fixed.Next(4))

	assert.Equal(t, time.Duration(0), BackoffPolicy{}.Next(2))
	assert.Equal(t, maxBackoff, exp.Next(40))
}

func TestEnqueueAppliesDefaults(t *testing.T) {
	clock := newFakeClock()
	c := NewMemory(zap.NewNop(), Config{Clock: clock})

	h, err := c.Enqueue(context.Background(), KindSyncNote, "L1", notePayload{Text: "hi"}, Options{Delay: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), h.RunAt)

	pending, err := c.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, DefaultMaxAttempts, pending[0].MaxAttempts)
	assert.Equal(t, BackoffPolicy{Type: BackoffExponential, Delay: DefaultBackoffDelay}, pending[0].Backoff)
	assert.Equal(t, "L1", pending[0].LeadID)

	var p notePayload
	require.NoError(t, pending[0].Decode(&p))
	assert.Equal(t, "hi", p.Text)
}

func TestEnqueueRejectsEmptyKind(t *testing.T) {
	c := NewMemory(zap.NewNop(), Config{})
	_, err := c.Enqueue(context.Background(), "", "L1", nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestDelayedJobRunsOnlyWhenDue(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewMemory(zap.NewNop(), Config{Clock: clock})

	var runs int32
	c.Register(KindSyncNote, func(ctx context.Context, job Job) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	_, err := c.Enqueue(ctx, KindSyncNote, "L1", notePayload{}, Options{Delay: 15 * time.Minute})
	require.NoError(t, err)

	n, err := c.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(15 * time.Minute)
	n, err = c.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	pending, _ := c.Pending(ctx)
	assert.Empty(t, pending)
}

func TestRetryWithBackoffThenSucceed(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	var outcomes []string
	c := NewMemory(zap.NewNop(), Config{
		Clock:    clock,
		Observer: func(_ Kind, outcome string) { outcomes = append(outcomes, outcome) },
	})

	var attempts []int
	c.Register(KindSyncContact, func(ctx context.Context, job Job) error {
		attempts = append(attempts, job.Attempt)
		if job.Attempt < 3 {
			return errors.New("crm unavailable")
		}
		return nil
	})

	_, err := c.Enqueue(ctx, KindSyncContact, "L1", nil, DefaultOptions())
	require.NoError(t, err)

	_, err = c.ProcessDue(ctx)
	require.NoError(t, err)

	pending, _ := c.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, clock.Now().Add(5*time.Second), pending[0].RunAt)
	assert.Equal(t, "crm unavailable", pending[0].LastError)

	clock.Advance(4 * time.Second)
	n, _ := c.ProcessDue(ctx)
	assert.Equal(t, 0, n, "backoff must hold the job back")

	clock.Advance(time.Second)
	_, _ = c.ProcessDue(ctx)
	clock.Advance(10 * time.Second)
	_, _ = c.ProcessDue(ctx)

	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []string{OutcomeRetried, OutcomeRetried, OutcomeSucceeded}, outcomes)
	dead, _ := c.DeadLetters(ctx)
	assert.Empty(t, dead)
	pending, _ = c.Pending(ctx)
	assert.Empty(t, pending)
}

func TestRetryExhaustedBuriesJob(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewMemory(zap.NewNop(), Config{Clock: clock})

	c.Register(KindSyncNote, func(ctx context.Context, job Job) error {
		return errors.New("boom")
	})
	_, err := c.Enqueue(ctx, KindSyncNote, "L1", nil, DefaultOptions())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _ = c.ProcessDue(ctx)
		clock.Advance(time.Minute)
	}

	dead, _ := c.DeadLetters(ctx)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempt)
	assert.Equal(t, "boom", dead[0].LastError)
	pending, _ := c.Pending(ctx)
	assert.Empty(t, pending)
}

func TestMissingHandlerBuriesJob(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(zap.NewNop(), Config{})
	_, err := c.Enqueue(ctx, KindSyncOpportunity, "L1", nil, Options{})
	require.NoError(t, err)

	_, err = c.ProcessDue(ctx)
	require.NoError(t, err)

	dead, _ := c.DeadLetters(ctx)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].LastError, "no handler")
}

func TestPanickingHandlerIsRetried(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(zap.NewNop(), Config{Clock: newFakeClock()})
	c.Register(KindSyncNote, func(ctx context.Context, job Job) error {
		panic("nil map")
	})
	_, err := c.Enqueue(ctx, KindSyncNote, "L1", nil, DefaultOptions())
	require.NoError(t, err)

	_, err = c.ProcessDue(ctx)
	require.NoError(t, err)

	pending, _ := c.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].LastError, "handler panic")
}

func TestCancelAllLeavesClaimedJobRunning(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewMemory(zap.NewNop(), Config{Clock: clock})

	started := make(chan struct{})
	release := make(chan struct{})
	var finished int32
	c.Register(KindSendCampaignEmail, func(ctx context.Context, job Job) error {
		close(started)
		<-release
		atomic.StoreInt32(&finished, 1)
		return nil
	})

	_, err := c.Enqueue(ctx, KindSendCampaignEmail, "L1", nil, Options{})
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, KindSendCampaignEmail, "L1", nil, Options{Delay: time.Hour})
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, KindSendCampaignEmail, "L2", nil, Options{Delay: time.Hour})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.ProcessDue(ctx)
	}()
	<-started

	n, err := c.CancelAll(ctx, ForLead("L1", KindSendCampaignEmail))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the waiting L1 job is removable")

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
	pending, _ := c.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, "L2", pending[0].LeadID)
}

func TestForLeadKindFilter(t *testing.T) {
	match := ForLead("L1", KindSyncNote)
	assert.True(t, match(Job{LeadID: "L1", Kind: KindSyncNote}))
	assert.False(t, match(Job{LeadID: "L1", Kind: KindSendCampaignEmail}))
	assert.False(t, match(Job{LeadID: "L2", Kind: KindSyncNote}))
	assert.True(t, ForLead("L1")(Job{LeadID: "L1", Kind: KindSyncContact}))
}

func TestWorkersDrainAndShutdown(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(zap.NewNop(), Config{Workers: 3, PollInterval: 5 * time.Millisecond})

	var wg sync.WaitGroup
	wg.Add(5)
	c.Register(KindSyncNote, func(ctx context.Context, job Job) error {
		wg.Done()
		return nil
	})
	for i := 0; i < 5; i++ {
		_, err := c.Enqueue(ctx, KindSyncNote, "L1", nil, Options{})
		require.NoError(t, err)
	}

	require.NoError(t, c.Start(ctx))
	assert.ErrorIs(t, c.Start(ctx), ErrAlreadyStarted)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not drain the queue")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(shutdownCtx))
}

func TestSerializePerLeadRunsOneJobAtATime(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(zap.NewNop(), Config{Workers: 4, PollInterval: 2 * time.Millisecond, SerializePerLead: true})

	var inside, maxInside int32
	var wg sync.WaitGroup
	wg.Add(4)
	c.Register(KindSendCampaignEmail, func(ctx context.Context, job Job) error {
		defer wg.Done()
		n := atomic.AddInt32(&inside, 1)
		if n > atomic.LoadInt32(&maxInside) {
			atomic.StoreInt32(&maxInside, n)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inside, -1)
		return nil
	})
	for i := 0; i < 4; i++ {
		_, err := c.Enqueue(ctx, KindSendCampaignEmail, "L1", nil, Options{})
		require.NoError(t, err)
	}

	require.NoError(t, c.Start(ctx))
	wg.Wait()
	require.NoError(t, c.Shutdown(ctx))

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}
