package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
	"github.com/liquidcrypto/liquidos-builder/internal/builder/api"
)

func startPoller(t *testing.T, s *Store) *Poller {
	t.Helper()
	p := NewPoller(s, 10*time.Millisecond, zerolog.New(os.Stderr))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func TestPoller_PollsActiveBuild(t *testing.T) {
	fc := newFakeClient()
	s := newTestStore(fc)
	seed(s, builder.BuildRecord{ID: "b-1", Phase: builder.PhaseImplementing})

	p := startPoller(t, s)

	assert.Eventually(t, func() bool {
		return fc.statusCount("b-1") >= 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, p.Active())
}

func TestPoller_SkipsNonPollable(t *testing.T) {
	fc := newFakeClient()
	s := newTestStore(fc)
	seed(s, builder.BuildRecord{ID: "b-done", Phase: builder.PhaseComplete})
	seed(s, builder.BuildRecord{ID: "b-review", Phase: builder.PhaseAwaitingReview})

	p := startPoller(t, s)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fc.statusCount("b-done"))
	assert.Zero(t, fc.statusCount("b-review"))
	assert.Zero(t, p.Active())
}

func TestPoller_StopsOnTerminalPhase(t *testing.T) {
	fc := newFakeClient()
	s := newTestStore(fc)
	seed(s, builder.BuildRecord{ID: "b-1", Phase: builder.PhaseVerifying})
	fc.setStatus(builder.BuildUpdate{Phase: phaseP(builder.PhaseComplete)}, nil)

	p := startPoller(t, s)

	assert.Eventually(t, func() bool {
		return p.Active() == 0 && fc.statusCount("b-1") > 0
	}, time.Second, 5*time.Millisecond)

	// Allow a tick already selected at stop time to drain.
	time.Sleep(30 * time.Millisecond)
	before := fc.statusCount("b-1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, fc.statusCount("b-1"))
}

func TestPoller_StopsOnAwaitingReview(t *testing.T) {
	fc := newFakeClient()
	s := newTestStore(fc)
	seed(s, builder.BuildRecord{ID: "b-1", Phase: builder.PhasePlanning})
	fc.setStatus(builder.BuildUpdate{Phase: phaseP(builder.PhaseAwaitingReview)}, nil)

	p := startPoller(t, s)

	assert.Eventually(t, func() bool {
		rec, _ := s.Get("b-1")
		return rec.Phase == builder.PhaseAwaitingReview && p.Active() == 0
	}, time.Second, 5*time.Millisecond)

	// Polling pauses while the plan waits for the user.
	time.Sleep(30 * time.Millisecond)
	before := fc.statusCount("b-1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, fc.statusCount("b-1"))
}

func TestPoller_StopsOnCancel(t *testing.T) {
	fc := newFakeClient()
	s := newTestStore(fc)
	seed(s, builder.BuildRecord{ID: "b-1", Phase: builder.PhaseImplementing})

	p := startPoller(t, s)
	assert.Eventually(t, func() bool {
		return fc.statusCount("b-1") > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.CancelBuild(context.Background(), "b-1"))

	assert.Eventually(t, func() bool {
		return p.Active() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPoller_StopsOnDelete(t *testing.T) {
	fc := newFakeClient()
	s := newTestStore(fc)
	seed(s, builder.BuildRecord{ID: "b-1", Phase: builder.PhaseImplementing})

	p := startPoller(t, s)
	assert.Eventually(t, func() bool {
		return p.Active() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.DeleteBuild(context.Background(), "b-1"))
	assert.Eventually(t, func() bool {
		return p.Active() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPoller_PicksUpNewBuilds(t *testing.T) {
	fc := newFakeClient()
	fc.createRec = builder.BuildRecord{ID: "b-new", Phase: builder.PhaseStaging}
	s := newTestStore(fc)

	p := startPoller(t, s)
	assert.Zero(t, p.Active())

	_, err := s.SubmitBuild(context.Background(), api.CreateBuildRequest{Description: "todo app"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return p.Active() == 1 && fc.statusCount("b-new") > 0
	}, time.Second, 5*time.Millisecond)
}
