package paginator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/models"
)

// scriptedScroller replays a fixed list of extents; the last value repeats
type scriptedScroller struct {
	extents   []int
	reads     int
	scrolls   int
	scrollErr error
}

func (s *scriptedScroller) ScrollToLoadMore(ctx context.Context) error {
	s.scrolls++
	return s.scrollErr
}

func (s *scriptedScroller) CurrentScrollExtent(ctx context.Context) (int, error) {
	i := s.reads
	if i >= len(s.extents) {
		i = len(s.extents) - 1
	}
	s.reads++
	return s.extents[i], nil
}

func noWait(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestAdvanceTwoStrikeStagnation(t *testing.T) {
	s := &scriptedScroller{extents: []int{100, 150, 150, 150}}
	p := New(s, WithWait(noWait))
	ctx := context.Background()

	require.NoError(t, p.Prime(ctx))
	assert.Equal(t, 100, p.State().LastPageExtent)

	var results []Result
	for i := 0; i < 3; i++ {
		r, err := p.Advance(ctx)
		require.NoError(t, err)
		results = append(results, r)
	}

	assert.Equal(t, []Result{Continue, Continue, Stalled}, results)
	assert.Equal(t, 3, p.State().Measurements)
	assert.Equal(t, 150, p.State().LastPageExtent)
	assert.Equal(t, 3, s.scrolls)
}

func TestAdvanceResetsStagnationOnGrowth(t *testing.T) {
	s := &scriptedScroller{extents: []int{100, 100, 200, 200, 200}}
	p := New(s, WithWait(noWait))
	ctx := context.Background()
	require.NoError(t, p.Prime(ctx))

	r, _ := p.Advance(ctx)
	assert.Equal(t, Continue, r)
	assert.Equal(t, 1, p.State().StagnationCount)

	r, _ = p.Advance(ctx)
	assert.Equal(t, Continue, r)
	assert.Equal(t, 0, p.State().StagnationCount)

	r, _ = p.Advance(ctx)
	assert.Equal(t, Continue, r)
	r, _ = p.Advance(ctx)
	assert.Equal(t, Stalled, r)
}

func TestAdvanceCustomTolerance(t *testing.T) {
	s := &scriptedScroller{extents: []int{100}}
	p := New(s, WithWait(noWait), WithTolerance(4))
	ctx := context.Background()
	require.NoError(t, p.Prime(ctx))

	for i := 0; i < 3; i++ {
		r, err := p.Advance(ctx)
		require.NoError(t, err)
		assert.Equal(t, Continue, r)
	}
	r, err := p.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stalled, r)
}

func TestAdvanceWaitsWithinBounds(t *testing.T) {
	var waited []time.Duration
	wait := func(ctx context.Context, d time.Duration) error {
		waited = append(waited, d)
		return nil
	}
	bounds := models.DelayBounds{Min: 2 * time.Second, Max: 4 * time.Second}
	p := New(&scriptedScroller{extents: []int{1, 2, 3}}, WithWait(wait), WithDelay(bounds))

	for i := 0; i < 2; i++ {
		_, err := p.Advance(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, waited, 2)
	for _, d := range waited {
		assert.GreaterOrEqual(t, d, bounds.Min)
		assert.LessOrEqual(t, d, bounds.Max)
	}
}

func TestAdvanceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(&scriptedScroller{extents: []int{1}}, WithDelay(models.DelayBounds{Min: time.Hour, Max: time.Hour}))

	done := make(chan error, 1)
	go func() {
		_, err := p.Advance(ctx)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.Equal(t, errs.ErrorTypeCancelled, errs.TypeOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("advance did not honour cancellation")
	}
}

func TestAdvanceDriverError(t *testing.T) {
	p := New(&scriptedScroller{extents: []int{1}, scrollErr: errors.New("target closed")}, WithWait(noWait))
	_, err := p.Advance(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeDriver, errs.TypeOf(err))
}
