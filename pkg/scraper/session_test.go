package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/extract"
	"feedcrawler/pkg/identity"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/models"
)

func run(t *testing.T, d *fakeDriver, target models.CrawlTarget, opts ...SessionOption) (Outcome, *Session, *recordingReporter) {
	t.Helper()
	rep := &recordingReporter{}
	opts = append([]SessionOption{WithReporter(rep), WithWaitFunc(noWait)}, opts...)
	s := NewSession(d, target, opts...)
	return s.Run(context.Background()), s, rep
}

func permalinks(records []models.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Permalink
	}
	return out
}

func TestSessionStopsAtMaxRecords(t *testing.T) {
	d := &fakeDriver{
		passes:  [][]stubPost{posts(1, 4), posts(3, 10)},
		extents: []int{100, 200, 200, 200},
	}

	out, s, rep := run(t, d, feedTarget(5))

	require.Equal(t, StateDone, out.State)
	assert.Equal(t, StopReasonMaxRecords, out.StopReason)
	assert.NoError(t, out.Err)
	assert.Equal(t, 2, out.Passes)
	assert.Equal(t, []string{
		"https://x.com/user1/status/1001",
		"https://x.com/user2/status/1002",
		"https://x.com/user3/status/1003",
		"https://x.com/user4/status/1004",
		"https://x.com/user5/status/1005",
	}, permalinks(out.Records))

	for _, r := range out.Records {
		assert.Equal(t, models.KindPost, r.Kind)
		assert.Equal(t, "TSLA", r.Subject)
		assert.NotEmpty(t, r.Author)
		assert.Empty(t, r.ParentPermalink)
	}

	assert.Equal(t, []State{
		StateInit, StateLoading, StateExtracting, StatePagination,
		StateLoading, StateExtracting, StateDone,
	}, s.Transitions())

	assert.Equal(t, []string{"https://x.com/search?q=%24TSLA&src=typed_query&f=live"}, d.navigations)
	require.Len(t, rep.emits, 1)
	assert.Len(t, rep.emits[0], 5)
	assert.Empty(t, rep.failures)
}

func TestSessionStopsOnStagnantFeed(t *testing.T) {
	d := &fakeDriver{
		passes:  [][]stubPost{posts(1, 3)},
		extents: []int{100},
	}

	out, s, rep := run(t, d, feedTarget(50))

	require.Equal(t, StateDone, out.State)
	assert.Equal(t, StopReasonStagnant, out.StopReason)
	assert.Len(t, out.Records, 3)
	assert.Equal(t, 2, out.Passes)
	assert.Equal(t, 2, d.scrolls)

	tr := s.Transitions()
	require.GreaterOrEqual(t, len(tr), 2)
	assert.Equal(t, StateStalled, tr[len(tr)-2])
	assert.Equal(t, StateDone, tr[len(tr)-1])

	require.Len(t, rep.emits, 1)
	assert.Empty(t, rep.failures)
}

func TestSessionStagnationToleranceResetsOnGrowth(t *testing.T) {
	d := &fakeDriver{
		passes:  [][]stubPost{posts(1, 2), posts(1, 2), posts(1, 4), posts(1, 6)},
		extents: []int{100, 100, 200, 200, 200},
	}

	out, _, _ := run(t, d, feedTarget(50))

	require.Equal(t, StateDone, out.State)
	assert.Equal(t, StopReasonStagnant, out.StopReason)
	// unchanged, grew, unchanged, unchanged
	assert.Equal(t, 4, d.scrolls)
	assert.Len(t, out.Records, 6)
}

func TestSessionAuthRedirect(t *testing.T) {
	d := &fakeDriver{
		passes:   [][]stubPost{posts(1, 3)},
		extents:  []int{100},
		redirect: "https://x.com/i/flow/login?redirect_after_login=%2Fsearch",
	}

	out, s, rep := run(t, d, feedTarget(10))

	require.Equal(t, StateFailed, out.State)
	assert.Equal(t, errs.ErrorTypeAuthenticationRequired, out.Classification())
	assert.False(t, out.ManualInterventionRequired())
	assert.Empty(t, out.Records)
	assert.Equal(t, []State{StateInit, StateFailed}, s.Transitions())

	assert.Len(t, d.navigations, 1)
	assert.Zero(t, d.handleReads)
	assert.Zero(t, d.scrolls)

	require.Len(t, rep.emits, 1)
	assert.Empty(t, rep.emits[0])
	assert.Equal(t, []errs.ErrorType{errs.ErrorTypeAuthenticationRequired}, rep.failures)
	assert.Empty(t, rep.interventions)
}

func TestSessionHomeRedirect(t *testing.T) {
	d := &fakeDriver{redirect: "https://x.com/home", extents: []int{100}}

	out, _, _ := run(t, d, feedTarget(10))

	require.Equal(t, StateFailed, out.State)
	assert.Equal(t, errs.ErrorTypeAuthenticationRequired, out.Classification())
}

func TestSessionChallengeRequestsIntervention(t *testing.T) {
	d := &fakeDriver{
		passes:         [][]stubPost{posts(1, 3)},
		extents:        []int{100, 200},
		challengeAfter: 1,
	}

	out, s, rep := run(t, d, feedTarget(10))

	require.Equal(t, StateFailed, out.State)
	assert.Equal(t, errs.ErrorTypeChallengeDetected, out.Classification())
	assert.True(t, out.ManualInterventionRequired())
	assert.Len(t, out.Records, 3, "records from before the challenge are kept")
	assert.Equal(t, StateFailed, s.Transitions()[len(s.Transitions())-1])

	require.Len(t, rep.emits, 1)
	assert.Len(t, rep.emits[0], 3)
	assert.Empty(t, rep.failures)
	assert.Len(t, rep.interventions, 1)
}

func TestSessionChallengeURL(t *testing.T) {
	d := &fakeDriver{redirect: "https://x.com/account/access", extents: []int{100}}

	out, _, rep := run(t, d, feedTarget(10))

	assert.Equal(t, errs.ErrorTypeChallengeDetected, out.Classification())
	assert.Len(t, rep.interventions, 1)
}

func TestSessionReplies(t *testing.T) {
	root := stubPost{author: "alice", datetime: "2024-01-01T00:00:00.000Z", text: "root", href: "/alice/status/100"}
	r1 := stubPost{author: "bob", datetime: "2024-01-01T01:00:00.000Z", text: "first", href: "/bob/status/101"}
	r2 := stubPost{author: "carol", datetime: "2024-01-01T02:00:00.000Z", text: "second", href: "/carol/status/102"}
	r3 := stubPost{author: "dave", datetime: "2024-01-01T03:00:00.000Z", text: "third", href: "/dave/status/103"}

	d := &fakeDriver{
		passes:  [][]stubPost{{root, r1, r2}, {r1, root, r3}},
		extents: []int{100, 200, 200, 200},
	}

	target := feedTarget(3)
	target.Kind = models.KindReply
	target.URL = "https://x.com/alice/status/100"

	out, _, _ := run(t, d, target)

	require.Equal(t, StateDone, out.State)
	assert.Equal(t, []string{
		"https://x.com/bob/status/101",
		"https://x.com/carol/status/102",
		"https://x.com/dave/status/103",
	}, permalinks(out.Records))
	for _, r := range out.Records {
		assert.Equal(t, models.KindReply, r.Kind)
		assert.Equal(t, "https://x.com/alice/status/100", r.ParentPermalink)
	}
	assert.Equal(t, []string{"https://x.com/alice/status/100"}, d.navigations)
}

func TestSessionReplyWithoutTimestampUsesPlaceholder(t *testing.T) {
	root := post(1)
	reply := stubPost{author: "bob", text: "no time", href: "/bob/status/5"}

	d := &fakeDriver{passes: [][]stubPost{{root, reply}}, extents: []int{100}}
	target := feedTarget(1)
	target.Kind = models.KindReply
	target.URL = "https://x.com/user1/status/1001"
	target.DatePlaceholder = "n/a"

	out, _, _ := run(t, d, target)

	require.Len(t, out.Records, 1)
	assert.Equal(t, "n/a", out.Records[0].PostedAt)
}

func TestSessionSkipsBrokenPosts(t *testing.T) {
	noAuthor := post(2)
	noAuthor.author = ""

	d := &fakeDriver{
		passes:  [][]stubPost{{post(1), {broken: true}, noAuthor, post(3)}},
		extents: []int{100},
	}

	out, _, _ := run(t, d, feedTarget(2))

	require.Equal(t, StateDone, out.State)
	assert.Equal(t, 2, out.Skipped)
	assert.Equal(t, []string{
		"https://x.com/user1/status/1001",
		"https://x.com/user3/status/1003",
	}, permalinks(out.Records))
}

func TestSessionDeduplicatesWithoutPermalink(t *testing.T) {
	a := post(1)
	a.href = ""
	b := a
	c := post(2)
	c.href = ""

	d := &fakeDriver{passes: [][]stubPost{{a, b, c}, {c, a}}, extents: []int{100}}

	out, _, _ := run(t, d, feedTarget(10))

	require.Len(t, out.Records, 2)
	assert.Equal(t, "post number 1", out.Records[0].Content)
	assert.Equal(t, "post number 2", out.Records[1].Content)
}

func TestSessionSeededTrackerSkipsKnownRecords(t *testing.T) {
	tracker := identity.NewTracker()
	tracker.Seed("https://x.com/user1/status/1001")

	d := &fakeDriver{passes: [][]stubPost{posts(1, 3)}, extents: []int{100}}

	out, _, _ := run(t, d, feedTarget(10), WithTracker(tracker))

	assert.Equal(t, []string{
		"https://x.com/user2/status/1002",
		"https://x.com/user3/status/1003",
	}, permalinks(out.Records))
}

func TestSessionCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &fakeDriver{passes: [][]stubPost{posts(1, 2), posts(1, 6)}, extents: []int{100, 200}}
	rep := &recordingReporter{}
	cancelling := func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	s := NewSession(d, feedTarget(10), WithReporter(rep), WithWaitFunc(cancelling))
	out := s.Run(ctx)

	require.Equal(t, StateFailed, out.State)
	assert.Equal(t, errs.ErrorTypeCancelled, out.Classification())
	assert.Len(t, out.Records, 2)

	require.Len(t, rep.emits, 1, "partial records are emitted after cancellation")
	assert.Len(t, rep.emits[0], 2)
	assert.Equal(t, []errs.ErrorType{errs.ErrorTypeCancelled}, rep.failures)
}

func TestSessionLoadTimeout(t *testing.T) {
	d := &fakeDriver{empty: true, extents: []int{100}}
	target := feedTarget(10)
	target.LoadTimeout = 20 * time.Millisecond
	target.LoadRetries = 3

	rep := &recordingReporter{}
	s := NewSession(d, target, WithReporter(rep), WithWaitFunc(shortWait), WithPollInterval(time.Millisecond))
	out := s.Run(context.Background())

	require.Equal(t, StateFailed, out.State)
	assert.Equal(t, errs.ErrorTypePageLoadTimeout, out.Classification())
	assert.Contains(t, out.Err.Error(), "3 attempts")
	assert.GreaterOrEqual(t, d.handleReads, 3)
	assert.Equal(t, []errs.ErrorType{errs.ErrorTypePageLoadTimeout}, rep.failures)
}

func TestSessionLoadRecoversOnRetry(t *testing.T) {
	d := &slowDriver{fakeDriver: fakeDriver{passes: [][]stubPost{posts(1, 2)}, extents: []int{100}}, hangs: 2}
	target := feedTarget(2)
	target.LoadTimeout = 10 * time.Millisecond
	target.LoadRetries = 3

	rep := &recordingReporter{}
	s := NewSession(d, target, WithReporter(rep), WithWaitFunc(noWait))
	out := s.Run(context.Background())

	require.Equal(t, StateDone, out.State)
	assert.Len(t, out.Records, 2)
	assert.Equal(t, 0, d.hangs)
	assert.Empty(t, rep.failures)
}

func TestSessionLoadPausesBetweenAttempts(t *testing.T) {
	d := &slowDriver{fakeDriver: fakeDriver{passes: [][]stubPost{posts(1, 2)}, extents: []int{100}}, hangs: 2}
	target := feedTarget(2)
	target.LoadTimeout = 10 * time.Millisecond
	target.LoadRetries = 3
	target.Delay = models.DelayBounds{Min: 2 * time.Second, Max: 3 * time.Second}

	var mu sync.Mutex
	var waits []time.Duration
	record := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return ctx.Err()
	}

	s := NewSession(d, target, WithReporter(&recordingReporter{}), WithWaitFunc(record))
	out := s.Run(context.Background())

	require.Equal(t, StateDone, out.State)
	require.GreaterOrEqual(t, len(waits), 2)
	for _, w := range waits[:2] {
		assert.GreaterOrEqual(t, w, 2*time.Second)
		assert.LessOrEqual(t, w, 3*time.Second)
	}
}

// slowDriver blocks the first hangs handle reads until the attempt deadline
type slowDriver struct {
	fakeDriver
	hangs int
}

func (d *slowDriver) CurrentPostHandles(ctx context.Context) ([]extract.Handle, error) {
	if d.hangs > 0 {
		d.hangs--
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return d.fakeDriver.CurrentPostHandles(ctx)
}

func TestSessionInvalidTarget(t *testing.T) {
	d := &fakeDriver{extents: []int{100}}

	out, s, rep := run(t, d, feedTarget(0))

	require.Equal(t, StateFailed, out.State)
	assert.Equal(t, errs.ErrorTypeConfig, out.Classification())
	assert.Equal(t, []State{StateInit, StateFailed}, s.Transitions())
	assert.Empty(t, d.navigations)
	assert.Equal(t, []errs.ErrorType{errs.ErrorTypeConfig}, rep.failures)
}

func TestSessionNavigationError(t *testing.T) {
	d := &fakeDriver{navErr: errors.New("net::ERR_CONNECTION_RESET"), extents: []int{100}}

	out, _, _ := run(t, d, feedTarget(5))

	require.Equal(t, StateFailed, out.State)
	assert.Equal(t, errs.ErrorTypeDriver, out.Classification())
}

func TestSessionLogsTransitions(t *testing.T) {
	log := logger.NewTestLogger()
	d := &fakeDriver{passes: [][]stubPost{posts(1, 2)}, extents: []int{100}}

	_, _, _ = run(t, d, feedTarget(2), WithSessionLogger(log))

	assert.True(t, log.HasMessage("crawl finished"))
	assert.NotEmpty(t, log.GetMessagesByLevel("DEBUG"))
}

type countingObserver struct {
	mu       sync.Mutex
	passes   int
	records  int
	skips    int
	outcomes []string
}

func (o *countingObserver) ObservePass(models.RecordKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.passes++
}

func (o *countingObserver) ObserveRecords(_ models.RecordKind, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records += n
}

func (o *countingObserver) ObserveSkip(models.RecordKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skips++
}

func (o *countingObserver) ObserveOutcome(_ models.RecordKind, state, classification string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, state+"/"+classification)
}

func TestSessionObserver(t *testing.T) {
	obs := &countingObserver{}
	d := &fakeDriver{
		passes:  [][]stubPost{{post(1), {broken: true}}, posts(1, 3)},
		extents: []int{100, 200, 200},
	}

	out, _, _ := run(t, d, feedTarget(3), WithObserver(obs))

	require.Equal(t, StateDone, out.State)
	assert.Equal(t, 2, obs.passes)
	assert.Equal(t, 3, obs.records)
	assert.Equal(t, 1, obs.skips)
	assert.Equal(t, []string{"done/"}, obs.outcomes)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "init", StateInit.String())
	assert.Equal(t, "stalled", StateStalled.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestObserversFanOut(t *testing.T) {
	a, b := &countingObserver{}, &countingObserver{}
	obs := Observers(a, nil, b)

	obs.ObservePass(models.KindPost)
	obs.ObserveRecords(models.KindPost, 4)
	obs.ObserveSkip(models.KindReply)
	obs.ObserveOutcome(models.KindPost, "done", "")

	for _, o := range []*countingObserver{a, b} {
		assert.Equal(t, 1, o.passes)
		assert.Equal(t, 4, o.records)
		assert.Equal(t, 1, o.skips)
		assert.Equal(t, []string{"done/"}, o.outcomes)
	}

	assert.IsType(t, nopObserver{}, Observers(nil))
}
