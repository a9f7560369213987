package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metawebart/formwatch/internal/catalog"
	"github.com/metawebart/formwatch/internal/history"
	"github.com/metawebart/formwatch/internal/inbox"
	"github.com/metawebart/formwatch/internal/logging"
)

type fakeSubmitter struct {
	code  int
	err   error
	calls int
}

func (f *fakeSubmitter) Submit(ctx context.Context) (int, error) {
	f.calls++
	return f.code, f.err
}

type fakeFetcher struct {
	messages []inbox.Message
	lookback time.Duration
	panics   bool
	runID    string
}

func (f *fakeFetcher) FetchRecent(ctx context.Context, lookback time.Duration) []inbox.Message {
	if f.panics {
		panic("imap library exploded")
	}
	f.lookback = lookback
	f.runID, _ = logging.RunIDFromContext(ctx)
	return f.messages
}

type fakeNotifier struct {
	ok      bool
	reports []string
}

func (f *fakeNotifier) Notify(ctx context.Context, report string) bool {
	f.reports = append(f.reports, report)
	return f.ok
}

type fakeJanitor struct {
	calls [][]uint32
}

func (f *fakeJanitor) Cleanup(ctx context.Context, uids []uint32) {
	f.calls = append(f.calls, uids)
}

type fixture struct {
	submitter *fakeSubmitter
	fetcher   *fakeFetcher
	notifier  *fakeNotifier
	janitor   *fakeJanitor
	slept     []time.Duration
	seq       *Sequencer
}

func acmeCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(`
sites:
  - site: acme.test
    forms:
      - name: Contact
        required: ["Acme", "foo@bar.com"]
      - name: Callback
        required: ["Acme", "+100200300"]
`))
	require.NoError(t, err)
	return c
}

func newFixture(t *testing.T, messages ...inbox.Message) *fixture {
	t.Helper()
	f := &fixture{
		submitter: &fakeSubmitter{},
		fetcher:   &fakeFetcher{messages: messages},
		notifier:  &fakeNotifier{ok: true},
		janitor:   &fakeJanitor{},
	}
	f.seq = New(Deps{
		Submitter: f.submitter,
		Fetcher:   f.fetcher,
		Notifier:  f.notifier,
		Janitor:   f.janitor,
	}, acmeCatalog(t), Options{Lookback: 15 * time.Minute, Settle: 120 * time.Second})
	f.seq.sleep = func(ctx context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return ctx.Err()
	}
	f.seq.newID = func() string { return "run-1" }
	return f
}

func message(uid uint32, subject, body string) inbox.Message {
	return inbox.Message{UID: uid, Subject: subject, Body: body, Date: "unknown"}
}

func TestSequence(t *testing.T) {
	assert.Equal(t, []State{
		StateStart, StateSubmitForms, StateSettleWait, StateFetch,
		StateMatch, StateNotify, StateCleanup, StateDone,
	}, Sequence())
	assert.Equal(t, StateDone, Next(StateDone))
	assert.Equal(t, StateDone, Next(State(42)))
	assert.Equal(t, "settle_wait", StateSettleWait.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestRunAcmeScenario(t *testing.T) {
	f := newFixture(t,
		message(7, "Newsletter", "nothing to see"),
		message(9, "New request from ACME", "email: foo@bar.com"),
	)

	out := f.seq.Run(context.Background())

	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, 0, out.SubmitExitCode)
	assert.Empty(t, out.Failed)
	assert.Equal(t, []time.Duration{120 * time.Second}, f.slept)
	assert.Equal(t, 15*time.Minute, f.fetcher.lookback)
	assert.Equal(t, "run-1", f.fetcher.runID)

	require.Len(t, f.notifier.reports, 1)
	assert.Equal(t, "\nСайт acme.test\nContact - работает\nCallback - не работает", f.notifier.reports[0])
	assert.True(t, out.NotifyOK)

	require.Len(t, f.janitor.calls, 1)
	assert.Equal(t, []uint32{9}, f.janitor.calls[0])
}

func TestRunEmptyInbox(t *testing.T) {
	f := newFixture(t)

	out := f.seq.Run(context.Background())

	assert.Empty(t, out.Failed)
	require.Len(t, f.notifier.reports, 1)
	assert.Equal(t, "\nСайт acme.test\nContact - не работает\nCallback - не работает", f.notifier.reports[0])
	require.Len(t, f.janitor.calls, 1)
	assert.Empty(t, f.janitor.calls[0])
}

func TestSubmitFailureDoesNotGate(t *testing.T) {
	f := newFixture(t, message(1, "Acme", "foo@bar.com"))
	f.submitter.code = 1

	out := f.seq.Run(context.Background())

	assert.Equal(t, 1, out.SubmitExitCode)
	assert.Equal(t, []State{StateSubmitForms}, out.Failed)
	assert.Len(t, f.notifier.reports, 1)
	assert.Len(t, f.janitor.calls, 1)
}

func TestSubmitterStartError(t *testing.T) {
	f := newFixture(t)
	f.submitter.code = -1
	f.submitter.err = errors.New("exec format error")

	out := f.seq.Run(context.Background())

	assert.Equal(t, -1, out.SubmitExitCode)
	assert.Contains(t, out.Failed, StateSubmitForms)
	assert.Len(t, f.notifier.reports, 1)
}

func TestPanickingStageStillReachesDone(t *testing.T) {
	f := newFixture(t)
	f.fetcher.panics = true

	out := f.seq.Run(context.Background())

	assert.Equal(t, []State{StateFetch}, out.Failed)
	// Matching an empty inbox still yields a full report.
	require.Len(t, f.notifier.reports, 1)
	assert.Contains(t, f.notifier.reports[0], "Contact - не работает")
	assert.Len(t, f.janitor.calls, 1)
	assert.False(t, out.FinishedAt.IsZero())
}

func TestNotifyFailureIsRecordedButCleanupRuns(t *testing.T) {
	f := newFixture(t, message(3, "Acme", "foo@bar.com +100200300"))
	f.notifier.ok = false

	out := f.seq.Run(context.Background())

	assert.False(t, out.NotifyOK)
	assert.Equal(t, []State{StateNotify}, out.Failed)
	require.Len(t, f.janitor.calls, 1)
	assert.Equal(t, []uint32{3}, f.janitor.calls[0])
}

func TestCancelledRunStillCompletes(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.seq.Run(ctx)

	assert.Contains(t, out.Failed, StateSettleWait)
	assert.Len(t, f.janitor.calls, 1)
}

func TestStepIndividually(t *testing.T) {
	f := newFixture(t, message(5, "ACME", "FOO@BAR.COM"))
	ctx := context.Background()
	var out RunOutcome

	require.NoError(t, f.seq.Step(ctx, StateFetch, &out))
	assert.Len(t, out.Messages, 1)

	err := f.seq.Step(ctx, StateNotify, &out)
	assert.Error(t, err, "notify before match has nothing to send")
	assert.Empty(t, f.notifier.reports)

	require.NoError(t, f.seq.Step(ctx, StateMatch, &out))
	assert.Equal(t, []uint32{5}, out.Verification.MatchedIDs)
	assert.Equal(t, 1, out.Verification.WorkingCount())

	require.NoError(t, f.seq.Step(ctx, StateNotify, &out))
	assert.True(t, out.NotifyOK)

	assert.Error(t, f.seq.Step(ctx, StateDone, &out))
}

func TestRunIsRecorded(t *testing.T) {
	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	f := newFixture(t, message(11, "Acme lead", "foo@bar.com"))
	f.seq.deps.Recorder = store

	out := f.seq.Run(context.Background())

	runs, err := store.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, out.RunID, runs[0].RunID)
	assert.True(t, runs[0].NotifyOK)
	assert.Equal(t, 1, runs[0].Fetched)
	assert.Equal(t, 1, runs[0].Matched)
	assert.True(t, strings.HasPrefix(runs[0].Report, "\nСайт acme.test"))

	results, err := store.FormResults(context.Background(), out.RunID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Working)
	assert.Equal(t, uint32(11), results[0].MatchedUID)
	assert.False(t, results[1].Working)
}
