package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MSBasha93/ETA-Invetcher/internal/config"
	"github.com/MSBasha93/ETA-Invetcher/internal/eta"
	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
	"github.com/MSBasha93/ETA-Invetcher/internal/store"
)

func TestEngine_FullRunStoresOnlyTheBusyDay(t *testing.T) {
	api := newFakeAPI()
	api.addPages("2024-03-05", invoice.Inbound, []string{"in-1"}, []string{"in-2"})
	api.addPages("2024-03-05", invoice.Outbound, []string{"out-1"})

	newest := testDocument("in-2", time.Date(2024, 3, 5, 18, 30, 0, 0, time.UTC), "OTHER")
	api.setDoc(newest)
	api.setDoc(testDocument("out-1", time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), "TAX-ACME"))

	st := testStore(t)
	states := &memStates{}
	e := newTestEngine(t, api, st, states, withAccount(config.Account{
		Name: "acme", ClientID: "client-acme", OldestInvoiceDate: "2024-01-01",
	}))

	report, err := e.RunOnce(t.Context(), RunOpts{})
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, report.Phase)
	assert.Equal(t, 3, report.NewDocuments)
	assert.Equal(t, 70, report.DaysProcessed, "2024-01-01 through 2024-03-10")
	assert.Equal(t, 2, count(t, st, invoice.Inbound))
	assert.Equal(t, 1, count(t, st, invoice.Outbound))
	assert.True(t, report.CursorAdvanced)

	cursor, ok, err := st.GetCursor(t.Context(), "client-acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, newest.ReceivedAt.Equal(cursor.Timestamp))
	assert.Equal(t, "in-2", cursor.UUID)
	assert.Equal(t, "INT-in-2", cursor.InternalID)

	require.Equal(t, 1, states.count(), "state is saved exactly once")
	assert.Empty(t, states.last().RetryQueue)
	assert.Empty(t, states.last().SkippedWindows)
}

func TestEngine_FailedIDIsRetriedWithoutSearch(t *testing.T) {
	api := newFakeAPI()
	api.addPages("2024-03-09", invoice.Inbound, []string{"A", "X"})
	api.setDocErr("X", &eta.APIError{StatusCode: 503, Err: eta.ErrServerError})

	st := testStore(t)
	states := &memStates{}
	acct := config.Account{Name: "acme", ClientID: "client-acme", OldestInvoiceDate: "2024-03-09"}

	report, err := newTestEngine(t, api, st, states, withAccount(acct)).RunOnce(t.Context(), RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, report.Phase)
	assert.Equal(t, 1, report.NewDocuments)
	assert.Equal(t, 1, report.RetryQueue)
	assert.Equal(t, []invoice.RetryEntry{{UUID: "X", Direction: invoice.Inbound}}, states.last().RetryQueue)

	// The registry recovers and no longer lists X anywhere.
	api.setDocErr("X", nil)
	api.addPages("2024-03-09", invoice.Inbound)
	api.resetCounters()

	e2 := newTestEngine(t, api, st, states, withAccount(acct), withState(states.last()))

	report, err = e2.RunOnce(t.Context(), RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.NewDocuments)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 0, report.RetryQueue)
	assert.Empty(t, states.last().RetryQueue)
	assert.Equal(t, 1, api.calls("X"))
	assert.Equal(t, 0, api.calls("A"), "stored ids are never re-fetched")
	assert.Equal(t, 2, count(t, st, invoice.Inbound))
}

func TestEngine_ReconcilesMutableDocuments(t *testing.T) {
	api := newFakeAPI()
	st := testStore(t)

	live := testDocument("live", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), "OTHER")
	live.CancellableUntil = testNow.Add(48 * time.Hour)

	expired := testDocument("expired", time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC), "OTHER")
	expired.CancellableUntil = testNow.Add(-time.Hour)
	expired.RejectableUntil = testNow.Add(-time.Hour)

	storeDocs(t, st, invoice.Inbound, live, expired)

	remoteLive := *live
	remoteLive.Status = invoice.StatusCancelled
	remoteLive.StatusReason = "issuer cancelled"
	api.setDoc(&remoteLive)

	remoteExpired := *expired
	remoteExpired.Status = invoice.StatusCancelled
	api.setDoc(&remoteExpired)

	e := newTestEngine(t, api, st, &memStates{})

	report, err := e.RunOnce(t.Context(), RunOpts{From: day("2024-03-10"), To: day("2024-03-10")})
	require.NoError(t, err)

	assert.Equal(t, 1, report.StatusUpdates)
	assert.Equal(t, 1, api.calls("live"))
	assert.Equal(t, 0, api.calls("expired"), "documents past their deadline are never re-fetched")

	mutable, err := st.MutableDocuments(t.Context(), invoice.Inbound, testNow)
	require.NoError(t, err)
	assert.Empty(t, mutable, "cancelled is final")
}

func TestEngine_ReconcileLeavesUnchangedStatus(t *testing.T) {
	api := newFakeAPI()
	st := testStore(t)

	doc := testDocument("doc", time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC), "OTHER")
	doc.RejectableUntil = testNow.Add(time.Hour)
	storeDocs(t, st, invoice.Outbound, doc)
	api.setDoc(doc)

	report, err := newTestEngine(t, api, st, &memStates{}).RunOnce(t.Context(), RunOpts{From: day("2024-03-10"), To: day("2024-03-10")})
	require.NoError(t, err)
	assert.Equal(t, 0, report.StatusUpdates)
	assert.Equal(t, 1, api.calls("doc"))
}

func TestEngine_MalformedDetailRollsBackOnlyItsBatch(t *testing.T) {
	api := newFakeAPI()
	api.addPages("2024-03-10", invoice.Inbound, []string{"A", "M", "B"})
	api.addPages("2024-03-10", invoice.Outbound, []string{"C"})
	api.setDocErr("M", fmt.Errorf("%w: bad payload", eta.ErrMalformed))

	st := testStore(t)
	states := &memStates{}

	report, err := newTestEngine(t, api, st, states).RunOnce(t.Context(), RunOpts{From: day("2024-03-10"), To: day("2024-03-10")})
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, report.Phase)
	assert.Equal(t, 0, count(t, st, invoice.Inbound))
	assert.Equal(t, 1, count(t, st, invoice.Outbound))
	assert.Equal(t, 0, api.calls("B"), "batch stops at the malformed document")
	assert.Equal(t, []invoice.RetryEntry{
		{UUID: "A", Direction: invoice.Inbound},
		{UUID: "M", Direction: invoice.Inbound},
		{UUID: "B", Direction: invoice.Inbound},
	}, states.last().RetryQueue)
}

func TestEngine_RerunDoesNotDuplicate(t *testing.T) {
	api := newFakeAPI()
	api.addPages("2024-03-10", invoice.Inbound, []string{"A", "B"})
	api.addPages("2024-03-10", invoice.Outbound, []string{"C"})

	st := testStore(t)
	e := newTestEngine(t, api, st, &memStates{})
	opts := RunOpts{From: day("2024-03-10"), To: day("2024-03-10")}

	first, err := e.RunOnce(t.Context(), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, first.NewDocuments)

	second, err := e.RunOnce(t.Context(), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewDocuments)

	assert.Equal(t, 2, count(t, st, invoice.Inbound))
	assert.Equal(t, 1, count(t, st, invoice.Outbound))

	for _, id := range []string{"A", "B", "C"} {
		assert.Equal(t, 1, api.calls(id), id)
	}
}

func TestEngine_CursorNeverMovesBackwards(t *testing.T) {
	api := newFakeAPI()
	api.addPages("2024-03-02", invoice.Inbound, []string{"old"})

	st := testStore(t)
	ahead := store.Cursor{Timestamp: time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC), UUID: "late", InternalID: "INT-late"}
	require.NoError(t, st.SetCursor(t.Context(), "client-acme", ahead))

	report, err := newTestEngine(t, api, st, &memStates{}).RunOnce(t.Context(), RunOpts{From: day("2024-03-02"), To: day("2024-03-02")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.NewDocuments)
	assert.False(t, report.CursorAdvanced)

	got, ok, err := st.GetCursor(t.Context(), "client-acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ahead.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, "late", got.UUID)
}

func TestEngine_StartsFromCursorDay(t *testing.T) {
	api := newFakeAPI()
	st := testStore(t)
	require.NoError(t, st.SetCursor(t.Context(), "client-acme",
		store.Cursor{Timestamp: time.Date(2024, 3, 8, 15, 0, 0, 0, time.UTC), UUID: "c"}))

	report, err := newTestEngine(t, api, st, &memStates{}).RunOnce(t.Context(), RunOpts{})
	require.NoError(t, err)

	assert.Equal(t, day("2024-03-08"), report.From)
	assert.Equal(t, day("2024-03-10"), report.To)
	assert.Equal(t, 3, report.DaysProcessed)
	assert.Equal(t, []string{
		"2024-03-08/Received", "2024-03-08/Sent",
		"2024-03-09/Received", "2024-03-09/Sent",
		"2024-03-10/Received", "2024-03-10/Sent",
	}, api.searched())
}

func TestEngine_CancelledRunPersistsNothing(t *testing.T) {
	api := newFakeAPI()
	api.addPages("2024-03-06", invoice.Inbound, []string{"A"})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	api.onSearch = func(key string) {
		if key == windowKey("2024-03-08", invoice.Inbound) {
			cancel()
		}
	}

	st := testStore(t)
	states := &memStates{}

	report, err := newTestEngine(t, api, st, states).RunOnce(ctx, RunOpts{From: day("2024-03-05"), To: day("2024-03-10")})
	require.NoError(t, err)

	assert.Equal(t, PhaseCancelled, report.Phase)
	assert.Equal(t, 0, states.count())
	assert.Equal(t, 1, count(t, st, invoice.Inbound), "committed batches stay committed")

	_, ok, err := st.GetCursor(t.Context(), "client-acme")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NotContains(t, api.searched(), windowKey("2024-03-08", invoice.Outbound))
}

func TestEngine_AuthFailureFailsAccount(t *testing.T) {
	api := newFakeAPI()
	states := &memStates{}
	authErr := fmt.Errorf("%w: invalid_client", eta.ErrAuth)

	report, err := newTestEngine(t, api, testStore(t), states, withAuth(staticAuth{err: authErr})).
		RunOnce(t.Context(), RunOpts{})
	require.Error(t, err)
	assert.ErrorIs(t, err, eta.ErrAuth)
	require.NotNil(t, report)
	assert.Equal(t, PhaseFailed, report.Phase)
	assert.Empty(t, api.searched())
	assert.Equal(t, 0, states.count())
}

func TestEngine_AuthFailureMidRunFailsAccount(t *testing.T) {
	api := newFakeAPI()
	authErr := fmt.Errorf("%w: token exchange rejected", eta.ErrAuth)

	for _, d := range []string{"2024-03-01", "2024-03-02", "2024-03-03"} {
		for _, dir := range invoice.Directions {
			api.setSearchErr(windowKey(d, dir), authErr)
		}
	}

	states := &memStates{}

	report, err := newTestEngine(t, api, testStore(t), states).
		RunOnce(t.Context(), RunOpts{From: day("2024-03-01"), To: day("2024-03-03")})
	require.Error(t, err)
	assert.ErrorIs(t, err, eta.ErrAuth)
	assert.Equal(t, PhaseFailed, report.Phase)
	assert.Equal(t, 0, states.count(), "a failed run persists no queues")
	assert.Equal(t, []string{windowKey("2024-03-01", invoice.Inbound)}, api.searched())
	assert.Zero(t, report.SkippedWindows)
}

func TestEngine_RejectedTokenOnDetailFailsAccount(t *testing.T) {
	api := newFakeAPI()
	api.addPages("2024-03-01", invoice.Inbound, []string{"A", "B"})
	api.addPages("2024-03-02", invoice.Inbound, []string{"C"})
	api.setDocErr("A", &eta.APIError{StatusCode: 401, Err: eta.ErrUnauthorized})

	st := testStore(t)
	states := &memStates{}

	report, err := newTestEngine(t, api, st, states).
		RunOnce(t.Context(), RunOpts{From: day("2024-03-01"), To: day("2024-03-02")})
	require.Error(t, err)
	assert.ErrorIs(t, err, eta.ErrUnauthorized)
	assert.Equal(t, PhaseFailed, report.Phase)
	assert.Equal(t, 0, states.count())
	assert.Equal(t, 0, api.calls("B"))
	assert.Equal(t, 0, count(t, st, invoice.Inbound))
	assert.NotContains(t, api.searched(), windowKey("2024-03-02", invoice.Inbound))
}

func TestEngine_AuthFailureInRetryQueueFailsAccount(t *testing.T) {
	api := newFakeAPI()
	api.setDocErr("Q", fmt.Errorf("%w: invalid_client", eta.ErrAuth))

	states := &memStates{}
	prev := config.State{RetryQueue: []invoice.RetryEntry{{UUID: "Q", Direction: invoice.Inbound}}}

	report, err := newTestEngine(t, api, testStore(t), states, withState(prev)).
		RunOnce(t.Context(), RunOpts{From: day("2024-03-10"), To: day("2024-03-10")})
	require.Error(t, err)
	assert.ErrorIs(t, err, eta.ErrAuth)
	assert.Equal(t, PhaseFailed, report.Phase)
	assert.Empty(t, api.searched())
	assert.Equal(t, 0, states.count())
}

func TestEngine_StateSaveFailureFailsRun(t *testing.T) {
	states := &memStates{err: errors.New("disk full")}

	report, err := newTestEngine(t, newFakeAPI(), testStore(t), states).
		RunOnce(t.Context(), RunOpts{From: day("2024-03-10"), To: day("2024-03-10")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, PhaseFailed, report.Phase)
}

func TestEngine_SkippedWindowRetriedNextRun(t *testing.T) {
	api := newFakeAPI()
	api.addPages("2024-03-10", invoice.Outbound, []string{"S"})

	key := windowKey("2024-03-10", invoice.Outbound)
	api.setSearchErr(key, &eta.APIError{StatusCode: 503, Err: eta.ErrServerError})

	st := testStore(t)
	states := &memStates{}

	report, err := newTestEngine(t, api, st, states).RunOnce(t.Context(), RunOpts{From: day("2024-03-10"), To: day("2024-03-10")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedWindows)
	assert.Equal(t, []invoice.Window{{Day: day("2024-03-10"), Direction: invoice.Outbound}}, states.last().SkippedWindows)
	assert.Equal(t, 0, count(t, st, invoice.Outbound))

	api.setSearchErr(key, nil)

	// Discovery covers another day; only phase 0 can pick S up.
	report, err = newTestEngine(t, api, st, states, withState(states.last())).
		RunOnce(t.Context(), RunOpts{From: day("2024-03-01"), To: day("2024-03-01")})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 1, report.NewDocuments)
	assert.Equal(t, 0, report.SkippedWindows)
	assert.Empty(t, states.last().SkippedWindows)
	assert.Equal(t, 1, count(t, st, invoice.Outbound))
}

func TestEngine_RetryEntriesWithoutDirection(t *testing.T) {
	api := newFakeAPI()
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	api.setDoc(testDocument("own", at, "TAX-ACME"))
	api.setDoc(testDocument("other", at, "SUPPLIER"))

	st := testStore(t)
	storeDocs(t, st, invoice.Outbound, testDocument("stored", at, "TAX-ACME"))

	states := &memStates{}
	prev := config.State{
		OldestInvoiceDate: "2023-06-01",
		RetryQueue: []invoice.RetryEntry{
			{UUID: "own"}, {UUID: "other"}, {UUID: "stored"}, {UUID: "own"},
		},
	}

	report, err := newTestEngine(t, api, st, states, withState(prev)).
		RunOnce(t.Context(), RunOpts{From: day("2024-03-10"), To: day("2024-03-10")})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Resolved)
	assert.Equal(t, 2, count(t, st, invoice.Outbound), "issued by the account")
	assert.Equal(t, 1, count(t, st, invoice.Inbound))
	assert.Equal(t, 0, api.calls("stored"))
	assert.Empty(t, states.last().RetryQueue)
	assert.Equal(t, "2023-06-01", states.last().OldestInvoiceDate, "probe result survives the run")
}

func TestEngine_EmitsProgressPerDay(t *testing.T) {
	events := make(chan Event, 64)

	_, err := newTestEngine(t, newFakeAPI(), testStore(t), &memStates{}, withEvents(events)).
		RunOnce(t.Context(), RunOpts{From: day("2024-03-08"), To: day("2024-03-10")})
	require.NoError(t, err)
	close(events)

	var (
		progress []float64
		phases   []Phase
	)

	for ev := range events {
		assert.Equal(t, "acme", ev.Account)
		assert.NotEmpty(t, ev.RunID)

		switch ev.Kind {
		case EventProgress:
			progress = append(progress, ev.Percent)
		case EventAccountStatus:
			phases = append(phases, ev.Phase)
		}
	}

	require.Len(t, progress, 3)
	assert.InDelta(t, 100.0/3, progress[0], 0.01)
	assert.InDelta(t, 100.0, progress[2], 0.01)
	assert.Equal(t, []Phase{PhaseInit, PhaseRetryQueue, PhaseReconcile, PhaseDiscovery, PhaseFinalize}, phases)
}

type recordingMetrics struct {
	stored  map[invoice.Direction]int
	updates int
	retry   int
	skipped int
	phases  []string
}

func (m *recordingMetrics) DocumentsStored(_ string, p invoice.Direction, n int) { m.stored[p] += n }
func (m *recordingMetrics) StatusUpdated(_ string, n int)                         { m.updates += n }
func (m *recordingMetrics) QueueSizes(_ string, retry, skipped int) {
	m.retry, m.skipped = retry, skipped
}
func (m *recordingMetrics) RunFinished(_ string, phase string, _ time.Duration) {
	m.phases = append(m.phases, phase)
}

func TestEngine_RecordsMetrics(t *testing.T) {
	api := newFakeAPI()
	api.addPages("2024-03-10", invoice.Inbound, []string{"A", "B", "F"})
	api.addPages("2024-03-10", invoice.Outbound, []string{"C"})
	api.setDocErr("F", &eta.APIError{StatusCode: 404, Err: eta.ErrNotFound})

	m := &recordingMetrics{stored: make(map[invoice.Direction]int)}

	_, err := newTestEngine(t, api, testStore(t), &memStates{}, withMetrics(m)).
		RunOnce(t.Context(), RunOpts{From: day("2024-03-10"), To: day("2024-03-10")})
	require.NoError(t, err)

	assert.Equal(t, 2, m.stored[invoice.Inbound])
	assert.Equal(t, 1, m.stored[invoice.Outbound])
	assert.Equal(t, 1, m.retry)
	assert.Equal(t, []string{"done"}, m.phases)
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(&EngineConfig{Account: config.Account{Name: "acme"}})
	require.Error(t, err)

	_, err = NewEngine(&EngineConfig{
		Account: config.Account{Name: "acme"},
		State:   config.State{OldestInvoiceDate: "03/05/2024"},
		API:     newFakeAPI(),
		Auth:    staticAuth{},
		Store:   testStore(t),
		States:  &memStates{},
	})
	require.Error(t, err)
}

func TestRunRange(t *testing.T) {
	cairo, err := time.LoadLocation("Africa/Cairo")
	require.NoError(t, err)

	now := time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC) // already 2024-03-11 in Cairo

	tests := []struct {
		name      string
		cursor    store.Cursor
		hasCursor bool
		oldest    time.Time
		opts      RunOpts
		loc       *time.Location
		from, to  string
	}{
		{name: "lookback", loc: time.UTC, from: "2024-02-09", to: "2024-03-10"},
		{name: "oldest date", oldest: day("2024-01-01"), loc: time.UTC, from: "2024-01-01", to: "2024-03-10"},
		{
			name:   "cursor wins over oldest",
			cursor: store.Cursor{Timestamp: time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC)}, hasCursor: true,
			oldest: day("2024-01-01"), loc: cairo, from: "2024-03-05", to: "2024-03-11",
		},
		{
			name: "explicit range", oldest: day("2024-01-01"), loc: time.UTC,
			opts: RunOpts{From: day("2024-02-01"), To: day("2024-02-03")}, from: "2024-02-01", to: "2024-02-03",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to := runRange(tt.cursor, tt.hasCursor, tt.oldest, now, tt.loc, 30, tt.opts)
			assert.Equal(t, tt.from, from.Format(invoice.DateLayout))
			assert.Equal(t, tt.to, to.Format(invoice.DateLayout))
		})
	}
}
