package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MSBasha93/ETA-Invetcher/internal/config"
	"github.com/MSBasha93/ETA-Invetcher/internal/eta"
	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
	"github.com/MSBasha93/ETA-Invetcher/internal/store"
)

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// testNow is the fixed clock of engine tests.
var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	d, err := invoice.ParseDay(s)
	if err != nil {
		panic(err)
	}

	return d
}

func windowKey(d string, dir invoice.Direction) string {
	return d + "/" + dir.String()
}

// fakeAPI serves search pages and details from memory. Windows without
// pages are empty.
type fakeAPI struct {
	mu         gosync.Mutex
	pages      map[string][][]string
	docs       map[string]*invoice.Document
	docErrs    map[string]error
	searchErrs map[string]error
	searches   []string
	docCalls   map[string]int

	// Hooks run outside the lock before the result is returned.
	onSearch   func(key string)
	onDocument func(id string)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages:      make(map[string][][]string),
		docs:       make(map[string]*invoice.Document),
		docErrs:    make(map[string]error),
		searchErrs: make(map[string]error),
		docCalls:   make(map[string]int),
	}
}

// addPages registers the result pages of one window and a document for
// every listed id that has none yet.
func (f *fakeAPI) addPages(d string, dir invoice.Direction, pages ...[]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pages[windowKey(d, dir)] = pages

	for _, page := range pages {
		for _, id := range page {
			if _, ok := f.docs[id]; !ok && id != "" {
				f.docs[id] = testDocument(id, day(d).Add(10*time.Hour), "OTHER")
			}
		}
	}
}

func (f *fakeAPI) setDoc(doc *invoice.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.docs[doc.UUID] = doc
}

func (f *fakeAPI) setDocErr(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err == nil {
		delete(f.docErrs, id)
		return
	}

	f.docErrs[id] = err
}

func (f *fakeAPI) setSearchErr(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err == nil {
		delete(f.searchErrs, key)
		return
	}

	f.searchErrs[key] = err
}

func (f *fakeAPI) calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.docCalls[id]
}

func (f *fakeAPI) searched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.searches...)
}

func (f *fakeAPI) resetCounters() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.searches = nil
	f.docCalls = make(map[string]int)
}

func (f *fakeAPI) Search(ctx context.Context, q eta.SearchQuery) (*eta.SearchPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := windowKey(q.From.UTC().Format(invoice.DateLayout), q.Direction)

	f.mu.Lock()
	f.searches = append(f.searches, key)
	hook := f.onSearch
	err := f.searchErrs[key]
	pages := f.pages[key]
	f.mu.Unlock()

	if hook != nil {
		hook(key)
	}

	if err != nil {
		return nil, err
	}

	if len(pages) == 0 {
		return &eta.SearchPage{ContinuationToken: eta.EndOfResultSet}, nil
	}

	idx := 0
	if q.ContinuationToken != "" {
		idx, err = strconv.Atoi(strings.TrimPrefix(q.ContinuationToken, "page-"))
		if err != nil {
			return nil, fmt.Errorf("bad token %q", q.ContinuationToken)
		}
	}

	page := &eta.SearchPage{ContinuationToken: eta.EndOfResultSet}
	if idx+1 < len(pages) {
		page.ContinuationToken = fmt.Sprintf("page-%d", idx+1)
	}

	for _, id := range pages[idx] {
		page.Summaries = append(page.Summaries, invoice.Summary{UUID: id, Direction: q.Direction})
	}

	return page, nil
}

func (f *fakeAPI) Document(ctx context.Context, id string) (*invoice.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.docCalls[id]++
	hook := f.onDocument
	err := f.docErrs[id]
	doc := f.docs[id]
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}

	if err != nil {
		return nil, err
	}

	if doc == nil {
		return nil, &eta.APIError{StatusCode: 404, Path: id, Err: eta.ErrNotFound}
	}

	cp := *doc

	return &cp, nil
}

// staticAuth hands out a fixed token or a fixed error.
type staticAuth struct {
	err error
}

func (a staticAuth) Token(context.Context) (string, error) {
	if a.err != nil {
		return "", a.err
	}

	return "test-token", nil
}

// memStates records saved states.
type memStates struct {
	mu    gosync.Mutex
	saves []config.State
	err   error
}

func (m *memStates) SaveState(_ string, st config.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	m.saves = append(m.saves, st)

	return nil
}

func (m *memStates) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.saves)
}

func (m *memStates) last() config.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.saves) == 0 {
		return config.State{}
	}

	return m.saves[len(m.saves)-1]
}

// testStore opens a fresh SQLite store; it is closed when the test ends.
func testStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "eta.db"), testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

// nopCloseStore keeps a shared test store open across engines.
type nopCloseStore struct {
	Store
}

func (nopCloseStore) Close() error { return nil }

func testDocument(id string, received time.Time, issuer string) *invoice.Document {
	return &invoice.Document{
		UUID:       id,
		InternalID: "INT-" + id,
		TypeName:   "I",
		Issuer:     invoice.Party{ID: issuer, Name: "Issuer " + issuer},
		Receiver:   invoice.Party{ID: "RCV", Name: "Receiver"},
		ReceivedAt: received,
		IssuedAt:   received.Add(-time.Hour),
		Status:     invoice.StatusValid,
		Lines:      []invoice.Line{{Description: "item", Quantity: 1, Total: 114}},
		Raw:        []byte(`{"uuid":"` + id + `"}`),
	}
}

type engineOpt func(*EngineConfig)

func withState(st config.State) engineOpt {
	return func(c *EngineConfig) { c.State = st }
}

func withAccount(a config.Account) engineOpt {
	return func(c *EngineConfig) { c.Account = a }
}

func withEvents(ch chan<- Event) engineOpt {
	return func(c *EngineConfig) { c.Events = ch }
}

func withAuth(a Authenticator) engineOpt {
	return func(c *EngineConfig) { c.Auth = a }
}

func withMetrics(r Recorder) engineOpt {
	return func(c *EngineConfig) { c.Metrics = r }
}

// newTestEngine builds an engine over api and st with the fixed test clock
// and UTC day boundaries.
func newTestEngine(t *testing.T, api DocumentAPI, st Store, states StateSaver, opts ...engineOpt) *Engine {
	t.Helper()

	cfg := &EngineConfig{
		Account:      config.Account{Name: "acme", ClientID: "client-acme", TaxID: "TAX-ACME"},
		API:          api,
		Auth:         staticAuth{},
		Store:        nopCloseStore{st},
		States:       states,
		Location:     time.UTC,
		PageSize:     100,
		LookbackDays: 30,
		Logger:       testLogger(t),
	}

	for _, o := range opts {
		o(cfg)
	}

	e, err := NewEngine(cfg)
	require.NoError(t, err)

	e.nowFunc = func() time.Time { return testNow }

	return e
}

// storeDocs commits docs into one partition.
func storeDocs(t *testing.T, st Store, p invoice.Direction, docs ...*invoice.Document) {
	t.Helper()

	ctx := t.Context()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)

	for _, d := range docs {
		require.NoError(t, tx.Upsert(ctx, d, p))
	}

	require.NoError(t, tx.Commit(ctx))
}

func count(t *testing.T, s *store.SQLiteStore, p invoice.Direction) int {
	t.Helper()

	n, err := s.Count(t.Context(), p)
	require.NoError(t, err)

	return n
}
