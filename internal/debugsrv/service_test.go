package debugsrv

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bgqueue/internal/background"
	"bgqueue/internal/journal"
	"bgqueue/pkg/logx"
)

type fakeQueue struct {
	healthy   bool
	diagErr   error
	diagCalls int
	cancelled []string
}

func (f *fakeQueue) Snapshot() background.Report {
	return background.Report{Pending: 2, Peak: 5, Capacity: 8, Band: background.BandMedium, Healthy: f.healthy}
}
func (f *fakeQueue) Diagnostics() error { f.diagCalls++; return f.diagErr }
func (f *fakeQueue) Cancel(name string) int {
	f.cancelled = append(f.cancelled, name)
	return 3
}
func (f *fakeQueue) Healthy() bool { return f.healthy }

func do(t *testing.T, h http.Handler, method, target string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	q := &fakeQueue{healthy: true}
	h := Router("", "", q, nil, logx.Nop())
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz").Code)

	q.healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/healthz").Code)
}

func TestAuth(t *testing.T) {
	t.Parallel()
	h := Router("/ops", "s3cret", &fakeQueue{healthy: true}, nil, logx.Nop())

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/healthz?token=nope").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz?token=s3cret").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ops/background", "Authorization", "Bearer s3cret").Code)
}

func TestBackgroundEndpoints(t *testing.T) {
	t.Parallel()
	q := &fakeQueue{healthy: true}
	h := Router("/debug/", "", q, nil, logx.Nop())

	rec := do(t, h, http.MethodGet, "/debug/background")
	require.Equal(t, http.StatusOK, rec.Code)
	var rep background.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, 5, rep.Peak)
	assert.Equal(t, background.BandMedium, rep.Band)

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/debug/background/report").Code)
	assert.Equal(t, 1, q.diagCalls)
	q.diagErr = errors.New("queue full")
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/debug/background/report").Code)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/debug/background/cancel").Code)
	rec = do(t, h, http.MethodPost, "/debug/background/cancel?name=flush")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled":3}`, rec.Body.String())
	do(t, h, http.MethodPost, "/debug/background/cancel?all=true&name=ignored")
	assert.Equal(t, []string{"flush", ""}, q.cancelled)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/debug/background/journal").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/debug/background/report").Code)
}

func TestJournalEndpoint(t *testing.T) {
	t.Parallel()
	st, err := journal.Open(journal.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "j.jsonl")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	for i := 1; i <= 3; i++ {
		require.NoError(t, st.Append(context.Background(), journal.RecordFromReport(background.Report{Peak: i, Capacity: 8})))
	}

	h := Router("", "", &fakeQueue{healthy: true}, st, logx.Nop())
	rec := do(t, h, http.MethodGet, "/debug/background/journal?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []journal.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Peak)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/debug/background/journal?limit=x").Code)
}

func TestPprofUnderCustomPrefix(t *testing.T) {
	t.Parallel()
	h := Router("ops", "", nil, nil, logx.Nop())
	rec := do(t, h, http.MethodGet, "/ops/pprof/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")

	assert.Equal(t, http.StatusPermanentRedirect, do(t, h, http.MethodGet, "/ops/pprof").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/ops/background").Code, "no queue wired")
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, &fakeQueue{healthy: true}, nil, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	t.Cleanup(func() { s.Stop(ctx) })

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	s.Reconfigure(ctx, Config{Enabled: false})
	assert.Empty(t, s.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		assert.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}
