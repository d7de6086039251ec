package splunk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"spl-copilot/internal/pipeline"
)

// fakeBackend emulates the Splunk job lifecycle REST surface.
type fakeBackend struct {
	t              *testing.T
	pollsUntilDone int32
	polls          int32
	results        []pipeline.Record
	scanCount      int
	cancelled      atomic.Bool
	lastMaxCount   string
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /services/search/jobs", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			f.t.Errorf("bad form: %v", err)
		}
		f.lastMaxCount = r.PostForm.Get("max_count")
		json.NewEncoder(w).Encode(map[string]string{"sid": "job-1"})
	})

	mux.HandleFunc("GET /services/search/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&f.polls, 1)
		done := n >= f.pollsUntilDone
		fmt.Fprintf(w, `{"entry":[{"content":{"isDone":%t,"isFailed":false,"resultCount":%d,"scanCount":%d,"runDuration":0.42,"dispatchState":"%s"}}]}`,
			done, len(f.results), f.scanCount, stateLabel(done))
	})

	mux.HandleFunc("GET /services/search/jobs/job-1/results", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": f.results})
	})

	mux.HandleFunc("DELETE /services/search/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		f.cancelled.Store(true)
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func stateLabel(done bool) string {
	if done {
		return "DONE"
	}
	return "RUNNING"
}

func newTestExecutor(t *testing.T, handler http.Handler) (*Executor, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	var port int
	fmt.Sscanf(u.Port(), "%d", &port)

	client := NewClient(Config{
		Host:         u.Hostname(),
		Port:         port,
		Scheme:       "http",
		Token:        "test-token",
		PollInterval: 5 * time.Millisecond,
	})
	return NewExecutor(client, nil), srv
}

func TestExecute_Success(t *testing.T) {
	backend := &fakeBackend{
		t:              t,
		pollsUntilDone: 2,
		scanCount:      1234,
		results: []pipeline.Record{
			{"host": "web-1", "status": "500"},
			{"host": "web-2", "status": "503"},
		},
	}
	exec, _ := newTestExecutor(t, backend.handler())

	result, err := exec.Execute(context.Background(), "search index=main error | head 100", 100, time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ResultCount != len(result.Records) {
		t.Errorf("ResultCount = %d, len(Records) = %d", result.ResultCount, len(result.Records))
	}
	if result.ResultCount != 2 {
		t.Errorf("ResultCount = %d, want 2", result.ResultCount)
	}
	if result.ScanCount != 1234 {
		t.Errorf("ScanCount = %d, want 1234", result.ScanCount)
	}
	if result.JobID != "job-1" {
		t.Errorf("JobID = %q, want job-1", result.JobID)
	}
	if result.DurationSeconds != 0.42 {
		t.Errorf("DurationSeconds = %v, want 0.42", result.DurationSeconds)
	}
	if result.TimedOut {
		t.Error("TimedOut should be false")
	}
}

func TestExecute_NeverExceedsMaxResults(t *testing.T) {
	records := make([]pipeline.Record, 10)
	for i := range records {
		records[i] = pipeline.Record{"n": fmt.Sprint(i)}
	}
	backend := &fakeBackend{t: t, pollsUntilDone: 1, results: records}
	exec, _ := newTestExecutor(t, backend.handler())

	result, err := exec.Execute(context.Background(), "search index=main", 3, time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ResultCount > 3 {
		t.Errorf("ResultCount = %d, want <= 3", result.ResultCount)
	}
	if len(result.Records) != result.ResultCount {
		t.Errorf("Records/ResultCount mismatch")
	}
}

func TestExecute_ClampsToAbsoluteCeiling(t *testing.T) {
	backend := &fakeBackend{t: t, pollsUntilDone: 1}
	exec, _ := newTestExecutor(t, backend.handler())

	if _, err := exec.Execute(context.Background(), "search index=main", AbsoluteResultCeiling*10, time.Second); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if backend.lastMaxCount != fmt.Sprint(AbsoluteResultCeiling) {
		t.Errorf("submitted max_count = %s, want %d", backend.lastMaxCount, AbsoluteResultCeiling)
	}
}

func TestExecute_InvalidArguments(t *testing.T) {
	exec, _ := newTestExecutor(t, http.NewServeMux())

	if _, err := exec.Execute(context.Background(), "search x", 0, time.Second); !errors.Is(err, pipeline.ErrInvalidInput) {
		t.Errorf("maxResults=0: err = %v, want ErrInvalidInput", err)
	}
	if _, err := exec.Execute(context.Background(), "search x", 10, 0); !errors.Is(err, pipeline.ErrInvalidInput) {
		t.Errorf("timeout=0: err = %v, want ErrInvalidInput", err)
	}
}

func TestExecute_TimeoutReturnsPartialResult(t *testing.T) {
	backend := &fakeBackend{t: t, pollsUntilDone: 1 << 30} // never done
	exec, _ := newTestExecutor(t, backend.handler())

	result, err := exec.Execute(context.Background(), "search index=main", 100, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout must not be a hard failure, got %v", err)
	}
	if !result.TimedOut {
		t.Error("TimedOut not set")
	}
	if result.ResultCount != 0 || len(result.Records) != 0 {
		t.Errorf("partial result must be empty, got %d records", result.ResultCount)
	}
	if !backend.cancelled.Load() {
		t.Error("timed-out job was not cancelled")
	}
}

func TestExecute_AuthFailureFatal(t *testing.T) {
	calls := int32(0)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	exec, _ := newTestExecutor(t, mux)

	_, err := exec.Execute(context.Background(), "search x", 10, time.Second)
	if !errors.Is(err, pipeline.ErrBackendAuthFailed) {
		t.Fatalf("err = %v, want ErrBackendAuthFailed", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("auth failures must not be retried, got %d calls", calls)
	}
}

func TestExecute_BackendRejectionSurfacesMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /services/search/jobs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"type": "FATAL", "text": "Unknown search command 'frobnicate'."}},
		})
	})
	exec, _ := newTestExecutor(t, mux)

	_, err := exec.Execute(context.Background(), "search x | frobnicate", 10, time.Second)
	if !errors.Is(err, pipeline.ErrRejectedByBackend) {
		t.Fatalf("err = %v, want ErrRejectedByBackend", err)
	}
	if !strings.Contains(err.Error(), "frobnicate") {
		t.Errorf("backend detail lost: %v", err)
	}
}

func TestExecute_UnreachableRetriedOnce(t *testing.T) {
	old := connectRetryDelay
	connectRetryDelay = time.Millisecond
	defer func() { connectRetryDelay = old }()

	srv := httptest.NewServer(http.NewServeMux())
	u, _ := url.Parse(srv.URL)
	var port int
	fmt.Sscanf(u.Port(), "%d", &port)
	srv.Close() // connection refused from here on

	client := NewClient(Config{Host: u.Hostname(), Port: port, Scheme: "http", Token: "t", PollInterval: time.Millisecond})
	exec := NewExecutor(client, nil)

	_, err := exec.Execute(context.Background(), "search x", 10, time.Second)
	if !errors.Is(err, pipeline.ErrBackendUnreachable) {
		t.Fatalf("err = %v, want ErrBackendUnreachable", err)
	}
}

func TestClient_IndexesCached(t *testing.T) {
	calls := int32(0)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /services/data/indexes", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"entry": []map[string]string{{"name": "main"}, {"name": "_internal"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	var port int
	fmt.Sscanf(u.Port(), "%d", &port)
	client := NewClient(Config{Host: u.Hostname(), Port: port, Scheme: "http", Token: "t", IndexCacheTTL: time.Minute})

	for i := 0; i < 3; i++ {
		names, err := client.Indexes(context.Background())
		if err != nil {
			t.Fatalf("Indexes: %v", err)
		}
		if len(names) != 2 || names[0] != "main" {
			t.Errorf("names = %v", names)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("backend called %d times, want 1 (cache)", calls)
	}
}
