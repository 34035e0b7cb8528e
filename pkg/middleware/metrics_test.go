package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheus_PassesThrough(t *testing.T) {
	mw := Prometheus(WithRegistry(prometheus.NewRegistry()))

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if rec.Body.String() != "short and stout" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestRecordHelpers_SafeWithoutInit(t *testing.T) {
	// The Record* helpers are called from components that may run before
	// (or without) the metrics middleware. They must never panic.
	globalMetricsMu.Lock()
	saved := globalMetrics
	globalMetrics = nil
	globalMetricsMu.Unlock()
	defer func() {
		globalMetricsMu.Lock()
		globalMetrics = saved
		globalMetricsMu.Unlock()
	}()

	RecordResolution("hit", time.Millisecond)
	RecordProxyUpstream("2xx")
	RecordSyncMessage("applied")
}

func TestStatusWriter_SupportsHijack(t *testing.T) {
	mw := Prometheus(WithRegistry(prometheus.NewRegistry()))

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer lost http.Hijacker")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		conn, buf, err := hj.Hijack()
		if err != nil {
			t.Errorf("Hijack() error: %v", err)
			return
		}
		defer conn.Close()
		buf.WriteString("HTTP/1.1 204 No Content\r\nConnection: close\r\n\r\n")
		buf.Flush()
	}))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	res, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 from the hijacked connection", res.StatusCode)
	}
}

func TestStatusWriter_SupportsFlush(t *testing.T) {
	mw := Prometheus(WithRegistry(prometheus.NewRegistry()))

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chunk"))
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer lost http.Flusher")
		}
		f.Flush()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !rec.Flushed {
		t.Fatal("flush did not reach the underlying writer")
	}
}

func TestStatusWriter_DefaultsTo200(t *testing.T) {
	mw := Prometheus(WithRegistry(prometheus.NewRegistry()))

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("implicit 200"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
