package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if crawlPagesTotal == nil || crawlBytesTotal == nil ||
		httpRequestsTotal == nil || auditJobsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveCrawlPage("https://test.com/page", 200, 1024)
	if val := testutil.ToFloat64(crawlPagesTotal.WithLabelValues("test.com", "200")); val != 1 {
		t.Errorf("Expected crawlPagesTotal to be 1, got %f", val)
	}
	if val := testutil.ToFloat64(crawlBytesTotal.WithLabelValues("test.com")); val != 1024 {
		t.Errorf("Expected crawlBytesTotal to be 1024, got %f", val)
	}
}

func TestObserveJob(t *testing.T) {
	Init()

	ObserveJob("primary", "success")
	ObserveJob("primary", "success")
	ObserveJob("resume", "error")

	if val := testutil.ToFloat64(auditJobsTotal.WithLabelValues("primary", "success")); val != 2 {
		t.Errorf("Expected primary/success jobs to be 2, got %f", val)
	}
	if val := testutil.ToFloat64(auditJobsTotal.WithLabelValues("resume", "error")); val != 1 {
		t.Errorf("Expected resume/error jobs to be 1, got %f", val)
	}
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/notfound", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, path := range []string{"/test", "/notfound"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		if errInner := resp.Body.Close(); errInner != nil {
			t.Log(errInner)
		}
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val < 1 {
		t.Errorf("Expected httpRequestsTotal for GET 200 to be >= 1, got %f", val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")); val < 1 {
		t.Errorf("Expected httpRequestsTotal for GET 404 to be >= 1, got %f", val)
	}
}

func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
