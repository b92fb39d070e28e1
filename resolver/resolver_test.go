package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
)

func testEngine() *Engine {
	return NewEngine(&config.Settings{
		ResolverTimeout:      5 * time.Second,
		ResolverReadTimeout:  10 * time.Second,
		ResolverMaxRedirects: 5,
		ResolverUserAgent:    "pid-monitor-test/1.0",
	})
}

func TestResolveFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/c", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "pid-monitor-test/1.0" {
			t.Errorf("User-Agent = %q", got)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	})

	result, verified, err := testEngine().Resolve(context.Background(), server.URL+"/a")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !verified {
		t.Fatal("expected verified=true against a plain http server")
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", result.StatusCode)
	}
	if result.RedirectCount != 2 {
		t.Fatalf("redirect count = %d, want 2", result.RedirectCount)
	}
	if result.FinalURL != server.URL+"/c" {
		t.Fatalf("final url = %q, want %q", result.FinalURL, server.URL+"/c")
	}
	if result.ContentType != "text/html; charset=utf-8" {
		t.Fatalf("content type = %q", result.ContentType)
	}
}

func TestResolveErrorStatusIsAResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	result, _, err := testEngine().Resolve(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("a 404 must not be a transport failure: %v", err)
	}
	if result.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", result.StatusCode)
	}
}

func TestResolveFallsBackOnBadCertificate(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// The test server's certificate is self signed: the verifying attempt
	// fails and the insecure fallback must carry the request through.
	result, verified, err := testEngine().Resolve(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if verified {
		t.Fatal("expected verified=false after certificate fallback")
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", result.StatusCode)
	}
}

func TestResolveTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listens here anymore

	_, _, err := testEngine().Resolve(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected a transport failure against a closed server")
	}
}

func TestResolveRedirectCap(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/", http.StatusFound)
	})

	_, _, err := testEngine().Resolve(context.Background(), server.URL+"/")
	if err == nil {
		t.Fatal("expected an error once the redirect cap is exceeded")
	}
}
