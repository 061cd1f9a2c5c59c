package certlib

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// roundTripperFunc lets a test stand in for the network.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

// fastPolicy keeps the default shape with millisecond delays.
func fastPolicy() *RetryPolicy {
	p := DefaultRetryPolicy()
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 4 * time.Millisecond
	return &p
}

// schemeRecorder records the scheme of each request and answers via respond.
type schemeRecorder struct {
	mu      sync.Mutex
	schemes []string
}

func (s *schemeRecorder) transport(respond func(*http.Request) *http.Response) http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		s.mu.Lock()
		s.schemes = append(s.schemes, r.URL.Scheme)
		s.mu.Unlock()
		return respond(r), nil
	})
}

func (s *schemeRecorder) count(scheme string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sc := range s.schemes {
		if sc == scheme {
			n++
		}
	}
	return n
}

func TestQueryURL(t *testing.T) {
	t.Parallel()
	require.Equal(t, "https://crt.sh/?q=%25.example.com&output=json", QueryURL("https", DefaultHost, "example.com"))
}

func TestFetchDecodesRecords(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var gotUA, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.RawQuery
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"common_name":"*.example.com","name_value":"www.example.com\nexample.com","id":1},{"name_value":"api.example.com","common_name":null}]`)
	}))
	defer srv.Close()

	f := NewFetcher(&FetcherConfig{
		Client: srv.Client(),
		Host:   strings.TrimPrefix(srv.URL, "http://"),
		Policy: fastPolicy(),
	})
	records, err := f.Fetch(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, []CertificateRecord{
		{CommonName: "*.example.com", NameValue: "www.example.com\nexample.com"},
		{CommonName: "", NameValue: "api.example.com"},
	}, records)
	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, gotUA, "Mozilla/5.0")
	require.Equal(t, "q=%25.example.com&output=json", gotQuery)
}

func TestFetchEmptyArray(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	f := NewFetcher(&FetcherConfig{Client: srv.Client(), Host: strings.TrimPrefix(srv.URL, "http://")})
	records, err := f.Fetch(context.Background(), "nothing.example")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `[{"common_name":"a.example.com"}]`)
	}))
	defer srv.Close()

	f := NewFetcher(&FetcherConfig{Client: srv.Client(), Host: strings.TrimPrefix(srv.URL, "http://"), Policy: fastPolicy()})
	records, err := f.Fetch(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, records, 1)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, calls)
}

func TestFetchExhaustedRetries(t *testing.T) {
	t.Parallel()
	rec := &schemeRecorder{}
	f := NewFetcher(&FetcherConfig{
		Client: &http.Client{Transport: rec.transport(func(*http.Request) *http.Response {
			return response(http.StatusTooManyRequests, "slow down")
		})},
		PreferHTTPS: true,
		Policy:      fastPolicy(),
	})
	_, err := f.Fetch(context.Background(), "example.com")

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, KindStatus, fe.Kind)
	require.Equal(t, http.StatusTooManyRequests, fe.StatusCode)
	require.Equal(t, 5, fe.Attempts)
	require.True(t, IsRetryable(err))
	require.Equal(t, 5, rec.count("https"))
	require.Zero(t, rec.count("http"), "429 must not trigger the HTTP fallback")
}

func TestFetchNonRetryableStatusFailsImmediately(t *testing.T) {
	t.Parallel()
	rec := &schemeRecorder{}
	f := NewFetcher(&FetcherConfig{
		Client: &http.Client{Transport: rec.transport(func(*http.Request) *http.Response {
			return response(http.StatusNotFound, "")
		})},
		PreferHTTPS: true,
		Policy:      fastPolicy(),
	})
	_, err := f.Fetch(context.Background(), "example.com")
	require.Equal(t, http.StatusNotFound, StatusCode(err))
	require.False(t, IsRetryable(err))
	require.Equal(t, 1, rec.count("https"))
}

func TestFetchFallsBackToHTTPOnceOn503(t *testing.T) {
	t.Parallel()
	rec := &schemeRecorder{}
	f := NewFetcher(&FetcherConfig{
		Client: &http.Client{Transport: rec.transport(func(r *http.Request) *http.Response {
			if r.URL.Scheme == "https" {
				return response(http.StatusServiceUnavailable, "")
			}
			return response(http.StatusOK, `[{"common_name":"example.com"}]`)
		})},
		PreferHTTPS: true,
		Policy:      fastPolicy(),
	})
	records, err := f.Fetch(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 5, rec.count("https"))
	require.Equal(t, 1, rec.count("http"))
}

func TestFetchFallbackDoesNotLoop(t *testing.T) {
	t.Parallel()
	rec := &schemeRecorder{}
	f := NewFetcher(&FetcherConfig{
		Client: &http.Client{Transport: rec.transport(func(*http.Request) *http.Response {
			return response(http.StatusServiceUnavailable, "")
		})},
		PreferHTTPS: true,
		Policy:      fastPolicy(),
	})
	_, err := f.Fetch(context.Background(), "example.com")
	require.Equal(t, http.StatusServiceUnavailable, StatusCode(err))

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.True(t, strings.HasPrefix(fe.URL, "http://"), "final error should come from the HTTP sequence: %s", fe.URL)
	require.Equal(t, 5, rec.count("https"))
	require.Equal(t, 5, rec.count("http"))
}

func TestFetchNoFallbackWhenHTTPPreferred(t *testing.T) {
	t.Parallel()
	rec := &schemeRecorder{}
	f := NewFetcher(&FetcherConfig{
		Client: &http.Client{Transport: rec.transport(func(*http.Request) *http.Response {
			return response(http.StatusServiceUnavailable, "")
		})},
		Policy: fastPolicy(),
	})
	_, err := f.Fetch(context.Background(), "example.com")
	require.Error(t, err)
	require.Zero(t, rec.count("https"))
	require.Equal(t, 5, rec.count("http"))
}

func TestFetchInvalidJSON(t *testing.T) {
	t.Parallel()
	f := NewFetcher(&FetcherConfig{
		Client: &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
			return response(http.StatusOK, "<html>busy</html>"), nil
		})},
		Policy: fastPolicy(),
	})
	_, err := f.Fetch(context.Background(), "example.com")

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, KindParse, fe.Kind)
	require.Contains(t, err.Error(), "error parsing JSON")
}

func TestFetchRetriesTransportErrors(t *testing.T) {
	t.Parallel()
	calls := 0
	f := NewFetcher(&FetcherConfig{
		Client: &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("connection reset by peer")
			}
			return response(http.StatusOK, `[]`), nil
		})},
		Policy: fastPolicy(),
	})
	_, err := f.Fetch(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestFetchCancelledContextStopsRetrying(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f := NewFetcher(&FetcherConfig{
		Client: &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
			calls++
			cancel()
			return response(http.StatusServiceUnavailable, ""), nil
		})},
		PreferHTTPS: true,
		Policy:      fastPolicy(),
	})
	_, err := f.Fetch(ctx, "example.com")

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestRetryPolicySingleAttempt(t *testing.T) {
	t.Parallel()
	calls := 0
	p := fastPolicy()
	p.MaxAttempts = 1
	f := NewFetcher(&FetcherConfig{
		Client: &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
			calls++
			return response(http.StatusBadGateway, ""), nil
		})},
		Policy: p,
	})
	_, err := f.Fetch(context.Background(), "example.com")
	require.Equal(t, http.StatusBadGateway, StatusCode(err))
	require.Equal(t, 1, calls)
}

func TestRetryPolicySchedule(t *testing.T) {
	t.Parallel()
	b := DefaultRetryPolicy().newBackOff(context.Background())
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		require.Equal(t, w, b.NextBackOff(), "delay %d", i)
	}
	require.Equal(t, time.Duration(-1), b.NextBackOff(), "schedule must stop after MaxAttempts-1 delays")
}
