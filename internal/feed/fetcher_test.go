package feed

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/setguard/internal/errors"
)

func TestFetch_Plain(t *testing.T) {
	var encoding, agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding = r.Header.Get("Accept-Encoding")
		agent = r.Header.Get("User-Agent")
		w.Write([]byte("1.2.3.4\n5.6.7.0/24\n"))
	}))
	defer srv.Close()

	data, err := New(Options{Timeout: time.Second}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "gzip", encoding)
	require.True(t, strings.HasPrefix(agent, "Setguard/"))
	require.Equal(t, "1.2.3.4\n5.6.7.0/24\n", string(data))
}

func TestFetch_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("10.0.0.0/8\n"))
	gz.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	data, err := New(Options{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.0/8\n", string(data))
}

func TestFetch_CorruptGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write([]byte("definitely not gzip"))
	}))
	defer srv.Close()

	_, err := New(Options{}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.Equal(t, errors.KindTransport, errors.GetKind(err))
}

func TestFetch_StatusErrors(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusNotModified} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		_, err := New(Options{}).Fetch(context.Background(), srv.URL)
		srv.Close()

		require.Error(t, err, "status %d", code)
		require.Equal(t, errors.KindTransport, errors.GetKind(err))
		require.Equal(t, code, errors.GetAttributes(err)["status"])
	}
}

func TestFetch_NoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Options{}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestFetch_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("1.1.1.1\n"), 200))
	}))
	defer srv.Close()

	_, err := New(Options{MaxBytes: 1024}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds 1 KiB")

	data, err := New(Options{MaxBytes: 1600}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, data, 1600)
}

func TestFetch_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Options{Timeout: time.Second}).Fetch(context.Background(), url)
	require.Error(t, err)
	require.Equal(t, errors.KindTransport, errors.GetKind(err))
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(Options{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.Equal(t, errors.KindTransport, errors.GetKind(err))
}
