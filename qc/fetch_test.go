package qc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(referenceJSON))
	}))
	defer server.Close()

	model, err := FetchReference(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "atlas-v2", model.Name)
	assert.Len(t, model.Clusters, 2)
}

func TestFetchObservations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(observationsJSON))
	}))
	defer server.Close()

	batch, err := FetchObservations(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "batch-7", batch.Dataset)
	assert.Equal(t, 2, batch.Len())
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(observationsJSON))
	}))
	defer server.Close()

	batch, err := FetchObservations(context.Background(), server.URL,
		WithMaxRetries(3), WithBaseBackoff(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Len())
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := FetchObservations(context.Background(), server.URL,
		WithMaxRetries(2), WithBaseBackoff(time.Millisecond))
	assert.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchEmptyURL(t *testing.T) {
	_, err := FetchObservations(context.Background(), "")
	assert.Error(t, err)
}

func TestFetchInvalidPayloadIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	_, err := FetchReference(context.Background(), server.URL,
		WithMaxRetries(3), WithBaseBackoff(time.Millisecond))
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "parse failures must not trigger retries")
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchObservations(ctx, server.URL,
		WithMaxRetries(5), WithBaseBackoff(time.Second))
	assert.Error(t, err)
}

func TestFetchCustomHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(observationsJSON))
	}))
	defer server.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	batch, err := FetchObservations(context.Background(), server.URL, WithHTTPClient(client))
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Len())
}
