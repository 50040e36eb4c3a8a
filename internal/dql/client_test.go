package dql

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pattonfu/central-production-meeting/internal/report"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		PollInterval:   5 * time.Millisecond,
		PollTimeout:    500 * time.Millisecond,
		MaxResultBytes: 64000000,
		DayStartHour:   10,
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	client, err := NewClient(testConfig(baseURL), Credentials{Cookie: "c=1", CSRFToken: "tok"}, nil)
	require.NoError(t, err)

	return client
}

func TestFetchDay_ExecuteThenPoll(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/query:execute", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "tok", r.Header.Get("x-csrftoken"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body["defaultTimeframeStart"], "2025-10-09T10:00:00")
		assert.Contains(t, body["defaultTimeframeEnd"], "2025-10-10T10:00:00")

		_ = json.NewEncoder(w).Encode(map[string]string{"requestToken": "rt-1"})
	})
	mux.HandleFunc("/query:poll", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rt-1", r.URL.Query().Get("request-token"))

		if polls.Add(1) == 1 {
			_ = json.NewEncoder(w).Encode(map[string]any{"state": "RUNNING"})

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"state": "SUCCEEDED",
			"result": map[string]any{
				"records": []map[string]any{
					{
						"app":                              "router",
						"span.events.exception.message":    "boom",
						"span.events.exception.stack_trace": "trace",
						"count()":                          float64(3),
					},
				},
				"metadata": map[string]any{
					"grail": map[string]any{
						"executionTimeMilliseconds": 1200,
						"scannedBytes":              1 << 30,
					},
				},
			},
		})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)

	records, err := client.FetchDay(context.Background(), "fetch logs", time.Date(2025, time.October, 9, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, report.RawRecord{App: "router", Message: "boom", StackTrace: "trace", Count: 3}, records[0])
	assert.GreaterOrEqual(t, polls.Load(), int32(2), "client must keep polling until SUCCEEDED")
}

func TestFetchDay_MissingRequestToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.FetchDay(context.Background(), "q", time.Now())
	require.ErrorIs(t, err, ErrMissingRequestToken)
}

func TestFetchDay_PollTimeout(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/query:execute", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"requestToken": "rt-1"})
	})
	mux.HandleFunc("/query:poll", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"state": "RUNNING"})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.PollTimeout = 20 * time.Millisecond

	client, err := NewClient(cfg, Credentials{}, nil)
	require.NoError(t, err)

	_, err = client.FetchDay(context.Background(), "q", time.Now())
	require.ErrorIs(t, err, ErrPollTimeout)
}

func TestFetchDay_ContextCancellation(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/query:execute", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"requestToken": "rt-1"})
	})
	mux.HandleFunc("/query:poll", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"state": "RUNNING"})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	_, err := client.FetchDay(ctx, "q", time.Now())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchDay_ExecuteServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.FetchDay(context.Background(), "q", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestDecodeRecords_Defaults(t *testing.T) {
	t.Parallel()

	records, err := decodeRecords([]map[string]any{{}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, report.UnknownApp, records[0].App)
	assert.Equal(t, report.NoMessage, records[0].Message)
	assert.Equal(t, report.NoStackTrace, records[0].StackTrace)
	assert.Equal(t, 0, records[0].Count)
}

func TestDecodeRecords_NullMessageBecomesCorruptionSentinel(t *testing.T) {
	t.Parallel()

	records, err := decodeRecords([]map[string]any{
		{"span.events.exception.message": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, "", records[0].Message, "explicit null must surface as the empty-string sentinel")
}

func TestParseCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      any
		want    int
		wantErr bool
	}{
		{name: "absent", in: nil, want: 0},
		{name: "float", in: float64(42), want: 42},
		{name: "string", in: "17", want: 17},
		{name: "padded string", in: " 8 ", want: 8},
		{name: "negative", in: float64(-1), wantErr: true},
		{name: "garbage string", in: "many", wantErr: true},
		{name: "bool", in: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseCount(tt.in)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
