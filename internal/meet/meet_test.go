package meet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMockProvider(t *testing.T) {
	link, err := NewMockProvider("").CreateLink(context.Background(), "apt-1", "Intake")
	require.NoError(t, err)
	assert.Equal(t, "https://meet.mock/apt-1", link)

	link, err = NewMockProvider("https://meet.example/").CreateLink(context.Background(), "apt-2", "")
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example/apt-2", link)

	_, err = NewMockProvider("").CreateLink(context.Background(), "", "")
	assert.Error(t, err)
}

func TestHTTPProvider_CreateLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/meetings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req createMeetingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "apt-9", req.RequestID)
		assert.Equal(t, "Psychotherapy Session", req.Title)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(createMeetingResponse{JoinURL: "https://conf.example/j/apt-9"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "secret", time.Second, zap.NewNop())
	link, err := p.CreateLink(context.Background(), "apt-9", "")
	require.NoError(t, err)
	assert.Equal(t, "https://conf.example/j/apt-9", link)
}

func TestHTTPProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}},
		{"missing join url", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewHTTPProvider(srv.URL, "", time.Second, zap.NewNop()).CreateLink(context.Background(), "apt", "x")
			assert.Error(t, err)
		})
	}
}
