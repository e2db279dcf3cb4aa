package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFaceClient_Verdicts(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    Verdict
		wantErr bool
	}{
		{"success", http.StatusOK, `{"status":"SUCCESS"}`, VerdictSuccess, false},
		{"failure", http.StatusOK, `{"status":"FAILURE"}`, VerdictFailure, false},
		{"service error", http.StatusOK, `{"status":"ERROR"}`, VerdictError, true},
		{"camera error 500", http.StatusInternalServerError, `{"status":"ERROR"}`, VerdictError, true},
		{"non-2xx with success body", http.StatusBadGateway, `{"status":"SUCCESS"}`, VerdictError, true},
		{"malformed json", http.StatusOK, `{"status":`, VerdictError, true},
		{"unexpected status", http.StatusOK, `{"status":"MAYBE"}`, VerdictError, true},
		{"lowercase status", http.StatusOK, `{"status":"success"}`, VerdictError, true},
		{"empty body", http.StatusOK, ``, VerdictError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodPost, r.Method)
				require.Equal(t, "/face_unlock", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewFaceClient(srv.URL+"/", time.Second).RequestFaceUnlock(context.Background())
			require.Equal(t, tt.want, got)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrRemoteAuth)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestFaceClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	got, err := NewFaceClient(srv.URL, 50*time.Millisecond).RequestFaceUnlock(context.Background())
	require.Equal(t, VerdictError, got)
	require.ErrorIs(t, err, ErrRemoteAuth)
}

func TestFaceClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	got, err := NewFaceClient(url, time.Second).RequestFaceUnlock(context.Background())
	require.Equal(t, VerdictError, got)
	require.ErrorIs(t, err, ErrRemoteAuth)
}

func TestFaceClient_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := NewFaceClient(srv.URL, time.Second).RequestFaceUnlock(ctx)
	require.Equal(t, VerdictError, got)
	require.ErrorIs(t, err, ErrRemoteAuth)
}
