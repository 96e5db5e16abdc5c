package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/patchline/patchline/internal/engine"
)

func apiStub(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestPrepareMapsMissingRepoToUnsupported(t *testing.T) {
	srv := apiStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Not Found"})
	})

	p := &Provider{Tokens: StaticToken("ghs_test"), BaseURL: srv.URL}
	msg := engine.Message{Owner: "acme", Repo: "gone"}

	_, _, err := p.Prepare(context.Background(), msg)
	if !errors.Is(err, engine.ErrUnsupportedRepo) {
		t.Errorf("Prepare() error = %v, want ErrUnsupportedRepo", err)
	}
}

func TestPrepareMapsForbiddenRepoToUnsupported(t *testing.T) {
	srv := apiStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Forbidden"})
	})

	p := &Provider{Tokens: StaticToken("ghs_test"), BaseURL: srv.URL}
	_, _, err := p.Prepare(context.Background(), engine.Message{Owner: "acme", Repo: "private"})
	if !errors.Is(err, engine.ErrUnsupportedRepo) {
		t.Errorf("Prepare() error = %v, want ErrUnsupportedRepo", err)
	}
}

func TestPreflightCanWrite(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		permission string
		want       bool
	}{
		{name: "write permission", status: http.StatusOK, permission: "write", want: true},
		{name: "admin permission", status: http.StatusOK, permission: "admin", want: true},
		{name: "read only", status: http.StatusOK, permission: "read", want: false},
		{name: "not a collaborator", status: http.StatusNotFound, want: false},
		{name: "token rejected", status: http.StatusForbidden, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := apiStub(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if tt.status == http.StatusOK {
					_ = json.NewEncoder(w).Encode(map[string]string{"permission": tt.permission})
				} else {
					_ = json.NewEncoder(w).Encode(map[string]string{"message": "nope"})
				}
			})

			p := &Preflight{Tokens: StaticToken("ghs_test"), BaseURL: srv.URL, BotLogin: "patchline"}
			got, err := p.CanWrite(context.Background(), "acme", "widgets")
			if err != nil {
				t.Fatalf("CanWrite() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CanWrite() = %v, want %v", got, tt.want)
			}
		})
	}
}
