package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wberr "github.com/wherobots/wherobots-sql-go/errors"
)

type scriptedServer struct {
	t       *testing.T
	calls   int32
	handler func(call int, w http.ResponseWriter, r *http.Request)
	srv     *httptest.Server
}

func newScriptedServer(t *testing.T, handler func(call int, w http.ResponseWriter, r *http.Request)) *scriptedServer {
	s := &scriptedServer{t: t, handler: handler}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := int(atomic.AddInt32(&s.calls, 1))
		handler(call, w, r)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *scriptedServer) callCount() int {
	return int(atomic.LoadInt32(&s.calls))
}

func (s *scriptedServer) client() *Client {
	c := NewClient(s.srv.URL, "test-key", "aws-us-west-2", "wherobots-sql-go/test", nil)
	c.Backoff = func(int) time.Duration { return 0 }
	return c
}

func writeSession(w http.ResponseWriter, id string, status Status, url string) {
	resp := map[string]any{"id": id, "status": status, "traces": nil, "message": nil}
	if url != "" {
		resp["appMeta"] = map[string]string{"url": url}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestProvision(t *testing.T) {
	t.Parallel()

	t.Run("it should poll until READY with one HTTP call per status", func(t *testing.T) {
		statuses := []Status{StatusRequested, StatusDeploying, StatusInitializing, StatusReady}
		s := newScriptedServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
			if call == 1 {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/sql/session", r.URL.Path)
				assert.Equal(t, "aws-us-west-2", r.URL.Query().Get("region"))
				assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "tiny", body["runtimeId"])
			} else {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/sql/session/sess-1", r.URL.Path)
			}
			status := statuses[call-1]
			url := ""
			if status == StatusReady {
				url = "https://sess-1.sql.test"
			}
			writeSession(w, "sess-1", status, url)
		})

		sess, err := s.client().Provision(context.Background(), "tiny")
		require.NoError(t, err)
		assert.Equal(t, StatusReady, sess.Status)
		assert.Equal(t, "https://sess-1.sql.test", sess.AppMeta.URL)
		assert.Equal(t, len(statuses), s.callCount())
	})

	t.Run("it should stay pending while the status never becomes terminal", func(t *testing.T) {
		s := newScriptedServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
			writeSession(w, "sess-2", StatusDeploying, "")
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() {
			_, err := s.client().Provision(ctx, "tiny")
			done <- err
		}()

		// let a healthy number of polls happen without a resolution
		require.Eventually(t, func() bool { return s.callCount() >= 10 }, 5*time.Second, time.Millisecond)
		select {
		case <-done:
			t.Fatal("provision settled on a non-terminal status")
		default:
		}

		cancel()
		err := <-done
		assert.Error(t, err)
	})

	t.Run("it should recover from transient gateway failures within the budget", func(t *testing.T) {
		s := newScriptedServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
			switch call {
			case 1:
				writeSession(w, "sess-3", StatusDeploying, "")
			case 2, 3:
				http.Error(w, "bad gateway", http.StatusBadGateway)
			default:
				writeSession(w, "sess-3", StatusReady, "https://sess-3.sql.test")
			}
		})

		sess, err := s.client().Provision(context.Background(), "tiny")
		require.NoError(t, err)
		assert.Equal(t, StatusReady, sess.Status)
		assert.Equal(t, 4, s.callCount())
	})

	t.Run("it should reject once transient failures exceed the budget", func(t *testing.T) {
		s := newScriptedServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		})

		_, err := s.client().Provision(context.Background(), "tiny")
		assert.ErrorIs(t, err, wberr.RequestError)
		// initial create attempt plus three resiliency retries
		assert.Equal(t, 4, s.callCount())
	})

	t.Run("it should fail fast on unauthorized without retrying", func(t *testing.T) {
		s := newScriptedServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})

		_, err := s.client().Provision(context.Background(), "tiny")
		assert.ErrorIs(t, err, wberr.RequestError)
		assert.Contains(t, err.Error(), "401")
		assert.Equal(t, 1, s.callCount())
	})

	t.Run("it should treat malformed responses as fatal protocol errors", func(t *testing.T) {
		s := newScriptedServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"unexpected": true`)
		})

		_, err := s.client().Provision(context.Background(), "tiny")
		assert.ErrorIs(t, err, wberr.ProtocolError)
		assert.Equal(t, 1, s.callCount())
	})

	t.Run("it should surface terminal failure statuses as session failures", func(t *testing.T) {
		s := newScriptedServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
			switch call {
			case 1:
				writeSession(w, "sess-4", StatusDeploying, "")
			default:
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"id":"sess-4","status":"DEPLOY_FAILED","traces":null,"message":"runtime quota exceeded"}`)
			}
		})

		_, err := s.client().Provision(context.Background(), "tiny")
		assert.ErrorIs(t, err, wberr.SessionFailure)
		assert.Contains(t, err.Error(), "runtime quota exceeded")
	})

	t.Run("it should reject a READY session without a channel address", func(t *testing.T) {
		s := newScriptedServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
			writeSession(w, "sess-5", StatusReady, "")
		})

		_, err := s.client().Provision(context.Background(), "tiny")
		assert.ErrorIs(t, err, wberr.ProtocolError)
	})
}

func TestCreate(t *testing.T) {
	t.Parallel()
	t.Run("it should recover a flaky create call", func(t *testing.T) {
		s := newScriptedServer(t, func(call int, w http.ResponseWriter, r *http.Request) {
			if call == 1 {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			writeSession(w, "sess-6", StatusRequested, "")
		})

		sess, err := s.client().Create(context.Background(), "tiny")
		require.NoError(t, err)
		assert.Equal(t, "sess-6", sess.ID)
		assert.Equal(t, 2, s.callCount())
	})
}
