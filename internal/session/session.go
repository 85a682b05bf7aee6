// Package session drives the two-phase HTTP handshake that provisions a remote
// SQL session: create it, then poll its status until it reaches a terminal
// state. Both phases run through the generic retry engine; transient transport
// failures are retried on a bounded budget while business failures surface
// immediately.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	wberrors "github.com/wherobots/wherobots-sql-go/internal/errors"
	"github.com/wherobots/wherobots-sql-go/internal/retry"
	"github.com/wherobots/wherobots-sql-go/logger"
)

// Status is the server-side lifecycle state of a session. Sessions are never
// mutated locally; status only changes by re-fetching it.
type Status string

const (
	StatusRequested    Status = "REQUESTED"
	StatusDeploying    Status = "DEPLOYING"
	StatusDeployed     Status = "DEPLOYED"
	StatusInitializing Status = "INITIALIZING"
	StatusReady        Status = "READY"
	StatusFailed       Status = "FAILED"
	StatusPrepareFail  Status = "PREPARE_FAILED"
	StatusDeployFail   Status = "DEPLOY_FAILED"
	StatusDestroyed    Status = "DESTROYED"
)

// Terminal reports whether polling should stop at this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusReady, StatusFailed, StatusPrepareFail, StatusDeployFail, StatusDestroyed:
		return true
	}
	return false
}

type AppMeta struct {
	URL string `json:"url"`
}

type Session struct {
	ID      string         `json:"id"`
	Status  Status         `json:"status"`
	AppMeta *AppMeta       `json:"appMeta,omitempty"`
	Traces  map[string]any `json:"traces"`
	Message string         `json:"message"`
}

const (
	// extra attempts allowed on retryable transport failures, per phase.
	// Polling continuation has no cap; only resiliency retries are budgeted.
	maxResiliencyRetries = 3

	defaultRequestTimeout = 30 * time.Second
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	region     string
	userAgent  string

	// RequestTimeout bounds each individual HTTP attempt.
	RequestTimeout time.Duration
	// Backoff overrides the retry engine's backoff schedule. Nil keeps the default.
	Backoff func(attempt int) time.Duration
}

func NewClient(baseURL, apiKey, region, userAgent string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		region:         region,
		userAgent:      userAgent,
		RequestTimeout: defaultRequestTimeout,
	}
}

// Create issues the session-creation POST, retrying transient transport
// failures up to the resiliency budget.
func (c *Client) Create(ctx context.Context, runtimeID string) (*Session, error) {
	body, err := json.Marshal(map[string]string{"runtimeId": runtimeID})
	if err != nil {
		return nil, wberrors.NewConfigError("invalid runtime id", err)
	}
	url := fmt.Sprintf("%s/sql/session?region=%s", c.baseURL, c.region)

	sess, err := retry.Run(ctx, func(ctx context.Context) (*Session, error) {
		return c.doSessionRequest(ctx, http.MethodPost, url, body)
	}, retry.Options[*Session]{
		AttemptTimeout: c.RequestTimeout,
		ShouldRetry:    resiliencyDecision,
		Backoff:        c.Backoff,
	})
	if err != nil {
		return nil, wberrors.WrapErr(err, wberrors.ErrSessionCreate)
	}
	logger.Debug().Msgf("created session %s in status %s", sess.ID, sess.Status)
	return sess, nil
}

// Get fetches the current status of a session. A single HTTP call; retry
// policy is owned by the caller.
func (c *Client) Get(ctx context.Context, sessionID string) (*Session, error) {
	url := fmt.Sprintf("%s/sql/session/%s", c.baseURL, sessionID)
	return c.doSessionRequest(ctx, http.MethodGet, url, nil)
}

// Provision runs the full handshake: create the session, then poll until a
// terminal status. The poll loop retries transient transport failures on a
// budget counted independently from the not-ready-yet continuation. Returns
// the ready session, whose AppMeta carries the channel address.
func (c *Client) Provision(ctx context.Context, runtimeID string) (*Session, error) {
	sess, err := c.Create(ctx, runtimeID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return c.checkReady(sess)
	}

	resiliencyFailures := 0
	lastStatus := sess.Status
	final, err := retry.Run(ctx, func(ctx context.Context) (*Session, error) {
		return c.Get(ctx, sess.ID)
	}, retry.Options[*Session]{
		AttemptTimeout: c.RequestTimeout,
		Backoff:        c.Backoff,
		ShouldRetry: func(attempt int, s *Session, err error) (bool, error) {
			if err != nil {
				if !wberrors.IsRetryable(err) {
					return false, nil
				}
				resiliencyFailures++
				return resiliencyFailures <= maxResiliencyRetries, nil
			}
			if s.Status != lastStatus {
				logger.Debug().Msgf("session %s moved to status %s", s.ID, s.Status)
				lastStatus = s.Status
			}
			return !s.Status.Terminal(), nil
		},
	})
	if err != nil {
		return nil, wberrors.WrapErr(err, wberrors.ErrSessionPoll)
	}
	return c.checkReady(final)
}

func (c *Client) checkReady(sess *Session) (*Session, error) {
	if sess.Status != StatusReady {
		msg := sess.Message
		if msg == "" {
			msg = fmt.Sprintf("session %s ended in status %s", sess.ID, sess.Status)
		}
		if len(sess.Traces) > 0 {
			logger.Warn().Interface("traces", sess.Traces).Msgf("session %s failed", sess.ID)
		}
		return nil, wberrors.NewSessionFailure(sess.ID, string(sess.Status), msg)
	}
	if sess.AppMeta == nil || sess.AppMeta.URL == "" {
		return nil, wberrors.NewProtocolError("ready session is missing its channel address", nil)
	}
	return sess, nil
}

// resiliencyDecision retries transport-classified failures up to the budget.
// Successful attempts never continue here; polling continuation is layered on
// separately by Provision.
func resiliencyDecision(attempt int, _ *Session, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	return attempt < maxResiliencyRetries && wberrors.IsRetryable(err), nil
}

// doSessionRequest performs one HTTP attempt and classifies the outcome:
// retryable gateway statuses and timeouts become retryable request errors,
// other HTTP failures are fatal request errors, and undecodable bodies are
// fatal protocol errors.
func (c *Client) doSessionRequest(ctx context.Context, method, url string, body []byte) (*Session, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, wberrors.NewRequestError("failed to build session request", err, false)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, wberrors.NewRequestError("session request timed out", err, true)
		}
		if ctx.Err() != nil {
			return nil, wberrors.NewAbortedError("session request aborted", ctx.Err())
		}
		return nil, wberrors.NewRequestError("session request failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := fmt.Sprintf("session request returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
		return nil, wberrors.NewRequestError(msg, nil, retryableStatus(resp.StatusCode))
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, wberrors.NewProtocolError("undecodable session response", err)
	}
	if sess.ID == "" || sess.Status == "" {
		return nil, wberrors.NewProtocolError("session response is missing id or status", nil)
	}
	return &sess, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
