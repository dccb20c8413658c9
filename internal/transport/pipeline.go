// Package transport is the single path every REST call takes: seal the body,
// inject the bearer credential, dispatch, open the response envelope, and
// recover from credential expiry with an at-most-one-concurrent refresh.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"forum-client/internal/apierr"
	"forum-client/internal/credentials"
	"forum-client/internal/envelope"
)

const (
	DefaultRefreshTimeout = 15 * time.Second

	loginPath   = "/auth/login"
	refreshPath = "/auth/refresh"
)

// Paths that are served without a bearer header.
var unauthenticatedPaths = map[string]struct{}{
	loginPath:          {},
	refreshPath:        {},
	"/auth/register":   {},
	"/auth/verify":     {},
	"/auth/test-email": {},
}

type Options struct {
	BaseURL     string
	Codec       *envelope.Codec
	Credentials credentials.Store
	HTTPClient  *http.Client
	Logger      *slog.Logger
	// RefreshTimeout bounds the refresh exchange so a hung network fails the
	// session instead of suspending every waiter indefinitely.
	RefreshTimeout time.Duration
}

type Pipeline struct {
	baseURL string
	codec   *envelope.Codec
	creds   credentials.Store
	httpc   *http.Client
	log     *slog.Logger

	refreshTimeout time.Duration
	refreshGroup   singleflight.Group
}

func New(opts Options) *Pipeline {
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Pipeline{
		baseURL:        opts.BaseURL,
		codec:          opts.Codec,
		creds:          opts.Credentials,
		httpc:          httpc,
		log:            log,
		refreshTimeout: timeout,
	}
}

// Post sends body to path and decodes the response into out (out may be
// nil). The body is sealed exactly once; if a 401 forces a refresh-and-replay
// the original sealed bytes are reused, so a retry never double-encrypts.
func (p *Pipeline) Post(ctx context.Context, path string, body, out any) error {
	wire, err := p.sealBody(body)
	if err != nil {
		return err
	}

	status, raw, usedToken, err := p.dispatch(ctx, path, wire)
	if err != nil {
		return apierr.TransientNetwork(err)
	}

	if status == http.StatusUnauthorized && recoverable(path) {
		// If another request already rotated the credential while this one
		// was in flight, the stale 401 only needs a replay.
		if cred, ok := p.creds.Credential(); !ok || cred.AccessToken == usedToken {
			if err := p.refreshCredential(); err != nil {
				return err
			}
		}
		// One-shot replay with the refreshed credential. A second 401 fails
		// outright rather than looping on a persistently bad credential.
		status, raw, _, err = p.dispatch(ctx, path, wire)
		if err != nil {
			return apierr.TransientNetwork(err)
		}
		if status == http.StatusUnauthorized {
			return apierr.AuthExpired("still unauthorized after refresh")
		}
	}

	plain, err := p.openBody(raw)
	if err != nil {
		p.log.Warn("response decryption failed", "path", path, "error", err)
		return apierr.DecryptFailed(err)
	}

	if status == http.StatusUnauthorized {
		return apierr.AuthExpired("request unauthorized")
	}
	if status >= 400 {
		return apierr.Server(status, serverMessage(plain))
	}
	if out == nil || len(plain) == 0 {
		return nil
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return apierr.Wrap(apierr.CodeServer, "malformed response body", err)
	}
	return nil
}

// recoverable reports whether a 401 on path may trigger the refresh flow.
// The refresh and login calls themselves never do, which is what keeps the
// recovery from recursing.
func recoverable(path string) bool {
	return path != refreshPath && path != loginPath
}

// sealBody marshals body and seals it into the wire envelope. A body that is
// already an envelope is passed through untouched.
func (p *Pipeline) sealBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	switch env := body.(type) {
	case envelope.Envelope:
		return json.Marshal(env)
	case *envelope.Envelope:
		return json.Marshal(env)
	}

	plain, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	env, err := p.codec.Seal(string(plain))
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// openBody opens the response envelope when the body carries the
// {payload, tag} shape; anything else is passed through as plain JSON.
func (p *Pipeline) openBody(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var probe struct {
		Payload *string `json:"payload"`
		Tag     *string `json:"tag"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Payload == nil || probe.Tag == nil {
		return raw, nil
	}
	plain, err := p.codec.Open(envelope.Envelope{Payload: *probe.Payload, Tag: *probe.Tag})
	if err != nil {
		return nil, err
	}
	return []byte(plain), nil
}

func (p *Pipeline) dispatch(ctx context.Context, path string, wire []byte) (status int, raw []byte, usedToken string, err error) {
	var body io.Reader
	if wire != nil {
		body = bytes.NewReader(wire)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, body)
	if err != nil {
		return 0, nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if _, skip := unauthenticatedPaths[path]; !skip {
		if cred, ok := p.creds.Credential(); ok && cred.AccessToken != "" {
			usedToken = cred.AccessToken
			req.Header.Set("Authorization", "Bearer "+usedToken)
		}
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return 0, nil, usedToken, err
	}
	defer resp.Body.Close()

	raw, err = io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, usedToken, err
	}
	return resp.StatusCode, raw, usedToken, nil
}

func serverMessage(plain []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(plain, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		return body.Error
	}
	return ""
}
