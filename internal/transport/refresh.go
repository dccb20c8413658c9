package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"forum-client/internal/apierr"
	"forum-client/internal/credentials"
)

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// refreshCredential exchanges the refresh token for a new pair. Concurrent
// callers collapse onto one in-flight exchange: the first caller performs it
// and every other 401-ed request waits on the same result, so a page that
// fires five parallel calls with an expired token still produces exactly one
// refresh. No waiter is replayed before the store holds the new pair.
func (p *Pipeline) refreshCredential() error {
	_, err, _ := p.refreshGroup.Do("refresh", func() (any, error) {
		return nil, p.doRefresh()
	})
	return err
}

// doRefresh runs detached from any caller's context: a waiter giving up must
// not cancel the exchange the other waiters depend on. The pipeline's
// refresh timeout bounds it instead.
func (p *Pipeline) doRefresh() error {
	cred, ok := p.creds.Credential()
	if !ok || cred.RefreshToken == "" {
		_ = p.creds.Clear()
		return apierr.AuthExpired("no refresh credential")
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.refreshTimeout)
	defer cancel()

	wire, err := p.sealBody(refreshRequest{RefreshToken: cred.RefreshToken})
	if err != nil {
		return err
	}
	status, raw, _, err := p.dispatch(ctx, refreshPath, wire)
	if err != nil {
		p.failSession("refresh dispatch failed", err)
		return apierr.Wrap(apierr.CodeAuthExpired, "credential refresh failed", err)
	}
	if status != http.StatusOK {
		p.failSession("refresh rejected", nil)
		return apierr.AuthExpired("refresh credential rejected")
	}

	plain, err := p.openBody(raw)
	if err != nil {
		p.failSession("refresh response unreadable", err)
		return apierr.Wrap(apierr.CodeAuthExpired, "credential refresh failed", err)
	}
	var res refreshResponse
	if err := json.Unmarshal(plain, &res); err != nil || res.AccessToken == "" {
		p.failSession("refresh response malformed", err)
		return apierr.AuthExpired("refresh returned no credential")
	}

	next := credentials.Credential{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}
	if err := p.creds.Save(next); err != nil {
		return err
	}
	p.log.Info("access credential refreshed")
	return nil
}

// failSession clears the stored pair, cascading to a logged-out state.
func (p *Pipeline) failSession(msg string, err error) {
	p.log.Warn(msg, "error", err)
	_ = p.creds.Clear()
}
