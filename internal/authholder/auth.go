// Package authholder holds the access/refresh token pair used by the
// sync worker to authenticate outbound requests, and knows how to refresh
// that pair against the remote API.
package authholder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrAccessTokenMissing is returned by AccessToken when no token has
	// ever been set, e.g. before the desktop UI has logged in.
	ErrAccessTokenMissing = errors.New("authholder: access token not set, call SetTokens first")
)

// Holder keeps the current token pair behind a reader/writer lock. Reads
// (the common case, one per dispatched sync task) never block each other;
// writes (SetTokens, a successful refresh) are exclusive.
type Holder struct {
	apiBaseURL     string
	refreshTimeout time.Duration

	mu           sync.RWMutex
	accessToken  *string
	refreshToken *string
}

// New constructs a Holder with no tokens set.
func New(apiBaseURL string, refreshTimeout time.Duration) *Holder {
	return &Holder{
		apiBaseURL:     apiBaseURL,
		refreshTimeout: refreshTimeout,
	}
}

// SetTokens overwrites the held token pair. This is the only write surface;
// it is called once after the UI authenticates and again after every
// successful refresh.
func (h *Holder) SetTokens(accessToken, refreshToken *string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accessToken = accessToken
	h.refreshToken = refreshToken
}

// AccessToken returns the current access token, or ErrAccessTokenMissing
// if none has been set.
func (h *Holder) AccessToken() (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.accessToken == nil {
		return "", ErrAccessTokenMissing
	}
	return *h.accessToken, nil
}

// RefreshToken returns the current refresh token, which may legitimately
// be absent; that is not an error condition on its own.
func (h *Holder) RefreshToken() *string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.refreshToken
}

// RefreshResult is the parsed response body of a successful refresh call.
type RefreshResult struct {
	AccessToken  string
	RefreshToken *string
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken *string `json:"refresh_token"`
}

// Refresh exchanges refreshToken for a new token pair by POSTing
// {base}/auth/refresh. It does not mutate the holder; callers decide when
// to commit the result with SetTokens.
func (h *Holder) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	client := &http.Client{Timeout: h.refreshTimeout}

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return RefreshResult{}, fmt.Errorf("authholder: encode refresh request: %w", err)
	}

	url := h.apiBaseURL + "/auth/refresh"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return RefreshResult{}, fmt.Errorf("authholder: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("authholder: network error during token refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return RefreshResult{}, fmt.Errorf("authholder: token refresh failed with status: %d", resp.StatusCode)
	}

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return RefreshResult{}, fmt.Errorf("authholder: failed to parse refresh response: %w", err)
	}

	if parsed.AccessToken == "" {
		return RefreshResult{}, errors.New("authholder: missing access_token in refresh response")
	}

	return RefreshResult{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
	}, nil
}
