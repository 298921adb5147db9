package authholder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestAccessToken_MissingByDefault(t *testing.T) {
	h := New("https://api.example.com", time.Second)
	_, err := h.AccessToken()
	assert.ErrorIs(t, err, ErrAccessTokenMissing)
}

func TestSetTokensAndAccessToken(t *testing.T) {
	h := New("https://api.example.com", time.Second)
	h.SetTokens(strPtr("access-1"), strPtr("refresh-1"))

	token, err := h.AccessToken()
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, "refresh-1", *h.RefreshToken())
}

func TestRefresh_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/refresh", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-1", body["refresh_token"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
		})
	}))
	defer server.Close()

	h := New(server.URL, time.Second)
	result, err := h.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", result.AccessToken)
	require.NotNil(t, result.RefreshToken)
	assert.Equal(t, "refresh-2", *result.RefreshToken)
}

func TestRefresh_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	h := New(server.URL, time.Second)
	_, err := h.Refresh(context.Background(), "bad-token")
	assert.Error(t, err)
}

func TestRefresh_MissingAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	h := New(server.URL, time.Second)
	_, err := h.Refresh(context.Background(), "refresh-1")
	assert.Error(t, err)
}
