package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/clientcredentials"

	"docsync/features/connection"
	"docsync/internal/config"
)

func TestOAuthTokensReusesUnexpiredToken(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	creds := &clientcredentials.Config{
		ClientID:     "client-1",
		ClientSecret: "secret",
		TokenURL:     server.URL,
	}
	tokens := &oauthTokens{src: creds.TokenSource(context.Background())}

	for i := 0; i < 3; i++ {
		tok, err := tokens.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}
	assert.Equal(t, 1, hits, "unexpired token must be served from the cache")
}

func TestGraphClientsCachesPerConnection(t *testing.T) {
	cfg := &config.Config{
		GraphBaseURL:        "https://graph.example.com/v1.0",
		GraphTimeoutSeconds: 5,
		GraphMaxAttempts:    2,
		GraphRequestsPerSec: 10,
	}
	clients := NewGraphClients(cfg, PlaintextSecrets{})

	conn := &connection.Connection{
		ID: "conn-1", TenantID: "tenant-1", ClientID: "client-1", ClientSecret: "secret",
	}
	first, err := clients.For(context.Background(), conn)
	require.NoError(t, err)
	second, err := clients.For(context.Background(), conn)
	require.NoError(t, err)
	assert.Same(t, first, second)

	clients.Invalidate("conn-1")
	third, err := clients.For(context.Background(), conn)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}
