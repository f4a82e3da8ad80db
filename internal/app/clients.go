package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"docsync/features/connection"
	"docsync/internal/config"
	"docsync/internal/graph"
)

// PlaintextSecrets is the default SecretDecrypter: secrets stored as-is.
// Deployments with encryption at rest swap in their own implementation.
type PlaintextSecrets struct{}

func (PlaintextSecrets) Decrypt(ciphertext string) (string, error) {
	return ciphertext, nil
}

// oauthTokens adapts an oauth2 token source to the graph client's
// TokenSource. The wrapped source caches the access token and only hits the
// token endpoint once it expires.
type oauthTokens struct {
	src oauth2.TokenSource
}

func (o *oauthTokens) Token(ctx context.Context) (string, error) {
	tok, err := o.src.Token()
	if err != nil {
		return "", fmt.Errorf("acquire token: %w", err)
	}
	return tok.AccessToken, nil
}

// GraphClients builds one API client per connection and caches it, so the
// underlying token source can reuse unexpired tokens.
type GraphClients struct {
	baseURL   string
	tokenURL  string
	opts      graph.Options
	decrypter connection.SecretDecrypter

	mu      sync.Mutex
	clients map[string]*graph.Client
}

func NewGraphClients(cfg *config.Config, decrypter connection.SecretDecrypter) *GraphClients {
	return &GraphClients{
		baseURL:   cfg.GraphBaseURL,
		tokenURL:  "https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		decrypter: decrypter,
		opts: graph.Options{
			MaxAttempts:    cfg.GraphMaxAttempts,
			AttemptTimeout: time.Duration(cfg.GraphTimeoutSeconds) * time.Second,
			RequestsPerSec: cfg.GraphRequestsPerSec,
		},
		clients: make(map[string]*graph.Client),
	}
}

// For returns the client for a connection, building it on first use.
func (g *GraphClients) For(ctx context.Context, conn *connection.Connection) (*graph.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if client, ok := g.clients[conn.ID]; ok {
		return client, nil
	}

	secret, err := g.decrypter.Decrypt(conn.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt client secret: %w", err)
	}

	creds := &clientcredentials.Config{
		ClientID:     conn.ClientID,
		ClientSecret: secret,
		TokenURL:     fmt.Sprintf(g.tokenURL, conn.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	// The token source lives as long as the cached client, so unexpired
	// tokens are reused across requests.
	src := creds.TokenSource(context.Background())
	client := graph.NewClient(g.baseURL, &oauthTokens{src: src}, g.opts)
	g.clients[conn.ID] = client
	return client, nil
}

// Invalidate drops a cached client after its connection's credentials change.
func (g *GraphClients) Invalidate(connectionID string) {
	g.mu.Lock()
	delete(g.clients, connectionID)
	g.mu.Unlock()
}

// authProber adapts GraphClients to the connection feature's probe.
type authProber struct {
	clients *GraphClients
}

func (p *authProber) ValidateAuth(ctx context.Context, conn *connection.Connection) error {
	client, err := p.clients.For(ctx, conn)
	if err != nil {
		return err
	}
	return client.ValidateAuth(ctx)
}

// contentFetcher adapts GraphClients to the ingestion worker's download
// surface.
type contentFetcher struct {
	clients *GraphClients
	conns   connection.Repo
}

func (f *contentFetcher) Fetch(ctx context.Context, connectionID string, file *graph.File) ([]byte, error) {
	conn, err := f.conns.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	client, err := f.clients.For(ctx, conn)
	if err != nil {
		return nil, err
	}
	return client.GetContent(ctx, file)
}
