// Package discord is a small client for the parts of the Discord API the
// bridge needs: the OAuth2 authorization-code flow, the current user, and
// application role connections.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultAPIURL is the versioned REST base.
	DefaultAPIURL = "https://discord.com/api/v10"
	// DefaultTimeout bounds a single API call.
	DefaultTimeout = 10 * time.Second

	// ScopeRoleConnectionsWrite lets the bridge write the user's role connection.
	ScopeRoleConnectionsWrite = "role_connections.write"
	// ScopeIdentify lets the bridge read the user it is linking.
	ScopeIdentify = "identify"

	maxErrorBody = 4 << 10
)

// Endpoint is Discord's OAuth2 endpoint. Client credentials go in the form body.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  "https://discord.com/api/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Config holds the application credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// BotToken authorizes application-level calls such as metadata registration.
	BotToken string
}

// Client calls Discord on behalf of one application.
type Client struct {
	oauth      *oauth2.Config
	apiURL     string
	botToken   string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithAPIURL overrides the REST base (for testing).
func WithAPIURL(u string) Option {
	return func(c *Client) {
		c.apiURL = strings.TrimRight(u, "/")
	}
}

// WithEndpoint overrides the OAuth2 endpoint (for testing).
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(c *Client) {
		c.oauth.Endpoint = ep
	}
}

// WithHTTPClient sets the HTTP client used for every call, including the token exchange.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Client for the application in cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     Endpoint,
			Scopes:       []string{ScopeRoleConnectionsWrite, ScopeIdentify},
		},
		apiURL:     DefaultAPIURL,
		botToken:   cfg.BotToken,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthCodeURL returns the URL that asks the user to authorize the bridge.
// Consent is always prompted so the user sees what is being linked.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for a user access token.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("discord: token exchange: %w", err)
	}
	return tok, nil
}

// CurrentUser returns the user that owns tok.
func (c *Client) CurrentUser(ctx context.Context, tok *oauth2.Token) (User, error) {
	var u User
	err := c.do(ctx, c.userClient(ctx, tok), "get current user", http.MethodGet, "/users/@me", nil, &u)
	return u, err
}

// UpdateRoleConnection replaces the role connection of the user that owns tok.
func (c *Client) UpdateRoleConnection(ctx context.Context, tok *oauth2.Token, rc RoleConnection) error {
	p := "/users/@me/applications/" + url.PathEscape(c.oauth.ClientID) + "/role-connection"
	return c.do(ctx, c.userClient(ctx, tok), "update role connection", http.MethodPut, p, rc, nil)
}

// RegisterMetadata replaces the application's role-connection metadata records.
// It authenticates with the bot token.
func (c *Client) RegisterMetadata(ctx context.Context, fields []MetadataField) error {
	if c.botToken == "" {
		return errors.New("discord: register metadata: bot token not configured")
	}
	p := "/applications/" + url.PathEscape(c.oauth.ClientID) + "/role-connections/metadata"
	hc := &http.Client{
		Timeout:   c.httpClient.Timeout,
		Transport: botTransport{token: c.botToken, base: c.httpClient.Transport},
	}
	return c.do(ctx, hc, "register metadata", http.MethodPut, p, fields, nil)
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// userClient returns a client that sends tok as a bearer token.
func (c *Client) userClient(ctx context.Context, tok *oauth2.Token) *http.Client {
	hc := c.oauth.Client(c.withHTTPClient(ctx), tok)
	hc.Timeout = c.httpClient.Timeout
	return hc
}

func (c *Client) do(ctx context.Context, hc *http.Client, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("discord: %s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return fmt.Errorf("discord: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("discord: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("discord: %s: decode: %w", op, err)
	}
	return nil
}

// botTransport authorizes requests with the application's bot token.
type botTransport struct {
	token string
	base  http.RoundTripper
}

func (t botTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bot "+t.token)
	return base.RoundTrip(r)
}
