// Package nationstates talks to the NationStates API: it issues challenge
// tokens and checks the checksum a user copies back from the verification page.
package nationstates

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"
)

const (
	// DefaultAPIURL is the NationStates API endpoint.
	DefaultAPIURL = "https://www.nationstates.net/cgi-bin/api.cgi"
	// DefaultVerifyPageURL is the page that shows a nation its checksum for a token.
	DefaultVerifyPageURL = "https://www.nationstates.net/page=verify_login"
	// DefaultUserAgent identifies the bridge to NationStates, which requires a User-Agent.
	DefaultUserAgent = "rolebridge/0.1.0 (NationStates Discord role connections)"
	// DefaultTimeout bounds a single verification call.
	DefaultTimeout = 10 * time.Second

	// verifyShards are requested alongside the verify action so one call
	// returns both the verdict and the profile fields.
	verifyShards = "name+unstatus+population+firstlogin"

	maxResponseBytes = 64 << 10
)

// Client issues challenge tokens and verifies checksums.
type Client struct {
	apiURL        string
	verifyPageURL string
	userAgent     string
	secret        []byte
	httpClient    *http.Client
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithAPIURL overrides the API endpoint (for testing).
func WithAPIURL(u string) Option {
	return func(c *Client) {
		c.apiURL = u
	}
}

// WithVerifyPageURL overrides the verification page.
func WithVerifyPageURL(u string) Option {
	return func(c *Client) {
		c.verifyPageURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClock replaces time.Now for token generation.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithLogger sets the logger used for upstream failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a Client. secret keys the challenge-token HMAC.
func NewClient(userAgent, secret string, opts ...Option) *Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	c := &Client{
		apiURL:        DefaultAPIURL,
		verifyPageURL: DefaultVerifyPageURL,
		userAgent:     userAgent,
		secret:        []byte(secret),
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// verifyResponse is the XML returned by a=verify with profile shards.
// Pointer fields distinguish absent elements from empty ones.
type verifyResponse struct {
	XMLName    xml.Name `xml:"NATION"`
	Verify     *string  `xml:"VERIFY"`
	Name       *string  `xml:"NAME"`
	UNStatus   *string  `xml:"UNSTATUS"`
	Population *string  `xml:"POPULATION"`
	FirstLogin *string  `xml:"FIRSTLOGIN"`
}

// Verify asks NationStates whether checksum is valid for nation and token.
//
// It never returns an error: transport failures, unexpected statuses and
// unparseable or incomplete responses all come back as Denied.
func (c *Client) Verify(ctx context.Context, nation, checksum, token string) Result {
	nation = NormalizeNation(nation)
	q := url.Values{
		"a":        {"verify"},
		"nation":   {nation},
		"checksum": {checksum},
		"token":    {token},
	}
	// Shards are '+'-separated; encoding them through url.Values would escape the separators.
	endpoint := c.apiURL + "?" + q.Encode() + "&q=" + verifyShards

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Denied{Reason: "failed to create request", Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "nationstates verify request failed", "nation", nation, "error", err)
		return Denied{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Denied{Reason: "failed to read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("nationstates: unexpected status %d", resp.StatusCode)
		c.logger.WarnContext(ctx, "nationstates verify returned non-200", "nation", nation, "status", resp.StatusCode)
		return Denied{Reason: "unexpected status", Err: err}
	}
	return parseVerifyResponse(nation, body)
}

func parseVerifyResponse(nation string, body []byte) Result {
	trimmed := bytes.TrimSpace(body)
	switch string(trimmed) {
	case "0":
		return Denied{Reason: "checksum rejected"}
	case "1":
		// A bare pass without shards carries no profile to link.
		return Denied{Reason: "profile fields missing"}
	}

	var vr verifyResponse
	dec := xml.NewDecoder(bytes.NewReader(trimmed))
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, err
		}
		return enc.NewDecoder().Reader(input), nil
	}
	if err := dec.Decode(&vr); err != nil {
		return Denied{Reason: "unparseable response", Err: err}
	}

	if vr.Verify == nil {
		return Denied{Reason: "missing VERIFY", Err: errMissing("VERIFY")}
	}
	if strings.TrimSpace(*vr.Verify) != "1" {
		return Denied{Reason: "checksum rejected"}
	}
	required := []struct {
		tag string
		v   *string
	}{{"NAME", vr.Name}, {"UNSTATUS", vr.UNStatus}, {"FIRSTLOGIN", vr.FirstLogin}}
	for _, f := range required {
		if f.v == nil {
			return Denied{Reason: "missing " + f.tag, Err: errMissing(f.tag)}
		}
	}

	population := int64(0)
	if vr.Population != nil {
		millions, err := strconv.ParseFloat(strings.TrimSpace(*vr.Population), 64)
		if err != nil || millions < 0 || math.IsNaN(millions) || math.IsInf(millions, 0) {
			return Denied{Reason: "invalid POPULATION", Err: fmt.Errorf("nationstates: invalid population %q", *vr.Population)}
		}
		people := math.Round(millions * 1_000_000)
		if people >= math.MaxInt64 {
			return Denied{Reason: "invalid POPULATION", Err: fmt.Errorf("nationstates: population %q out of range", *vr.Population)}
		}
		population = int64(people)
	}

	founded := FoundedInAntiquity()
	if ts, err := strconv.ParseInt(strings.TrimSpace(*vr.FirstLogin), 10, 64); err == nil && ts > 0 {
		founded = FoundedAt(ts)
	}

	return Success{
		Nation:     nation,
		Name:       strings.TrimSpace(*vr.Name),
		WAMember:   !strings.EqualFold(strings.TrimSpace(*vr.UNStatus), "Non-member"),
		Population: population,
		Founded:    founded,
	}
}

var errMissingElement = errors.New("nationstates: missing element")

func errMissing(tag string) error {
	return fmt.Errorf("%w <%s>", errMissingElement, tag)
}
