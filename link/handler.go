// Package link runs the account-linking workflow: a user proves they own a
// NationStates nation, authorizes the bridge on Discord, and the bridge writes
// the nation's verified attributes to their Discord role connection.
package link

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/nsconnect/rolebridge/discord"
	"github.com/nsconnect/rolebridge/endpoint"
	"github.com/nsconnect/rolebridge/linkstore"
	"github.com/nsconnect/rolebridge/metrics"
	"github.com/nsconnect/rolebridge/middleware"
	"github.com/nsconnect/rolebridge/nationstates"
)

const (
	// TokenCookieName carries the challenge token between the checksum form and its submission.
	TokenCookieName = "nsToken"
	// StateCookieName binds the Discord callback to the browser that started it.
	StateCookieName = "clientState"

	// PendingTTL is how long a verified nation waits for Discord authorization.
	PendingTTL = 5 * time.Minute
)

// Verifier issues and checks NationStates challenges.
type Verifier interface {
	GenerateToken(nation string) string
	VerificationURL(token string) string
	Verify(ctx context.Context, nation, checksum, token string) nationstates.Result
}

// Platform is the Discord side of the link.
type Platform interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	CurrentUser(ctx context.Context, tok *oauth2.Token) (discord.User, error)
	UpdateRoleConnection(ctx context.Context, tok *oauth2.Token, rc discord.RoleConnection) error
}

// PendingVerification is a verified nation awaiting Discord authorization.
type PendingVerification struct {
	Nation     string
	Name       string
	WAMember   bool
	Population int64
	Founded    nationstates.Founded
	ExpiresAt  time.Time
}

// Handler serves the linking pages.
type Handler struct {
	mux      *http.ServeMux
	verifier Verifier
	platform Platform
	store    *linkstore.Store[PendingVerification]

	tokenCookie *middleware.SecureCookie[string]
	stateCookie *middleware.SecureCookie[string]

	processors    []endpoint.Processor
	cookieOptions []middleware.SecureCookieOption
	now           func() time.Time
	newState      func() (string, error)
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// Option configures the Handler.
type Option func(*Handler)

// WithProcessors adds processors that run before every endpoint.
func WithProcessors(p ...endpoint.Processor) Option {
	return func(h *Handler) {
		h.processors = append(h.processors, p...)
	}
}

// WithCookieOptions configures both cookies. SameSite is fixed per cookie
// unless overridden here.
func WithCookieOptions(opts ...middleware.SecureCookieOption) Option {
	return func(h *Handler) {
		h.cookieOptions = append(h.cookieOptions, opts...)
	}
}

// WithClock replaces time.Now for cookie and store expiry.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithMetrics records workflow outcomes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithStore shares a pending-verification store with the caller.
func WithStore(s *linkstore.Store[PendingVerification]) Option {
	return func(h *Handler) {
		h.store = s
	}
}

// NewHandler creates a Handler. codec seals the nsToken and clientState cookies.
func NewHandler(verifier Verifier, platform Platform, codec *middleware.SecureCookieCodec, opts ...Option) (*Handler, error) {
	if verifier == nil || platform == nil {
		return nil, errors.New("link: verifier and platform are required")
	}
	h := &Handler{
		mux:      http.NewServeMux(),
		verifier: verifier,
		platform: platform,
		now:      time.Now,
		newState: newState,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.store == nil {
		h.store = linkstore.New[PendingVerification](linkstore.WithClock(h.now))
	}

	var err error
	h.tokenCookie, err = h.newCookie(TokenCookieName, codec, http.SameSiteStrictMode)
	if err != nil {
		return nil, err
	}
	// Lax so the cookie is sent on the top-level redirect back from Discord.
	h.stateCookie, err = h.newCookie(StateCookieName, codec, http.SameSiteLaxMode)
	if err != nil {
		return nil, err
	}

	h.mux.Handle("GET /{$}", route(h, h.home))
	h.mux.Handle("GET /verify", route(h, h.nationForm))
	h.mux.Handle("POST /verify", route(h, h.submitChecksum))
	h.mux.Handle("GET /discord-oauth-callback", route(h, h.callback))
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Pending reports the number of stored verifications, including expired ones
// not yet pruned.
func (h *Handler) Pending() int {
	return h.store.Len()
}

func (h *Handler) newCookie(name string, codec *middleware.SecureCookieCodec, sameSite http.SameSite) (*middleware.SecureCookie[string], error) {
	opts := append([]middleware.SecureCookieOption{
		middleware.WithSameSite(sameSite),
		middleware.WithMaxAge(PendingTTL),
		middleware.WithClock(h.now),
	}, h.cookieOptions...)
	return middleware.NewSecureCookie[string](name, codec, opts...)
}

func route[P any](h *Handler, fn endpoint.EndpointFunc[P]) http.Handler {
	eh := endpoint.Handler(fn, h.processors...)
	eh.OnError = renderError
	return eh
}

func newState() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type homeParams struct{}

func (h *Handler) home(w http.ResponseWriter, r *http.Request, _ homeParams) (endpoint.Renderer, error) {
	return page("home", nil), nil
}

type nationParams struct {
	Nation string `query:"nation" maxLength:"128"`
}

// nationForm asks for a nation, or when one is given, issues a challenge
// token and shows the checksum form.
func (h *Handler) nationForm(w http.ResponseWriter, r *http.Request, p nationParams) (endpoint.Renderer, error) {
	nation := strings.TrimSpace(p.Nation)
	if nation == "" {
		return page("nation", nil), nil
	}

	token := h.verifier.GenerateToken(nation)
	c, err := h.tokenCookie.Encode(token)
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "Failed to issue token", err)
	}
	http.SetCookie(w, c)
	h.metrics.IncChallengesIssued()
	h.logger.DebugContext(r.Context(), "challenge issued", "nation", nationstates.NormalizeNation(nation))

	return page("checksum", checksumPage{
		Nation:          nation,
		VerificationURL: h.verifier.VerificationURL(token),
	}), nil
}

type checksumParams struct {
	Nation   []string `form:"nation" maxLength:"128"`
	Checksum []string `form:"checksum" maxLength:"128"`
}

// submitChecksum verifies the checksum with NationStates and, on success,
// sends the user to Discord to authorize the link.
func (h *Handler) submitChecksum(w http.ResponseWriter, r *http.Request, p checksumParams) (endpoint.Renderer, error) {
	ctx := r.Context()

	if endpoint.MediaType(r) != "application/x-www-form-urlencoded" {
		h.metrics.IncVerification(metrics.OutcomeInvalid)
		return nil, endpoint.Error(http.StatusUnsupportedMediaType, "Invalid content type", nil)
	}
	if missing(p.Nation) || missing(p.Checksum) {
		h.metrics.IncVerification(metrics.OutcomeInvalid)
		return nil, endpoint.Error(http.StatusBadRequest, "Missing nation or checksum", nil)
	}
	if len(p.Nation) != 1 || len(p.Checksum) != 1 {
		h.metrics.IncVerification(metrics.OutcomeInvalid)
		return nil, endpoint.Error(http.StatusBadRequest, "Invalid nation or checksum", nil)
	}
	nation, checksum := p.Nation[0], p.Checksum[0]

	token, err := h.tokenCookie.Read(r)
	if err != nil {
		h.metrics.IncVerification(metrics.OutcomeInvalid)
		return nil, endpoint.Error(http.StatusForbidden, "Missing or invalid token", err)
	}

	var verified nationstates.Success
	switch res := h.verifier.Verify(ctx, nation, checksum, token).(type) {
	case nationstates.Success:
		verified = res
	case nationstates.Denied:
		h.metrics.IncVerification(metrics.OutcomeDenied)
		h.logger.InfoContext(ctx, "nationstates verification denied",
			"nation", nationstates.NormalizeNation(nation), "reason", res.Reason, "error", res.Err)
		return nil, endpoint.Error(http.StatusForbidden, "NationStates verification failed", res.Err)
	default:
		h.metrics.IncVerification(metrics.OutcomeError)
		return nil, endpoint.Error(http.StatusForbidden, "NationStates verification failed", nil)
	}

	state, err := h.newState()
	if err != nil {
		h.metrics.IncVerification(metrics.OutcomeError)
		return nil, endpoint.Error(http.StatusInternalServerError, "Failed to start Discord authorization", err)
	}
	stateCookie, err := h.stateCookie.Encode(state)
	if err != nil {
		h.metrics.IncVerification(metrics.OutcomeError)
		return nil, endpoint.Error(http.StatusInternalServerError, "Failed to start Discord authorization", err)
	}

	name := verified.Name
	if name == "" {
		name = nation
	}
	expiresAt := h.now().Add(PendingTTL)
	if n := h.store.Prune(); n > 0 {
		h.logger.DebugContext(ctx, "pruned expired verifications", "count", n)
	}
	h.store.Set(state, PendingVerification{
		Nation:     verified.Nation,
		Name:       name,
		WAMember:   verified.WAMember,
		Population: verified.Population,
		Founded:    verified.Founded,
		ExpiresAt:  expiresAt,
	}, expiresAt)

	http.SetCookie(w, stateCookie)
	http.SetCookie(w, h.tokenCookie.Clear())
	h.metrics.IncVerification(metrics.OutcomeSuccess)
	h.logger.InfoContext(ctx, "nation verified", "nation", verified.Nation)

	return &endpoint.RedirectRenderer{URL: h.platform.AuthCodeURL(state), Status: http.StatusFound}, nil
}

func missing(values []string) bool {
	return len(values) == 0 || (len(values) == 1 && values[0] == "")
}

type callbackParams struct {
	Code      string `query:"code"`
	State     string `query:"state"`
	Error     string `query:"error"`
	ErrorDesc string `query:"error_description"`
}

// callback completes the link: it checks the state against the browser's
// cookie, consumes the pending verification and writes the role connection.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request, p callbackParams) (endpoint.Renderer, error) {
	ctx := r.Context()

	if p.Code == "" {
		if p.Error != "" {
			// Discord redirects here without a code when the user cancels.
			h.metrics.IncLink(metrics.OutcomeDenied)
			h.logger.InfoContext(ctx, "discord authorization denied", "error", p.Error, "description", p.ErrorDesc)
			return nil, endpoint.Error(http.StatusBadRequest, "Authorization denied", nil)
		}
		h.metrics.IncLink(metrics.OutcomeInvalid)
		return nil, endpoint.Error(http.StatusBadRequest, "Missing authorization code", nil)
	}
	if p.State == "" {
		h.metrics.IncLink(metrics.OutcomeInvalid)
		return nil, endpoint.Error(http.StatusBadRequest, "Missing state", nil)
	}

	cookieState, err := h.stateCookie.Read(r)
	if err != nil {
		h.metrics.IncLink(metrics.OutcomeInvalid)
		return nil, endpoint.Error(http.StatusForbidden, "Missing or invalid state cookie", err)
	}
	if subtle.ConstantTimeCompare([]byte(cookieState), []byte(p.State)) != 1 {
		h.metrics.IncLink(metrics.OutcomeInvalid)
		return nil, endpoint.Error(http.StatusForbidden, "State verification failed", nil)
	}
	http.SetCookie(w, h.stateCookie.Clear())

	pending, ok := h.store.Take(p.State)
	if !ok {
		h.metrics.IncLink(metrics.OutcomeExpired)
		return nil, endpoint.Error(http.StatusGone, "Verification expired or already used", nil)
	}

	tok, err := h.platform.Exchange(ctx, p.Code)
	if err != nil {
		h.metrics.IncLink(metrics.OutcomeError)
		h.logger.ErrorContext(ctx, "discord token exchange failed", "nation", pending.Nation, "error", err)
		return nil, endpoint.Error(http.StatusInternalServerError, "Failed to complete Discord authorization", err)
	}

	log := h.logger.With("nation", pending.Nation)
	if user, err := h.platform.CurrentUser(ctx, tok); err != nil {
		log.WarnContext(ctx, "discord user lookup failed", "error", err)
	} else {
		log = log.With("discord_user_id", user.ID)
	}

	err = h.platform.UpdateRoleConnection(ctx, tok, discord.RoleConnection{
		PlatformName:     PlatformName,
		PlatformUsername: pending.Name,
		Metadata:         MetadataFor(pending.WAMember, pending.Population, pending.Founded),
	})
	if err != nil {
		h.metrics.IncLink(metrics.OutcomeError)
		log.ErrorContext(ctx, "discord role connection update failed", "error", err)
		return nil, endpoint.Error(http.StatusInternalServerError, "Failed to update Discord role connection", err)
	}

	h.metrics.IncLink(metrics.OutcomeSuccess)
	log.InfoContext(ctx, "role connection linked")
	return page("linked", nil), nil
}
