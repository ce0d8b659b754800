package middleware

import (
	"net/http"
	"strconv"

	"github.com/nsconnect/rolebridge/endpoint"
)

// DefaultContentSecurityPolicy allows the pages' own markup and the water.css
// stylesheet from jsDelivr. Forms may only post to this origin, whose
// checksum form redirects on to Discord's authorize page.
const DefaultContentSecurityPolicy = "default-src 'none'; style-src https://cdn.jsdelivr.net; img-src 'self' data:; form-action 'self' https://discord.com; frame-ancestors 'none'; base-uri 'none'"

// SecurityHeadersProcessor sets response headers recommended for HTML pages.
//
// Defaults:
//   - Strict-Transport-Security: max-age=31536000; includeSubDomains
//   - Referrer-Policy: no-referrer (the callback URL carries the OAuth code)
//   - X-Frame-Options: DENY
//   - X-Content-Type-Options: nosniff
//   - Content-Security-Policy: DefaultContentSecurityPolicy
//
// A zero HSTSMaxAge or an empty string disables the corresponding header.
type SecurityHeadersProcessor struct {
	HSTSMaxAge            int
	ReferrerPolicy        string
	FrameOptions          string
	ContentTypeOptions    bool
	ContentSecurityPolicy string
}

// SecurityHeadersOption configures a SecurityHeadersProcessor.
type SecurityHeadersOption func(*SecurityHeadersProcessor)

// NewSecurityHeadersProcessor creates a SecurityHeadersProcessor with the defaults above.
func NewSecurityHeadersProcessor(opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	p := &SecurityHeadersProcessor{
		HSTSMaxAge:            31536000,
		ReferrerPolicy:        "no-referrer",
		FrameOptions:          "DENY",
		ContentTypeOptions:    true,
		ContentSecurityPolicy: DefaultContentSecurityPolicy,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithoutHSTS disables Strict-Transport-Security, for plain-http development.
func WithoutHSTS() SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.HSTSMaxAge = 0
	}
}

// WithCSP overrides the Content-Security-Policy.
func WithCSP(policy string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.ContentSecurityPolicy = policy
	}
}

// Process implements endpoint.Processor.
func (p *SecurityHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if p.HSTSMaxAge > 0 {
		h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(p.HSTSMaxAge)+"; includeSubDomains")
	}
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if p.FrameOptions != "" {
		h.Set("X-Frame-Options", p.FrameOptions)
	}
	if p.ContentTypeOptions {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	if p.ContentSecurityPolicy != "" {
		h.Set("Content-Security-Policy", p.ContentSecurityPolicy)
	}
	return next(w, r)
}

var _ endpoint.Processor = (*SecurityHeadersProcessor)(nil)
