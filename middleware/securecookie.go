package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrCookieMissing = errors.New("cookie not present")
	ErrCookieFormat  = errors.New("invalid cookie format")
	ErrCookieInvalid = errors.New("invalid cookie")
	ErrCookieExpired = errors.New("cookie expired")
	ErrCookieConfig  = errors.New("invalid secure cookie configuration")
)

// maxCookieLen bounds the attacker-controlled data we decode per cookie.
const maxCookieLen = 4096

// DefaultAEADKeysize is the key size for the default AEAD (XChaCha20-Poly1305).
const DefaultAEADKeysize = chacha20poly1305.KeySize

// cookieKeyInfo is the HKDF info string binding derived keys to cookie sealing.
const cookieKeyInfo = "rolebridge secure cookie v1"

// DeriveKeys expands one or more operator secrets into AEAD keys.
//
// The first secret is the current sealing key; the rest remain accepted for
// decoding so a secret can be rotated without invalidating in-flight cookies.
// Key IDs are short fingerprints of the derived key.
func DeriveKeys(secrets ...string) (keyID string, keys map[string][]byte, err error) {
	if len(secrets) == 0 {
		return "", nil, fmt.Errorf("%w: no secret", ErrCookieConfig)
	}
	keys = make(map[string][]byte, len(secrets))
	for i, secret := range secrets {
		if secret == "" {
			return "", nil, fmt.Errorf("%w: empty secret", ErrCookieConfig)
		}
		key := make([]byte, DefaultAEADKeysize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(cookieKeyInfo)), key); err != nil {
			return "", nil, err
		}
		sum := sha256.Sum256(key)
		id := hex.EncodeToString(sum[:4])
		if i == 0 {
			keyID = id
		}
		keys[id] = key
	}
	return keyID, keys, nil
}

// SecureCookieCodec seals and opens cookie values.
//
// Format: [keyId] "." base64url(nonce || AEAD.Seal(nil, nonce, plaintext, aad))
type SecureCookieCodec struct {
	KeyID string
	Keys  map[string][]byte

	// NewAEAD constructs the AEAD used to seal/open cookies.
	NewAEAD func(key []byte) (cipher.AEAD, error)
}

// NewSecureCookieCodec creates a codec. newAEAD defaults to chacha20poly1305.NewX.
func NewSecureCookieCodec(keyID string, keys map[string][]byte, newAEAD func(key []byte) (cipher.AEAD, error)) (*SecureCookieCodec, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: keys must not be nil", ErrCookieConfig)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: keyID not found in keys", ErrCookieConfig)
	}
	if newAEAD == nil {
		newAEAD = chacha20poly1305.NewX
	}
	for id, k := range keys {
		if _, err := newAEAD(k); err != nil {
			return nil, fmt.Errorf("invalid key %s: %w", id, err)
		}
	}
	return &SecureCookieCodec{
		KeyID:   keyID,
		Keys:    keys,
		NewAEAD: newAEAD,
	}, nil
}

// NewSecureCookieCodecFromSecrets derives keys with DeriveKeys and builds the default codec.
func NewSecureCookieCodecFromSecrets(secrets ...string) (*SecureCookieCodec, error) {
	keyID, keys, err := DeriveKeys(secrets...)
	if err != nil {
		return nil, err
	}
	return NewSecureCookieCodec(keyID, keys, nil)
}

// Encode seals plainBytes. aad binds the value to its cookie attributes.
func (sc *SecureCookieCodec) Encode(plainBytes []byte, aad []byte) (string, error) {
	if sc == nil {
		return "", ErrCookieConfig
	}
	key, ok := sc.Keys[sc.KeyID]
	if !ok {
		return "", ErrCookieConfig
	}
	aead, err := sc.NewAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	encrypted := aead.Seal(nonce, nonce, plainBytes, aad)
	return sc.KeyID + "." + base64.RawURLEncoding.EncodeToString(encrypted), nil
}

// Decode opens value.
func (sc *SecureCookieCodec) Decode(value string, aad []byte) ([]byte, error) {
	if sc == nil {
		return nil, ErrCookieConfig
	}
	if len(value) == 0 || len(value) > maxCookieLen {
		return nil, ErrCookieFormat
	}
	keyID, encB64, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || encB64 == "" {
		return nil, ErrCookieFormat
	}
	key, ok := sc.Keys[keyID]
	if !ok {
		return nil, ErrCookieInvalid
	}

	encrypted, err := base64.RawURLEncoding.DecodeString(encB64)
	if err != nil {
		return nil, ErrCookieFormat
	}

	aead, err := sc.NewAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(encrypted) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCookieFormat
	}
	nonce, ciphertext := encrypted[:aead.NonceSize()], encrypted[aead.NonceSize():]
	b, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrCookieInvalid
	}
	return b, nil
}

// envelope is the sealed payload. Expires is checked on decode so a cookie
// replayed after its Max-Age is rejected even if the browser kept it.
type envelope[T any] struct {
	Value   T     `cbor:"1,keyasint"`
	Expires int64 `cbor:"2,keyasint"`
}

type cookieConfig struct {
	path     string
	secure   bool
	sameSite http.SameSite
	maxAge   time.Duration
	now      func() time.Time
}

// SecureCookieOption configures a SecureCookie.
type SecureCookieOption func(*cookieConfig)

// WithPath configures the cookie path.
func WithPath(path string) SecureCookieOption {
	return func(c *cookieConfig) {
		c.path = path
	}
}

// WithSecure configures the cookie secure flag.
func WithSecure(secure bool) SecureCookieOption {
	return func(c *cookieConfig) {
		c.secure = secure
	}
}

// WithSameSite configures the cookie SameSite attribute.
func WithSameSite(sameSite http.SameSite) SecureCookieOption {
	return func(c *cookieConfig) {
		c.sameSite = sameSite
	}
}

// WithMaxAge sets how long an issued cookie stays valid.
func WithMaxAge(d time.Duration) SecureCookieOption {
	return func(c *cookieConfig) {
		c.maxAge = d
	}
}

// WithClock replaces time.Now for issuing and validating cookies.
func WithClock(now func() time.Time) SecureCookieOption {
	return func(c *cookieConfig) {
		c.now = now
	}
}

// DefaultCookieMaxAge is the lifetime of the bridge's short-lived cookies.
const DefaultCookieMaxAge = 5 * time.Minute

// SecureCookie carries a typed value in a sealed, HttpOnly cookie.
//
// Defaults:
//   - Path: /
//   - Secure: true
//   - SameSite: Lax
//   - MaxAge: 5 minutes
type SecureCookie[T any] struct {
	name  string
	cfg   cookieConfig
	codec *SecureCookieCodec
}

// NewSecureCookie creates a SecureCookie sealed with codec.
func NewSecureCookie[T any](name string, codec *SecureCookieCodec, opts ...SecureCookieOption) (*SecureCookie[T], error) {
	if name == "" || codec == nil {
		return nil, ErrCookieConfig
	}
	cfg := cookieConfig{
		path:     "/",
		secure:   true,
		sameSite: http.SameSiteLaxMode,
		maxAge:   DefaultCookieMaxAge,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.path == "" {
		cfg.path = "/"
	}
	if cfg.maxAge < time.Second {
		return nil, fmt.Errorf("%w: max age must be at least one second", ErrCookieConfig)
	}
	return &SecureCookie[T]{name: name, cfg: cfg, codec: codec}, nil
}

// aad binds the cookie name, path and secure flag to the sealed value,
// so a value cannot be moved between cookies.
func (sc *SecureCookie[T]) aad() []byte {
	secureStr := "f"
	if sc.cfg.secure {
		secureStr = "t"
	}
	return []byte(sc.name + ":" + sc.cfg.path + ":" + secureStr)
}

// Encode seals v and returns the cookie that carries it.
func (sc *SecureCookie[T]) Encode(v T) (*http.Cookie, error) {
	now := sc.cfg.now()
	expires := now.Add(sc.cfg.maxAge)
	plain, err := cbor.Marshal(envelope[T]{Value: v, Expires: expires.Unix()})
	if err != nil {
		return nil, err
	}
	val, err := sc.codec.Encode(plain, sc.aad())
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     sc.name,
		Value:    val,
		Path:     sc.cfg.path,
		MaxAge:   int(sc.cfg.maxAge / time.Second),
		Expires:  expires,
		Secure:   sc.cfg.secure,
		HttpOnly: true,
		SameSite: sc.cfg.sameSite,
	}, nil
}

// Decode opens the cookie and returns its value.
func (sc *SecureCookie[T]) Decode(cookie *http.Cookie) (T, error) {
	var zero T
	if cookie == nil {
		return zero, ErrCookieMissing
	}
	plain, err := sc.codec.Decode(cookie.Value, sc.aad())
	if err != nil {
		return zero, err
	}
	var env envelope[T]
	if err := cbor.Unmarshal(plain, &env); err != nil {
		return zero, ErrCookieFormat
	}
	if !sc.cfg.now().Before(time.Unix(env.Expires, 0)) {
		return zero, ErrCookieExpired
	}
	return env.Value, nil
}

// Read decodes the cookie from the request.
func (sc *SecureCookie[T]) Read(r *http.Request) (T, error) {
	c, err := r.Cookie(sc.name)
	if err != nil {
		var zero T
		return zero, ErrCookieMissing
	}
	return sc.Decode(c)
}

// Clear returns a cookie that removes this cookie from the client.
func (sc *SecureCookie[T]) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     sc.name,
		Path:     sc.cfg.path,
		HttpOnly: true,
		Secure:   sc.cfg.secure,
		SameSite: sc.cfg.sameSite,
		Value:    "",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	}
}
