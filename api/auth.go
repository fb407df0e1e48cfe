package api

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// DefaultKeyCacheTTL bounds how long a JWKS key is reused without asking
// the key set again.
const DefaultKeyCacheTTL = 15 * time.Minute

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
	errNoKeySource          = errors.New("auth: a JWKS or a shared secret is required")
)

// AuthConfig selects how bearer tokens are verified. A non-empty
// SharedSecret switches to HS256, which local runs and tests use; otherwise
// RS256 keys come from JWKS.
type AuthConfig struct {
	JWKS         *keyfunc.JWKS
	Audience     string
	Issuer       string
	SharedSecret []byte
	KeyCacheTTL  time.Duration
}

// Auth validates incoming JWT tokens.
type Auth struct {
	cfg    AuthConfig
	parser *jwt.Parser

	keyCache sync.Map
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth from cfg.
func NewAuth(cfg AuthConfig) (*Auth, error) {
	if cfg.JWKS == nil && len(cfg.SharedSecret) == 0 {
		return nil, errNoKeySource
	}
	if cfg.KeyCacheTTL < 0 {
		return nil, errors.New("auth: negative key cache TTL")
	}
	method := "RS256"
	if len(cfg.SharedSecret) > 0 {
		method = "HS256"
	}
	return &Auth{
		cfg:    cfg,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{method}), jwt.WithoutClaimsValidation()),
	}, nil
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// bearerToken returns the compact JWT carried by an Authorization header.
func bearerToken(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" || strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

// UserIDFromBearer verifies token and returns its subject.
func (a *Auth) UserIDFromBearer(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}
	parsed, err := a.parser.Parse(token, a.keyForToken)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if err := a.verifyClaims(claims, time.Now()); err != nil {
		return "", err
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

// verifyClaims allows one minute of clock skew.
func (a *Auth) verifyClaims(claims jwt.MapClaims, now time.Time) error {
	early, late := now.Add(-time.Minute).Unix(), now.Add(time.Minute).Unix()
	switch {
	case !claims.VerifyExpiresAt(early, true):
		return errors.New("token expired")
	case !claims.VerifyNotBefore(late, false):
		return errors.New("token not valid yet")
	case !claims.VerifyIssuedAt(late, false):
		return errors.New("token used before issued")
	case a.cfg.Audience != "" && !claims.VerifyAudience(a.cfg.Audience, true):
		return errors.New("invalid audience")
	case a.cfg.Issuer != "" && !claims.VerifyIssuer(a.cfg.Issuer, true):
		return errors.New("invalid issuer")
	}
	return nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if len(a.cfg.SharedSecret) > 0 {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.cfg.SharedSecret, nil
	}
	if a.cfg.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.cfg.KeyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.cfg.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && a.cfg.KeyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.cfg.KeyCacheTTL)})
	}
	return key, nil
}
