package clients

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const tokenRefreshMargin = 15 * time.Second

// ServiceTokenSource mints short-lived HS256 tokens identifying this service
// to collaborator APIs. Tokens are cached per audience until close to expiry.
type ServiceTokenSource struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	cached map[string]cachedToken
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// NewServiceTokenSource constructs a token source. A nil source is a valid
// value for unauthenticated collaborator calls.
func NewServiceTokenSource(secret, issuer string, ttl time.Duration) (*ServiceTokenSource, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("clients: service signing secret is required")
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("clients: service token issuer is required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ServiceTokenSource{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
		cached: make(map[string]cachedToken),
	}, nil
}

// Token returns a signed token whose audience is the collaborator service name.
func (s *ServiceTokenSource) Token(audience string) (string, error) {
	if s == nil {
		return "", errors.New("clients: token source not initialised")
	}
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return "", errors.New("clients: token audience is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cached, ok := s.cached[audience]; ok && cached.expiresAt.After(now.Add(tokenRefreshMargin)) {
		return cached.value, nil
	}

	expiresAt := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", err
	}

	s.cached[audience] = cachedToken{value: token, expiresAt: expiresAt}
	return token, nil
}
