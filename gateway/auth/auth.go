package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"jobmarket/crypto"
)

const (
	defaultTokenTTL  = time.Hour
	defaultClockSkew = 2 * time.Minute
)

var (
	ErrSecretMissing = errors.New("auth: hmac secret not configured")
	ErrInvalidToken  = errors.New("auth: invalid token")
)

// Config controls challenge issuance and session tokens.
type Config struct {
	HMACSecret        string
	Issuer            string
	Audience          string
	TokenTTL          time.Duration
	ClockSkew         time.Duration
	ChallengeTTL      time.Duration
	ChallengeCapacity int
}

// Session is an issued bearer token bound to a wallet address.
type Session struct {
	Address   [20]byte
	Token     string
	ExpiresAt time.Time
}

// Service issues wallet login challenges and exchanges signed challenges for
// HS256 session tokens whose subject is the caller address.
type Service struct {
	cfg        Config
	secret     []byte
	challenges *challengeStore
	nowFn      func() time.Time
}

// NewService validates cfg and returns a ready service.
func NewService(cfg Config, nowFn func() time.Time) (*Service, error) {
	secret := []byte(strings.TrimSpace(cfg.HMACSecret))
	if len(secret) == 0 {
		return nil, ErrSecretMissing
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = defaultClockSkew
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Service{
		cfg:        cfg,
		secret:     secret,
		challenges: newChallengeStore(cfg.ChallengeTTL, cfg.ChallengeCapacity),
		nowFn:      nowFn,
	}, nil
}

// Challenge issues a fresh login challenge for addr.
func (s *Service) Challenge(addr [20]byte) (Challenge, error) {
	return s.challenges.issue(addr, s.nowFn())
}

// Login consumes the challenge identified by nonce, checks that sig is addr's
// personal_sign signature over it and returns a session token.
func (s *Service) Login(addr [20]byte, nonce string, sig []byte) (*Session, error) {
	now := s.nowFn()
	ch, ok := s.challenges.consume(addr, strings.TrimSpace(nonce), now)
	if !ok {
		return nil, ErrChallengeUnknown
	}
	signer, err := crypto.RecoverPersonal([]byte(ch.Message), sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignerMismatch, err)
	}
	if signer != addr {
		return nil, ErrSignerMismatch
	}
	return s.Issue(addr)
}

// Issue mints a session token for addr. Login calls it once the challenge
// signature checks out.
func (s *Service) Issue(addr [20]byte) (*Session, error) {
	now := s.nowFn()
	expires := now.Add(s.cfg.TokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   crypto.FormatHex(addr),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	if s.cfg.Issuer != "" {
		claims.Issuer = s.cfg.Issuer
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("auth: sign token: %w", err)
	}
	return &Session{Address: addr, Token: token, ExpiresAt: expires}, nil
}

// Verify parses a bearer token and returns the caller address it names.
func (s *Service) Verify(tokenString string) ([20]byte, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(s.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.nowFn),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return [20]byte{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	addr, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	return addr, nil
}

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller address.
func WithCaller(ctx context.Context, addr [20]byte) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the authenticated caller stored by WithCaller.
func CallerFrom(ctx context.Context) ([20]byte, bool) {
	addr, ok := ctx.Value(callerKey{}).([20]byte)
	return addr, ok
}
