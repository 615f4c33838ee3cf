package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"jobmarket/crypto"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T) (*Service, *clock) {
	t.Helper()
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	svc, err := NewService(Config{HMACSecret: "s3cret", Issuer: "marketd", Audience: "market", TokenTTL: time.Hour}, c.Now)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, c
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc, _ := newTestService(t)
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address().Bytes()

	ch, err := svc.Challenge(addr)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if !strings.Contains(ch.Message, crypto.FormatHex(addr)) {
		t.Fatalf("challenge message must name the address: %q", ch.Message)
	}
	sig, err := key.SignPersonal([]byte(ch.Message))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	session, err := svc.Login(addr, ch.Nonce, sig)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	got, err := svc.Verify(session.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != addr {
		t.Fatalf("token subject mismatch")
	}
	if _, err := svc.Login(addr, ch.Nonce, sig); !errors.Is(err, ErrChallengeUnknown) {
		t.Fatalf("challenge replay must fail, got %v", err)
	}
}

func TestLoginRejectsForeignSignature(t *testing.T) {
	svc, _ := newTestService(t)
	owner, _ := crypto.GeneratePrivateKey()
	other, _ := crypto.GeneratePrivateKey()
	addr := owner.PubKey().Address().Bytes()
	ch, err := svc.Challenge(addr)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	sig, _ := other.SignPersonal([]byte(ch.Message))
	if _, err := svc.Login(addr, ch.Nonce, sig); !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("expected ErrSignerMismatch, got %v", err)
	}
}

func TestChallengeExpires(t *testing.T) {
	svc, c := newTestService(t)
	key, _ := crypto.GeneratePrivateKey()
	addr := key.PubKey().Address().Bytes()
	ch, _ := svc.Challenge(addr)
	sig, _ := key.SignPersonal([]byte(ch.Message))
	c.now = c.now.Add(defaultChallengeTTL + time.Second)
	if _, err := svc.Login(addr, ch.Nonce, sig); !errors.Is(err, ErrChallengeUnknown) {
		t.Fatalf("expected expired challenge, got %v", err)
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	svc, c := newTestService(t)
	addr := [20]byte{0x42}
	session, err := svc.Issue(addr)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other, _ := NewService(Config{HMACSecret: "different", Issuer: "marketd", Audience: "market"}, c.Now)
	if _, err := other.Verify(session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign secret must fail, got %v", err)
	}
	c.now = c.now.Add(2 * time.Hour)
	if _, err := svc.Verify(session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token must fail, got %v", err)
	}
}

func TestChallengeStoreCapacity(t *testing.T) {
	store := newChallengeStore(time.Minute, 2)
	now := time.Unix(1_700_000_000, 0)
	first, _ := store.issue([20]byte{1}, now)
	_, _ = store.issue([20]byte{2}, now)
	_, _ = store.issue([20]byte{3}, now)
	if store.len() != 2 {
		t.Fatalf("expected capacity to bound entries, got %d", store.len())
	}
	if _, ok := store.consume([20]byte{1}, first.Nonce, now); ok {
		t.Fatalf("oldest challenge should have been evicted")
	}
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService(Config{}, nil); !errors.Is(err, ErrSecretMissing) {
		t.Fatalf("expected ErrSecretMissing, got %v", err)
	}
}

func TestCallerContext(t *testing.T) {
	if _, ok := CallerFrom(context.Background()); ok {
		t.Fatalf("empty context must not carry a caller")
	}
	ctx := WithCaller(context.Background(), [20]byte{7})
	if addr, ok := CallerFrom(ctx); !ok || addr != ([20]byte{7}) {
		t.Fatalf("caller not round-tripped")
	}
}
