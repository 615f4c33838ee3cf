package auth

import (
	"container/list"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"jobmarket/crypto"
)

const (
	defaultChallengeTTL      = 5 * time.Minute
	maxChallengeTTL          = 15 * time.Minute
	defaultChallengeCapacity = 4096
	maxChallengeCapacity     = 65536
)

var (
	ErrChallengeUnknown = errors.New("auth: challenge unknown or expired")
	ErrSignerMismatch   = errors.New("auth: signature does not match address")
)

// Challenge is a single-use login message the wallet signs with personal_sign.
type Challenge struct {
	Address   [20]byte
	Nonce     string
	Message   string
	ExpiresAt time.Time
}

// challengeStore keeps outstanding challenges in insertion order, evicting
// expired entries and the oldest entries beyond capacity.
type challengeStore struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type challengeEntry struct {
	key       string
	challenge Challenge
}

func newChallengeStore(ttl time.Duration, capacity int) *challengeStore {
	if ttl <= 0 {
		ttl = defaultChallengeTTL
	}
	if ttl > maxChallengeTTL {
		ttl = maxChallengeTTL
	}
	if capacity <= 0 {
		capacity = defaultChallengeCapacity
	}
	if capacity > maxChallengeCapacity {
		capacity = maxChallengeCapacity
	}
	return &challengeStore{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func challengeKey(addr [20]byte, nonce string) string {
	return hex.EncodeToString(addr[:]) + "|" + nonce
}

func challengeMessage(addr [20]byte, nonce string, issued time.Time) string {
	return strings.Join([]string{
		"Sign in to the job market.",
		"Address: " + crypto.FormatHex(addr),
		"Nonce: " + nonce,
		"Issued: " + issued.UTC().Format(time.RFC3339),
	}, "\n")
}

func (s *challengeStore) issue(addr [20]byte, now time.Time) (Challenge, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return Challenge{}, fmt.Errorf("auth: generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(raw)
	ch := Challenge{
		Address:   addr,
		Nonce:     nonce,
		Message:   challengeMessage(addr, nonce, now),
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired(now)
	for s.order.Len() >= s.capacity {
		s.evictFront()
	}
	key := challengeKey(addr, nonce)
	s.entries[key] = s.order.PushBack(challengeEntry{key: key, challenge: ch})
	return ch, nil
}

// consume removes and returns the challenge. A challenge can be consumed once.
func (s *challengeStore) consume(addr [20]byte, nonce string, now time.Time) (Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired(now)
	elem, ok := s.entries[challengeKey(addr, nonce)]
	if !ok {
		return Challenge{}, false
	}
	entry := elem.Value.(challengeEntry)
	s.order.Remove(elem)
	delete(s.entries, entry.key)
	return entry.challenge, true
}

func (s *challengeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *challengeStore) evictExpired(now time.Time) {
	for {
		front := s.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(challengeEntry)
		if entry.challenge.ExpiresAt.After(now) {
			return
		}
		s.order.Remove(front)
		delete(s.entries, entry.key)
	}
}

func (s *challengeStore) evictFront() {
	front := s.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(challengeEntry)
	s.order.Remove(front)
	delete(s.entries, entry.key)
}
