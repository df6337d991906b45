// Package otp issues and checks one-time email verification codes.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTooManyAttempts is returned once a code has been guessed wrong too often.
	ErrTooManyAttempts = errors.New("otp: too many attempts")
	ErrInvalidEmail    = errors.New("otp: invalid email")
)

const codeDigits = 6

// Store keeps codes in Redis under a TTL. Issuing a new code for the same
// email replaces the previous one.
type Store struct {
	rdb      redis.UniversalClient
	ttl      time.Duration
	maxTries int
	generate func() (string, error)
}

type Option func(*Store)

// WithGenerator replaces the random code generator.
func WithGenerator(fn func() (string, error)) Option {
	return func(s *Store) { s.generate = fn }
}

func NewStore(rdb redis.UniversalClient, ttl time.Duration, maxTries int, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxTries <= 0 {
		maxTries = 5
	}
	s := &Store{rdb: rdb, ttl: ttl, maxTries: maxTries, generate: RandomCode}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TTL is how long an issued code stays valid.
func (s *Store) TTL() time.Duration { return s.ttl }

// Issue creates and stores a fresh code for email.
func (s *Store) Issue(ctx context.Context, email string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}
	code, err := s.generate()
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, codeKey(email), code, s.ttl)
		p.Del(ctx, triesKey(email))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	return code, nil
}

// Verify checks code for email and consumes it on success.
func (s *Store) Verify(ctx context.Context, email, code string) (bool, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return false, err
	}
	stored, err := s.rdb.Get(ctx, codeKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load otp: %w", err)
	}

	var incr *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, triesKey(email))
		p.Expire(ctx, triesKey(email), s.ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("count otp attempts: %w", err)
	}
	if incr.Val() > int64(s.maxTries) {
		if err := s.rdb.Del(ctx, codeKey(email), triesKey(email)).Err(); err != nil {
			return false, fmt.Errorf("%w: revoke otp: %w", ErrTooManyAttempts, err)
		}
		return false, ErrTooManyAttempts
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(strings.TrimSpace(code))) != 1 {
		return false, nil
	}
	if err := s.rdb.Del(ctx, codeKey(email), triesKey(email)).Err(); err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return true, nil
}

// RandomCode returns a uniformly random six digit code.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// ValidCode reports whether code has the issued format.
func ValidCode(code string) bool {
	if len(code) != codeDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if i := strings.IndexByte(email, '@'); i <= 0 || i == len(email)-1 {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func codeKey(email string) string  { return "otp:code:" + email }
func triesKey(email string) string { return "otp:tries:" + email }
