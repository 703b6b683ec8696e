package auth

import (
	"errors"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

const testAPIKey = "tdb_test_valid_key_1234567890abcdef"

// testHash returns a bcrypt hash of testAPIKey using MinCost (fast for tests).
func testHash(t *testing.T) string {
	t.Helper()
	hash, err := HashKey(testAPIKey, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to generate bcrypt hash: %v", err)
	}
	return hash
}

// countingAuth wraps the bcrypt comparison with a call counter.
func countingAuth(t *testing.T) (*Authenticator, *atomic.Int32) {
	t.Helper()
	a, err := New(Config{APIKeyHash: testHash(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var calls atomic.Int32
	a.compare = func(hash, key []byte) error {
		calls.Add(1)
		return bcrypt.CompareHashAndPassword(hash, key)
	}
	return a, &calls
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		err    error
	}{
		{"valid", "Bearer abc", "abc", nil},
		{"lowercase scheme", "bearer abc", "abc", nil},
		{"extra whitespace", "Bearer  abc ", "abc", nil},
		{"empty", "", "", ErrMissingAPIKey},
		{"no scheme", "abc", "", ErrInvalidAPIKey},
		{"basic scheme", "Basic abc", "", ErrInvalidAPIKey},
		{"just Bearer", "Bearer", "", ErrInvalidAPIKey},
		{"empty after Bearer", "Bearer   ", "", ErrInvalidAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BearerToken(tt.header)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected error %v, got %v", tt.err, err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNew_RejectsNonBcryptHash(t *testing.T) {
	if _, err := New(Config{APIKeyHash: "plaintext"}); err == nil {
		t.Fatal("expected error for a non-bcrypt hash")
	}
}

func TestAuthenticate_ValidKeyIsCached(t *testing.T) {
	a, calls := countingAuth(t)

	for i := 0; i < 3; i++ {
		if err := a.Authenticate("Bearer " + testAPIKey); err != nil {
			t.Fatalf("call %d: expected no error, got %v", i, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 bcrypt comparison, got %d", got)
	}
}

func TestAuthenticate_WrongKeyIsNotCached(t *testing.T) {
	a, calls := countingAuth(t)

	for i := 0; i < 2; i++ {
		if err := a.Authenticate("Bearer wrong_key"); !errors.Is(err, ErrInvalidAPIKey) {
			t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("rejections must not be cached, got %d comparisons", got)
	}
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	a, calls := countingAuth(t)
	if err := a.Authenticate(""); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
	if calls.Load() != 0 {
		t.Error("no comparison expected without a key")
	}
}

func TestHashKey_Empty(t *testing.T) {
	if _, err := HashKey("", bcrypt.MinCost); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}
