package policy

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// TokenTTL bounds the lifetime of a confirmation token. Enforced on
// both validation and consumption.
const TokenTTL = 300 * time.Second

// TokenRecord is what the engine stored when it minted a token.
type TokenRecord struct {
	Rule      string
	Args      map[string]any
	CreatedAt time.Time
}

// tokenTable holds pending confirmation tokens. It is shared
// process-wide and mutated from concurrent sessions.
type tokenTable struct {
	mu     sync.Mutex
	tokens map[string]TokenRecord
	now    func() time.Time
}

func newTokenTable() *tokenTable {
	return &tokenTable{
		tokens: make(map[string]TokenRecord),
		now:    time.Now,
	}
}

func (t *tokenTable) mint(rule string, args map[string]any) string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("policy: crypto/rand unavailable: %v", err))
	}
	token := "conf_" + hex.EncodeToString(buf)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[token] = TokenRecord{Rule: rule, Args: args, CreatedAt: t.now()}
	return token
}

// validate reports whether the token exists and is inside its TTL.
// Expired tokens are reaped on inspection.
func (t *tokenTable) validate(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.tokens[token]
	if !ok {
		return false
	}
	if t.now().Sub(rec.CreatedAt) > TokenTTL {
		delete(t.tokens, token)
		return false
	}
	return true
}

// consume atomically removes and returns the token's record. Expired
// tokens are removed but not returned, so a token is consumable at
// most once and never after its TTL.
func (t *tokenTable) consume(token string) (*TokenRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.tokens[token]
	if !ok {
		return nil, false
	}
	delete(t.tokens, token)
	if t.now().Sub(rec.CreatedAt) > TokenTTL {
		return nil, false
	}
	return &rec, true
}
