package faults

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Context keys whose values are identifying and must never be stored in
// clear text. Values are replaced by a keyed one-way hash; the hash is
// stable within a deployment so repeated faults from one user still
// correlate, without storing who that user is.
var identifyingKeys = map[string]bool{
	"user_id": true,
	"email":   true,
	"name":    true,
}

// Context keys carrying free-text answer content; stripped entirely.
var strippedKeys = map[string]bool{
	"answer_text":     true,
	"selected_option": true,
}

// Sanitizer pseudonymizes identifying fields in fault context.
type Sanitizer struct {
	key []byte
}

// NewSanitizer creates a sanitizer with a deployment-scoped hash key.
func NewSanitizer(key string) *Sanitizer {
	return &Sanitizer{key: []byte(key)}
}

// Hash returns a short stable digest of an identifying value.
func (s *Sanitizer) Hash(value string) string {
	h, err := blake2b.New256(s.key)
	if err != nil {
		// Only reachable with a key longer than 64 bytes; fall back to
		// unkeyed hashing rather than leaking the raw value.
		h, _ = blake2b.New256(nil)
	}
	h.Write([]byte(value))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

// Clean returns a copy of ctx with identifying values hashed and answer
// content removed. The input map is never modified.
func (s *Sanitizer) Clean(ctx map[string]string) map[string]string {
	if ctx == nil {
		return nil
	}
	out := make(map[string]string, len(ctx))
	for k, v := range ctx {
		switch {
		case strippedKeys[k]:
			continue
		case identifyingKeys[k]:
			out[k] = s.Hash(v)
		default:
			out[k] = v
		}
	}
	return out
}
