// This file is the gatekeeper in front of the store. Nothing reaches the
// cache map without passing through it first.

package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Hard limits enforced on every write. These are defense-in-depth, not
// tunables: a key longer than MaxKeyLength or a value above MaxValueBytes
// is a bug in the caller, not a configuration problem.
const (
	MaxKeyLength  = 256
	MaxValueBytes = 1 << 20 // 1 MiB
)

var (
	// ErrInvalidKey means the raw key was empty or sanitized down to nothing.
	ErrInvalidKey = errors.New("cache key is empty or invalid")

	// ErrKeyTooLong means the sanitized key exceeds MaxKeyLength.
	ErrKeyTooLong = errors.New("cache key exceeds maximum length")

	// ErrValueTooLarge means the serialized value exceeds MaxValueBytes.
	ErrValueTooLarge = errors.New("cache value exceeds maximum size")

	// ErrSensitiveData means the key or value matched a sensitive-data
	// pattern and must not be cached.
	ErrSensitiveData = errors.New("sensitive data rejected from cache")
)

// keyAllowed is the fixed allow-list for cache keys: letters, digits and
// the punctuation the ajo key scheme uses (group:7:cycle:2, addresses,
// dotted prefixes). Everything else is stripped.
var keyDisallowed = regexp.MustCompile(`[^A-Za-z0-9:_\-./]`)

/*
Validator performs the two hard checks (key shape, value size) plus the
advisory sensitive-data scan.

ValidateKey is a pure function: the same raw input always produces the
same sanitized output, so a key is addressable by whoever computed it,
whenever they computed it.
*/
type Validator struct {
	patterns []*regexp.Regexp
	log      *zap.Logger
}

// Decision is the outcome of the advisory ShouldCache scan.
type Decision struct {
	Allowed bool
	Reason  string
}

// DefaultSensitivePatterns are the patterns scanned by ShouldCache when
// the configuration does not supply its own. They target the things a
// wallet-adjacent UI is most likely to leak into a cache: credentials,
// signing material and session tokens.
func DefaultSensitivePatterns() []string {
	return []string{
		`(?i)password`,
		`(?i)passphrase`,
		`(?i)secret`,
		`(?i)private[_-]?key`,
		`(?i)api[_-]?key`,
		`(?i)seed[_-]?phrase`,
		`(?i)mnemonic`,
		`(?i)bearer\s`,
		`(?i)"token"\s*:`,
	}
}

// NewValidator compiles the given sensitive-data patterns. An empty slice
// falls back to DefaultSensitivePatterns. A nil logger is replaced with a
// no-op one so callers never need nil checks.
func NewValidator(patterns []string, log *zap.Logger) (*Validator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(patterns) == 0 {
		patterns = DefaultSensitivePatterns()
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile sensitive pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	return &Validator{patterns: compiled, log: log}, nil
}

/*
ValidateKey sanitizes a raw key and returns the canonical form.

1. Empty input fails with ErrInvalidKey
2. Disallowed characters are stripped to the fixed allow-list
3. A result that stripped down to nothing fails with ErrInvalidKey
4. A result longer than MaxKeyLength fails with ErrKeyTooLong
*/
func (v *Validator) ValidateKey(raw string) (string, error) {
	if raw == "" {
		return "", ErrInvalidKey
	}

	key := keyDisallowed.ReplaceAllString(raw, "")
	if key == "" {
		return "", fmt.Errorf("%w: %q contains no allowed characters", ErrInvalidKey, raw)
	}
	if len(key) > MaxKeyLength {
		return "", fmt.Errorf("%w: %d > %d", ErrKeyTooLong, len(key), MaxKeyLength)
	}
	return key, nil
}

// ValidateValue serializes the value and enforces the size ceiling.
// A value that cannot be serialized is rejected as invalid rather than
// cached blind.
func (v *Validator) ValidateValue(value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache value is not serializable: %w", err)
	}
	if len(raw) > MaxValueBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrValueTooLarge, len(raw), MaxValueBytes)
	}
	return nil
}

/*
ShouldCache scans the key and the serialized value against the
sensitive-data patterns and returns an advisory decision.

Advisory means: the coordinator consults it before writing and skips the
cache when not allowed, but Set itself only enforces the two hard checks
above. A rejected value is still returned to the caller; it just never
lands in the store where it could be served later as trustworthy.
*/
func (v *Validator) ShouldCache(key string, value any) Decision {
	raw, err := json.Marshal(value)
	if err != nil {
		return Decision{Allowed: false, Reason: "value not serializable"}
	}
	haystack := key + " " + string(raw)

	for _, re := range v.patterns {
		if re.MatchString(haystack) {
			v.log.Warn("sensitive data rejected from cache",
				zap.String("key", key),
				zap.String("pattern", re.String()))
			return Decision{
				Allowed: false,
				Reason:  "matched sensitive pattern " + re.String(),
			}
		}
	}

	if strings.TrimSpace(key) == "" {
		return Decision{Allowed: false, Reason: "empty key"}
	}
	return Decision{Allowed: true}
}
