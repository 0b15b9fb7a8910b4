// Package id provides centralized ID generation for the add-on host.
//
// IDs are ULIDs with type-specific prefixes:
//   - Lexicographic sortability: newer ids sort after older ones
//   - Prefixed types: att_*, nav_*, req_* make logs readable
//   - Type safety: separate types prevent mixing id kinds
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// AttemptID identifies one install pipeline attempt
type AttemptID string

// ContributionID identifies a registered navigation contribution
type ContributionID string

// RequestID identifies an API or store request
type RequestID string

const (
	AttemptPrefix      = "att"
	ContributionPrefix = "nav"
	RequestPrefix      = "req"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewAttemptID generates a new pipeline attempt ID
func NewAttemptID() AttemptID {
	return AttemptID(Default().GenerateWithPrefix(AttemptPrefix))
}

// NewContributionID generates a new contribution ID
func NewContributionID() ContributionID {
	return ContributionID(Default().GenerateWithPrefix(ContributionPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id AttemptID) String() string      { return string(id) }
func (id ContributionID) String() string { return string(id) }
func (id RequestID) String() string      { return string(id) }

// IsValid checks if an ID string is a valid ULID, with or without a prefix
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Parse parses a ULID string, stripping any prefix
func Parse(id string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
