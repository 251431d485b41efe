package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Random ids carry no ordering. Conversations are keyed by UUIDs; the chat
// client names its unsent messages with short nanoids until the server
// assigns the real id.

const (
	DefaultNanoIDSize     = 21
	DefaultNanoIDAlphabet = "_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator { return &UUIDGenerator{} }

func (g *UUIDGenerator) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate conversation id: %w", err)
	}
	return id.String(), nil
}

// Validate accepts only the canonical random form, so an id minted by another
// scheme cannot pass as a conversation id.
func (g *UUIDGenerator) Validate(id string) (bool, string) {
	parsed, err := uuid.Parse(id)
	switch {
	case err != nil:
		return false, err.Error()
	case parsed.Version() != 4 || parsed.Variant() != uuid.RFC4122:
		return false, fmt.Sprintf("not a random uuid (version %d)", parsed.Version())
	case parsed.String() != id:
		return false, "not in canonical lower-case form"
	}
	return true, ""
}

type NanoIDGenerator struct {
	size     int
	alphabet string
}

// NewNanoIDGenerator requires size in [1, 256] and an alphabet of at least 2 characters.
func NewNanoIDGenerator(size int, alphabet string) (*NanoIDGenerator, error) {
	if size < 1 || size > 256 {
		return nil, fmt.Errorf("nanoid size %d out of range [1, 256]", size)
	}
	if len(alphabet) < 2 {
		return nil, fmt.Errorf("nanoid alphabet %q is too small", alphabet)
	}
	return &NanoIDGenerator{size: size, alphabet: alphabet}, nil
}

func (g *NanoIDGenerator) Generate() (string, error) {
	id, err := gonanoid.Generate(g.alphabet, g.size)
	if err != nil {
		return "", fmt.Errorf("failed to generate placeholder id: %w", err)
	}
	return id, nil
}

func (g *NanoIDGenerator) Validate(id string) (bool, string) {
	if len(id) != g.size {
		return false, fmt.Sprintf("length %d, want %d", len(id), g.size)
	}
	if i := strings.IndexFunc(id, func(r rune) bool { return !strings.ContainsRune(g.alphabet, r) }); i >= 0 {
		return false, fmt.Sprintf("character %q at %d is outside the alphabet", id[i], i)
	}
	return true, ""
}
