// Package idgen produces the program id and the anonymous/derived names
// spec.md §6 requires. Two implementations exist: a production generator
// backed by github.com/google/uuid (the teacher's own choice for opaque
// external-facing ids across internal/core and internal/shards), and a
// seeded generator for the deterministic/replay mode spec.md §5 demands.
package idgen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

const (
	idAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	programIDLen  = 35
	anonIDLen     = 30
)

// Generator produces the identifiers spec.md §6 names.
type Generator interface {
	// ProgramID returns the 35-character program id used in the emitted
	// header comment and as a namespace for anonymous class/macro names.
	ProgramID() string
	// AnonClassName returns a fresh "_AnonymClass_<programId>_<N>" name.
	AnonClassName() string
	// AnonMacroName returns a fresh "ANONYMMACRO_<programId>_<N>" name.
	AnonMacroName() string
	// TemplateDerivName returns "<template>__deriv_<sha256hex>" for a
	// memoized template instantiation's hash key.
	TemplateDerivName(template string, hash [32]byte) string
	// Nonce returns a fresh random identifier used to force
	// re-instantiation of templates with abstract members (never shared
	// across instantiations, per spec.md §4.4 step 1).
	Nonce() string
}

// counters tracks the per-kind ordinal counters shared by both generator
// implementations; anonymous names must be ordinal (0, 1, 2, ...) within
// one program, never random, so that byte-identical output (spec.md §5's
// determinism property) only depends on AST order, not on id-generator
// internals, for everything except the program id and the nonce itself.
type counters struct {
	classOrdinal int
	macroOrdinal int
}

func (c *counters) nextClass() int {
	n := c.classOrdinal
	c.classOrdinal++
	return n
}

func (c *counters) nextMacro() int {
	n := c.macroOrdinal
	c.macroOrdinal++
	return n
}

// UUIDGenerator is the production Generator: its program id and nonces are
// genuinely random (backed by google/uuid), while its ordinal names are
// still deterministic given a fixed AST (only the program id varies
// between runs, matching spec.md §5: "the only sources of nondeterminism
// are the ... random identifiers").
type UUIDGenerator struct {
	counters
	programID string
}

// NewUUIDGenerator builds a production generator with a fresh program id.
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{programID: randomAlnum(uuid.NewString(), programIDLen)}
}

func (g *UUIDGenerator) ProgramID() string { return g.programID }

func (g *UUIDGenerator) AnonClassName() string {
	return fmt.Sprintf("_AnonymClass_%s_%d", g.programID, g.nextClass())
}

func (g *UUIDGenerator) AnonMacroName() string {
	return fmt.Sprintf("ANONYMMACRO_%s_%d", g.programID, g.nextMacro())
}

func (g *UUIDGenerator) TemplateDerivName(template string, hash [32]byte) string {
	return fmt.Sprintf("%s__deriv_%s", template, hex.EncodeToString(hash[:]))
}

func (g *UUIDGenerator) Nonce() string {
	return randomAlnum(uuid.NewString()+uuid.NewString(), anonIDLen)
}

// SeededGenerator is the deterministic Generator used for tests and replay:
// every "random" identifier is derived from a seeded math/rand/v2 source,
// so the same seed plus the same AST always yields the same program id,
// nonces, and derived names (spec.md §5's determinism contract, made
// reproducible on demand).
type SeededGenerator struct {
	counters
	rng       *rand.Rand
	programID string
}

// NewSeededGenerator builds a deterministic generator from an int64 seed.
func NewSeededGenerator(seed int64) *SeededGenerator {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))
	g := &SeededGenerator{rng: rng}
	g.programID = g.randomID(programIDLen)
	return g
}

func (g *SeededGenerator) ProgramID() string { return g.programID }

func (g *SeededGenerator) AnonClassName() string {
	return fmt.Sprintf("_AnonymClass_%s_%d", g.programID, g.nextClass())
}

func (g *SeededGenerator) AnonMacroName() string {
	return fmt.Sprintf("ANONYMMACRO_%s_%d", g.programID, g.nextMacro())
}

func (g *SeededGenerator) TemplateDerivName(template string, hash [32]byte) string {
	return fmt.Sprintf("%s__deriv_%s", template, hex.EncodeToString(hash[:]))
}

func (g *SeededGenerator) Nonce() string {
	return g.randomID(anonIDLen)
}

func (g *SeededGenerator) randomID(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = idAlphabet[g.rng.IntN(len(idAlphabet))]
	}
	return string(buf)
}

// randomAlnum folds an arbitrary-length seed string down to n alphanumeric
// characters via SHA-256, so a uuid-derived seed of any length can fill an
// exact identifier length without biasing toward hex digits alone.
func randomAlnum(seed string, n int) string {
	sum := sha256.Sum256([]byte(seed))
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = idAlphabet[int(sum[i%len(sum)])%len(idAlphabet)]
	}
	return string(buf)
}
