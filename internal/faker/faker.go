// Package faker generates deterministic, plausible surrogate values for
// each PII entity type. The same (seed, entity type, key) tuple always
// produces the same candidate, before the pseudonym store's collision
// retry appends a disambiguating suffix.
//
// Built on the standard library alone (see DESIGN.md), with a small
// bundled literal corpus of first names, last names, streets, and cities
// rather than an external fake-data dependency.
package faker

import (
	"fmt"
	"hash/fnv"
	"math/rand"

	"mcpconceal/internal/detect"
)

// Generator produces deterministic surrogate values for a configured seed
// and locale. The zero value is not usable; construct with New.
type Generator struct {
	seed   int64
	corpus *localeCorpus
}

// New returns a Generator seeded by seed, using the named locale's corpus.
// An unrecognized locale falls back to "en_US".
func New(seed int64, locale string) *Generator {
	c, ok := locales[locale]
	if !ok {
		c = locales["en_US"]
	}
	return &Generator{seed: seed, corpus: c}
}

// Generate returns the attempt'th candidate fake value for entityType and
// key. attempt 0 is the first candidate the store tries; the store
// increments attempt on a collision so each attempt yields a distinct,
// still-deterministic candidate. An unrecognized entity type falls back
// to a generic opaque token.
func (g *Generator) Generate(entityType detect.EntityType, key string, attempt int) string {
	rng := rand.New(rand.NewSource(foldSeed(g.seed, entityType, key, attempt)))
	switch entityType {
	case detect.TypeEmail:
		return g.email(rng, attempt)
	case detect.TypePhone:
		return g.phone(rng)
	case detect.TypePerson:
		return g.person(rng)
	case detect.TypeSSN:
		return g.ssn(rng)
	case detect.TypeAddress:
		return g.address(rng)
	case detect.TypeDateOfBirth:
		return g.dateOfBirth(rng)
	case detect.TypeCreditCard:
		return g.creditCard(rng)
	case detect.TypeIPAddress:
		return g.ipAddress(rng)
	case detect.TypeURL:
		return g.url(rng, attempt)
	default:
		return g.generic(rng)
	}
}

// foldSeed folds (seed, entityType, key, attempt) into a single int64 via
// FNV-1a, so the same tuple always yields the same rand.Source and a
// different attempt always yields an independent stream.
func foldSeed(seed int64, entityType detect.EntityType, key string, attempt int) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d\x00%s\x00%s\x00%d", seed, entityType, key, attempt)
	v := int64(h.Sum64())
	if v < 0 {
		v = -v
	}
	if v == 0 {
		v = 1
	}
	return v
}

func (g *Generator) email(rng *rand.Rand, attempt int) string {
	first := pick(rng, g.corpus.firstNames)
	last := pick(rng, g.corpus.lastNames)
	n := rng.Intn(900) + 100
	if attempt > 0 {
		n += attempt * 7919 // large prime offset so retries don't cluster near the original n
	}
	return fmt.Sprintf("%s.%s@example-%d.test", lower(first), lower(last), n%1000)
}

func (g *Generator) phone(rng *rand.Rand) string {
	area := nanpDigit(rng)
	exch := nanpDigit(rng)
	line := rng.Intn(10000)
	return fmt.Sprintf("(%03d) %03d-%04d", area, exch, line)
}

// nanpDigit returns a 3-digit NANP-valid area/exchange code: first digit
// in [2,9] (area/exchange codes never start with 0 or 1), remaining two
// digits unrestricted.
func nanpDigit(rng *rand.Rand) int {
	first := rng.Intn(8) + 2
	rest := rng.Intn(100)
	return first*100 + rest
}

func (g *Generator) person(rng *rand.Rand) string {
	return pick(rng, g.corpus.firstNames) + " " + pick(rng, g.corpus.lastNames)
}

// ssn returns a synthetic SSN with a leading 9 (9## is never issued as a
// real area number, flagging the value as synthetic at a glance).
func (g *Generator) ssn(rng *rand.Rand) string {
	return fmt.Sprintf("9%02d-%02d-%04d", rng.Intn(100), rng.Intn(100), rng.Intn(10000))
}

func (g *Generator) address(rng *rand.Rand) string {
	num := rng.Intn(9800) + 100
	street := pick(rng, g.corpus.streets)
	city := pick(rng, g.corpus.cities)
	state := pick(rng, g.corpus.states)
	zip := rng.Intn(90000) + 10000
	return fmt.Sprintf("%d %s, %s, %s %05d", num, street, city, state, zip)
}

// dateOfBirth returns a plausible adult birth date (18-89 years back from
// a fixed reference year, so the output has no runtime-clock dependency).
func (g *Generator) dateOfBirth(rng *rand.Rand) string {
	const refYear = 2026
	year := refYear - 18 - rng.Intn(72)
	month := rng.Intn(12) + 1
	day := rng.Intn(28) + 1
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

// creditCard returns a Luhn-valid 16-digit number in the 4000 test BIN
// (Visa's reserved documentation range).
func (g *Generator) creditCard(rng *rand.Rand) string {
	digits := make([]int, 16)
	digits[0], digits[1], digits[2], digits[3] = 4, 0, 0, 0
	for i := 4; i < 15; i++ {
		digits[i] = rng.Intn(10)
	}
	digits[15] = luhnCheckDigit(digits[:15])
	var out [16]byte
	for i, d := range digits {
		out[i] = byte('0' + d)
	}
	return string(out[:])
}

// luhnCheckDigit returns the check digit that makes digits (without it)
// pass the Luhn algorithm.
func luhnCheckDigit(digits []int) int {
	sum := 0
	// Doubling starts from the rightmost of the given digits, since the
	// check digit we're computing occupies the final (even, from the
	// left) position.
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if (len(digits)-1-i)%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return (10 - sum%10) % 10
}

// ipAddress returns a host address inside 203.0.113.0/24 (TEST-NET-3,
// reserved by RFC 5737 for documentation and never globally routable).
func (g *Generator) ipAddress(rng *rand.Rand) string {
	return fmt.Sprintf("203.0.113.%d", rng.Intn(254)+1)
}

func (g *Generator) url(rng *rand.Rand, attempt int) string {
	n := rng.Intn(900) + 100
	if attempt > 0 {
		n += attempt * 7919
	}
	path := pick(rng, g.corpus.paths)
	return fmt.Sprintf("https://example-%d.test/%s", n%1000, path)
}

func (g *Generator) generic(rng *rand.Rand) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return "redacted-" + string(b)
}

func pick(rng *rand.Rand, from []string) string {
	if len(from) == 0 {
		return ""
	}
	return from[rng.Intn(len(from))]
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
