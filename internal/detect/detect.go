// Package detect finds candidate PII spans inside a single string, by
// regex pattern matching and (optionally) a remote LLM extractor, and
// fuses their outputs into a non-overlapping set.
package detect

// EntityType tags the category of a detected value, governing both the
// regex used to find it and the faker generator used to replace it.
type EntityType string

// The closed set of entity types this proxy recognizes.
const (
	TypeEmail       EntityType = "email"
	TypePhone       EntityType = "phone"
	TypePerson      EntityType = "person"
	TypeSSN         EntityType = "ssn"
	TypeAddress     EntityType = "address"
	TypeDateOfBirth EntityType = "date_of_birth"
	TypeCreditCard  EntityType = "credit_card"
	TypeIPAddress   EntityType = "ip_address"
	TypeURL         EntityType = "url"
	TypeOther       EntityType = "other" // LLM-reported categories outside the closed set
)

// Provenance records which detector produced a span, used by fusion to
// break confidence ties.
type Provenance string

const (
	ProvenancePattern Provenance = "pattern"
	ProvenanceLLM      Provenance = "llm"
)

// Span is a candidate PII region within one source string.
type Span struct {
	Start      int
	Length     int
	Type       EntityType
	Confidence float64
	Provenance Provenance
}

// End returns the exclusive end offset of the span.
func (s Span) End() int { return s.Start + s.Length }

// Text returns the substring of src covered by s.
func (s Span) Text(src string) string {
	return src[s.Start:s.End()]
}
