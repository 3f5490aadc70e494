package privacy

import "regexp"

// Category identifies a kind of PII.
type Category string

const (
	CategoryEmail  Category = "EMAIL"
	CategoryPhone  Category = "PHONE"
	CategoryPerson Category = "PERSON"
	CategoryOrg    Category = "ORG"
	CategoryGPE    Category = "GPE"
)

// Level selects the substitution policy applied by the Redactor.
type Level int

const (
	LevelMask      Level = 1 // asterisks, length preserving
	LevelToken     Level = 2 // [CATEGORY]
	LevelTagged    Level = 3 // <CATEGORY_REDACTED>
	LevelSynthetic Level = 4 // fake but plausible values
)

// FallbackReplacement is used for any level outside 1-4.
const FallbackReplacement = "[REDACTED]"

// Deterministic reports whether redacting the same text twice at this level
// yields the same output.
func (l Level) Deterministic() bool {
	return l != LevelSynthetic
}

// DetectionRule represents a single PII detection rule
type DetectionRule struct {
	Category Category
	Pattern  *regexp.Regexp
	Priority int
}

// Entity is one detected (value, category) pair.
type Entity struct {
	Value    string   `json:"value"`
	Category Category `json:"category"`
}

// Finding summarizes how many entities of one category were found
type Finding struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
}

// ProcessResult contains the result of processing text through the detector
type ProcessResult struct {
	RedactedText string    `json:"redacted_text"`
	Entities     []Entity  `json:"entities"`
	Findings     []Finding `json:"findings"`
	Level        Level     `json:"level"`
	Original     string    `json:"-"` // Never serialize original text
}

// TotalEntities returns the number of entities across all findings.
func (r ProcessResult) TotalEntities() int {
	total := 0
	for _, f := range r.Findings {
		total += f.Count
	}
	return total
}
