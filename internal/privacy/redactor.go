package privacy

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// SubstitutionMode controls how entity values are replaced in the text.
type SubstitutionMode string

const (
	// SubstituteSequential replaces every occurrence of each entity value in
	// turn over the accumulating text. A later value may match inside an
	// earlier replacement.
	SubstituteSequential SubstitutionMode = "sequential"
	// SubstituteSinglePass replaces all distinct values in one left-to-right
	// pass over the original text. Replacements are never re-scanned.
	SubstituteSinglePass SubstitutionMode = "single_pass"
)

// ParseSubstitutionMode validates a configured mode name. Empty means sequential.
func ParseSubstitutionMode(s string) (SubstitutionMode, error) {
	switch SubstitutionMode(s) {
	case "":
		return SubstituteSequential, nil
	case SubstituteSequential, SubstituteSinglePass:
		return SubstitutionMode(s), nil
	default:
		return "", fmt.Errorf("unknown substitution mode: %s (must be sequential or single_pass)", s)
	}
}

// Redactor rewrites text according to a redaction level.
type Redactor struct {
	generator Generator
	mode      SubstitutionMode
}

// NewRedactor creates a redactor. A nil generator falls back to an unseeded
// FakerGenerator.
func NewRedactor(generator Generator, mode SubstitutionMode) *Redactor {
	if generator == nil {
		generator = NewFakerGenerator(0)
	}
	if mode == "" {
		mode = SubstituteSequential
	}
	return &Redactor{generator: generator, mode: mode}
}

// Mode returns the substitution mode in use.
func (r *Redactor) Mode() SubstitutionMode {
	return r.mode
}

// Replacement computes the substitute for one entity at the given level.
func (r *Redactor) Replacement(entity Entity, level Level) string {
	switch level {
	case LevelMask:
		return strings.Repeat("*", utf8.RuneCountInString(entity.Value))
	case LevelToken:
		return "[" + string(entity.Category) + "]"
	case LevelTagged:
		return "<" + string(entity.Category) + "_REDACTED>"
	case LevelSynthetic:
		return r.generator.Generate(entity.Category)
	default:
		return FallbackReplacement
	}
}

// Redact replaces every occurrence of each entity's value. Entities are
// consumed in the order given, which should be detection order.
func (r *Redactor) Redact(text string, entities []Entity, level Level) string {
	if len(entities) == 0 || text == "" {
		return text
	}

	if r.mode == SubstituteSinglePass {
		return r.redactSinglePass(text, entities, level)
	}

	redacted := text
	for _, e := range entities {
		if e.Value == "" {
			continue
		}
		redacted = strings.ReplaceAll(redacted, e.Value, r.Replacement(e, level))
	}
	return redacted
}

func (r *Redactor) redactSinglePass(text string, entities []Entity, level Level) string {
	seen := make(map[string]bool, len(entities))
	pairs := make([]string, 0, len(entities)*2)
	for _, e := range entities {
		if e.Value == "" || seen[e.Value] {
			continue
		}
		seen[e.Value] = true
		pairs = append(pairs, e.Value, r.Replacement(e, level))
	}
	if len(pairs) == 0 {
		return text
	}
	// strings.Replacer scans once, leftmost first; at equal positions the
	// earlier pair wins.
	return strings.NewReplacer(pairs...).Replace(text)
}
