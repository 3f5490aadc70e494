package privacy

import (
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubGenerator() Generator {
	return GeneratorFunc(func(c Category) string { return "fake-" + strings.ToLower(string(c)) })
}

func TestRedactNoEntities(t *testing.T) {
	r := NewRedactor(stubGenerator(), SubstituteSequential)
	text := "nothing to see"

	for _, level := range []Level{0, LevelMask, LevelToken, LevelTagged, LevelSynthetic, 9} {
		assert.Equal(t, text, r.Redact(text, nil, level))
		assert.Equal(t, text, r.Redact(text, []Entity{}, level))
	}
	assert.Equal(t, "", r.Redact("", []Entity{{Value: "x", Category: CategoryGPE}}, LevelToken))
}

func TestReplacementPolicies(t *testing.T) {
	r := NewRedactor(stubGenerator(), SubstituteSequential)
	email := Entity{Value: "john@acme.com", Category: CategoryEmail}

	assert.Equal(t, strings.Repeat("*", 13), r.Replacement(email, LevelMask))
	assert.Equal(t, "[EMAIL]", r.Replacement(email, LevelToken))
	assert.Equal(t, "<EMAIL_REDACTED>", r.Replacement(email, LevelTagged))
	assert.Equal(t, "fake-email", r.Replacement(email, LevelSynthetic))
	assert.Equal(t, FallbackReplacement, r.Replacement(email, 0))
	assert.Equal(t, FallbackReplacement, r.Replacement(email, 5))
}

func TestMaskCountsRunes(t *testing.T) {
	r := NewRedactor(stubGenerator(), SubstituteSequential)
	assert.Equal(t, "***", r.Replacement(Entity{Value: "Zoë", Category: CategoryGPE}, LevelMask))
}

func TestRedactReplacesEveryOccurrence(t *testing.T) {
	r := NewRedactor(stubGenerator(), SubstituteSequential)

	out := r.Redact("Anna met Anna at Annapolis", []Entity{{Value: "Anna", Category: CategoryGPE}}, LevelToken)
	assert.Equal(t, "[GPE] met [GPE] at [GPE]polis", out)
}

func TestRedactTaggedShape(t *testing.T) {
	d := newTestDetector(t, "keep_all")
	out := d.ProcessText(sampleText, LevelTagged).RedactedText

	tag := regexp.MustCompile(`<[^>]*>`)
	shape := regexp.MustCompile(`^<(EMAIL|PHONE|PERSON|ORG|GPE)_REDACTED>$`)
	tags := tag.FindAllString(out, -1)
	require.NotEmpty(t, tags)
	for _, tg := range tags {
		assert.Regexp(t, shape, tg)
	}
	assert.Contains(t, out, "<EMAIL_REDACTED>")
}

func TestRedactCascadingSequentialVersusSinglePass(t *testing.T) {
	entities := []Entity{
		{Value: "Bob", Category: CategoryPerson},
		{Value: "PERSON", Category: CategoryOrg},
	}

	seq := NewRedactor(stubGenerator(), SubstituteSequential)
	assert.Equal(t, "[[ORG]] and [ORG]", seq.Redact("Bob and PERSON", entities, LevelToken))

	single := NewRedactor(stubGenerator(), SubstituteSinglePass)
	assert.Equal(t, "[PERSON] and [ORG]", single.Redact("Bob and PERSON", entities, LevelToken))
}

func TestSinglePassEarlierEntityWinsAtSamePosition(t *testing.T) {
	r := NewRedactor(stubGenerator(), SubstituteSinglePass)
	entities := []Entity{
		{Value: "Acme Technologies", Category: CategoryOrg},
		{Value: "Acme", Category: CategoryGPE},
	}
	assert.Equal(t, "[ORG] and [GPE]", r.Redact("Acme Technologies and Acme", entities, LevelToken))
}

func TestSinglePassDuplicateValues(t *testing.T) {
	r := NewRedactor(stubGenerator(), SubstituteSinglePass)
	entities := []Entity{
		{Value: "Anna", Category: CategoryGPE},
		{Value: "Anna", Category: CategoryGPE},
	}
	assert.Equal(t, "**** and ****", r.Redact("Anna and Anna", entities, LevelMask))
	assert.Equal(t, "[GPE] and [GPE]", r.Redact("Anna and Anna", entities, LevelToken))
}

func TestParseModes(t *testing.T) {
	m, err := ParseSubstitutionMode("")
	require.NoError(t, err)
	assert.Equal(t, SubstituteSequential, m)

	_, err = ParseSubstitutionMode("bogus")
	assert.Error(t, err)

	s, err := ParseOverlapStrategy("")
	require.NoError(t, err)
	assert.Equal(t, OverlapKeepAll, s)

	_, err = ParseOverlapStrategy("bogus")
	assert.Error(t, err)
}

func TestFakerGenerator(t *testing.T) {
	a := NewFakerGenerator(42)
	b := NewFakerGenerator(42)

	for _, c := range append(Categories(), Category("OTHER")) {
		va := a.Generate(c)
		assert.NotEmpty(t, va, "category %s", c)
		assert.Equal(t, va, b.Generate(c), "seeded generators should agree for %s", c)
	}
}

func TestFakerGeneratorConcurrent(t *testing.T) {
	g := NewFakerGenerator(0)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, c := range Categories() {
				if g.Generate(c) == "" {
					t.Errorf("empty value for %s", c)
				}
			}
		}()
	}
	wg.Wait()
}
