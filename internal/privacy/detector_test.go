package privacy

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/redact/internal/config"
	"github.com/raaihank/redact/internal/logger"
)

const sampleText = "Contact John Smith at john@acme.com or call 9876543210, from Acme Technologies in Springfield."

func testConfig(overlap string) config.PrivacyConfig {
	return config.PrivacyConfig{
		Enabled:      true,
		Detectors:    []string{"all"},
		DefaultLevel: 2,
		Overlap:      overlap,
		Substitution: "sequential",
	}
}

func newTestDetector(t *testing.T, overlap string, opts ...Option) *Detector {
	t.Helper()
	d, err := New(testConfig(overlap), logger.NewNop(), opts...)
	require.NoError(t, err)
	return d
}

func TestDetectNoPII(t *testing.T) {
	d := newTestDetector(t, "keep_all")

	for _, text := range []string{"", "the quick brown fox jumps over the lazy dog", "call 12345 or id1234567890"} {
		assert.Empty(t, d.Detect(text), "text %q", text)
	}
}

func TestDetectSingleEmail(t *testing.T) {
	d := newTestDetector(t, "keep_all")

	entities := d.Detect("reach me at jane.doe@example.org today")
	require.Len(t, entities, 1)
	assert.Equal(t, Entity{Value: "jane.doe@example.org", Category: CategoryEmail}, entities[0])
}

func TestDetectRuleOrderKeepAll(t *testing.T) {
	d := newTestDetector(t, "keep_all")

	want := []Entity{
		{Value: "john@acme.com", Category: CategoryEmail},
		{Value: "9876543210", Category: CategoryPhone},
		{Value: "Contact John", Category: CategoryPerson},
		{Value: "Acme Technologies", Category: CategoryPerson},
		{Value: "Acme Technologies", Category: CategoryOrg},
		{Value: "Contact", Category: CategoryGPE},
		{Value: "John", Category: CategoryGPE},
		{Value: "Smith", Category: CategoryGPE},
		{Value: "Acme", Category: CategoryGPE},
		{Value: "Technologies", Category: CategoryGPE},
		{Value: "Springfield", Category: CategoryGPE},
	}
	assert.Equal(t, want, d.Detect(sampleText))
}

func TestDetectPhoneBoundaries(t *testing.T) {
	d := newTestDetector(t, "keep_all")

	tests := []struct {
		text string
		want int
	}{
		{"call 9876543210 now", 1},
		{"call 98765432101 now", 0},
		{"call 987654321 now", 0},
		{"ref x9876543210", 0},
		{"9876543210,1234567890", 2},
	}
	for _, tt := range tests {
		got := 0
		for _, e := range d.Detect(tt.text) {
			if e.Category == CategoryPhone {
				got++
			}
		}
		assert.Equal(t, tt.want, got, "text %q", tt.text)
	}
}

func TestDetectDuplicatesKept(t *testing.T) {
	d := newTestDetector(t, "keep_all")

	entities := d.Detect("anna said Anna and Anna agreed")
	assert.Equal(t, []Entity{
		{Value: "Anna", Category: CategoryGPE},
		{Value: "Anna", Category: CategoryGPE},
	}, entities)
}

func TestDetectOverlapStrategies(t *testing.T) {
	for _, strategy := range []string{"first_match", "longest_match"} {
		t.Run(strategy, func(t *testing.T) {
			d := newTestDetector(t, strategy)

			want := []Entity{
				{Value: "john@acme.com", Category: CategoryEmail},
				{Value: "9876543210", Category: CategoryPhone},
				{Value: "Contact John", Category: CategoryPerson},
				{Value: "Acme Technologies", Category: CategoryOrg},
				{Value: "Smith", Category: CategoryGPE},
				{Value: "Springfield", Category: CategoryGPE},
			}
			assert.Equal(t, want, d.Detect(sampleText))
		})
	}
}

func TestNewRejectsUnknownDetector(t *testing.T) {
	cfg := testConfig("keep_all")
	cfg.Detectors = []string{"email", "ssn"}

	_, err := New(cfg, logger.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown detector: ssn")
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	_, err := New(testConfig("random"), logger.NewNop())
	require.Error(t, err)
}

func TestEnableDisableRules(t *testing.T) {
	cfg := testConfig("keep_all")
	cfg.Detectors = []string{"email", "PHONE"}

	d, err := New(cfg, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []Category{CategoryEmail, CategoryPhone}, d.GetEnabledRules())

	entities := d.Detect(sampleText)
	require.Len(t, entities, 2)

	require.NoError(t, d.EnableRule("gpe"))
	require.NoError(t, d.DisableRule("email"))
	assert.Equal(t, []Category{CategoryPhone, CategoryGPE}, d.GetEnabledRules())

	for _, e := range d.Detect(sampleText) {
		assert.NotEqual(t, CategoryEmail, e.Category)
	}

	assert.Error(t, d.EnableRule("nope"))
	assert.Error(t, d.DisableRule("nope"))
}

func TestProcessTextExampleLevels(t *testing.T) {
	t.Run("keep_all token", func(t *testing.T) {
		d := newTestDetector(t, "keep_all")
		res := d.ProcessText(sampleText, LevelToken)
		assert.Equal(t, "[PERSON] [GPE] at [EMAIL] or call [PHONE], from [PERSON] in [GPE].", res.RedactedText)
		assert.Equal(t, 11, res.TotalEntities())
	})

	t.Run("first_match token", func(t *testing.T) {
		d := newTestDetector(t, "first_match")
		res := d.ProcessText(sampleText, LevelToken)
		assert.Equal(t, "[PERSON] [GPE] at [EMAIL] or call [PHONE], from [ORG] in [GPE].", res.RedactedText)

		for _, token := range []string{"[PERSON]", "[EMAIL]", "[PHONE]", "[ORG]", "[GPE]"} {
			assert.Contains(t, res.RedactedText, token)
		}
		for _, pii := range []string{"John", "Smith", "john@acme.com", "9876543210", "Acme Technologies", "Springfield"} {
			assert.NotContains(t, res.RedactedText, pii)
		}
	})

	t.Run("mask preserves length", func(t *testing.T) {
		d := newTestDetector(t, "keep_all")
		res := d.ProcessText(sampleText, LevelMask)
		assert.Len(t, res.RedactedText, len(sampleText))
		assert.Contains(t, res.RedactedText, " at "+strings.Repeat("*", 13)+" or call "+strings.Repeat("*", 10)+",")
	})
}

func TestProcessTextDisabled(t *testing.T) {
	cfg := testConfig("keep_all")
	cfg.Enabled = false

	d, err := New(cfg, logger.NewNop())
	require.NoError(t, err)

	res := d.ProcessText(sampleText, LevelToken)
	assert.Equal(t, sampleText, res.RedactedText)
	assert.Empty(t, res.Entities)
	assert.Empty(t, res.Findings)
}

func TestProcessTextIdempotentForDeterministicLevels(t *testing.T) {
	for _, strategy := range []string{"keep_all", "first_match", "longest_match"} {
		d := newTestDetector(t, strategy)
		for _, level := range []Level{LevelMask, LevelToken, LevelTagged} {
			once := d.ProcessText(sampleText, level).RedactedText
			twice := d.ProcessText(once, level)
			assert.Equal(t, once, twice.RedactedText, "strategy %s level %d", strategy, level)
			assert.Empty(t, twice.Entities, "strategy %s level %d", strategy, level)
		}
	}
}

func TestProcessTextSyntheticUsesInjectedGenerator(t *testing.T) {
	calls := 0
	gen := GeneratorFunc(func(c Category) string {
		calls++
		return "x" + strings.ToLower(string(c))
	})
	d := newTestDetector(t, "keep_all", WithGenerator(gen))

	res := d.ProcessText(sampleText, LevelSynthetic)
	assert.Equal(t, "xperson xgpe at xemail or call xphone, from xperson in xgpe.", res.RedactedText)
	assert.Equal(t, 11, calls)
}

func TestProcessColumnKeepsOrder(t *testing.T) {
	d := newTestDetector(t, "keep_all")

	values := []string{"mail a@b.co", "", "call 1234567890", "nothing here"}
	results, err := d.ProcessColumn(context.Background(), values, LevelToken, 2)
	require.NoError(t, err)
	require.Len(t, results, len(values))

	got := make([]string, len(results))
	for i, r := range results {
		got[i] = r.RedactedText
	}
	assert.Equal(t, []string{"mail [EMAIL]", "", "call [PHONE]", "nothing here"}, got)
}

func TestProcessColumnCancelled(t *testing.T) {
	d := newTestDetector(t, "keep_all")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.ProcessColumn(ctx, []string{"a", "b"}, LevelToken, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarize(t *testing.T) {
	findings := Summarize([]Entity{
		{Value: "Anna", Category: CategoryGPE},
		{Value: "a@b.co", Category: CategoryEmail},
		{Value: "Anna", Category: CategoryGPE},
	})
	assert.Equal(t, []Finding{
		{Category: CategoryEmail, Count: 1},
		{Category: CategoryGPE, Count: 2},
	}, findings)
	assert.Empty(t, Summarize(nil))
}
