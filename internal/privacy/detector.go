package privacy

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raaihank/redact/internal/config"
	"github.com/raaihank/redact/internal/logger"
)

// Detector handles PII detection and redaction
type Detector struct {
	rules    []DetectionRule
	enabled  map[Category]bool
	strategy OverlapStrategy
	redactor *Redactor
	logger   *logger.Logger
	config   config.PrivacyConfig
	mu       sync.RWMutex
}

// Option customizes a Detector beyond what configuration expresses.
type Option func(*Detector)

// WithGenerator injects the synthetic value generator used at level 4.
func WithGenerator(g Generator) Option {
	return func(d *Detector) {
		d.redactor = NewRedactor(g, d.redactor.Mode())
	}
}

// New creates a new PII detector instance
func New(cfg config.PrivacyConfig, log *logger.Logger, opts ...Option) (*Detector, error) {
	strategy, err := ParseOverlapStrategy(cfg.Overlap)
	if err != nil {
		return nil, err
	}
	mode, err := ParseSubstitutionMode(cfg.Substitution)
	if err != nil {
		return nil, err
	}

	detector := &Detector{
		rules:    GetDefaultRules(),
		enabled:  make(map[Category]bool),
		strategy: strategy,
		logger:   log,
		config:   cfg,
	}
	detector.redactor = NewRedactor(NewFakerGenerator(cfg.Synthetic.Seed), mode)

	for _, opt := range opts {
		opt(detector)
	}

	// Configure enabled detectors
	if err := detector.configureDetectors(cfg.Detectors); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	log.Info("Privacy detector initialized",
		zap.Int("total_rules", len(detector.rules)),
		zap.Int("enabled_rules", detector.countEnabledRules()),
		zap.String("overlap_strategy", string(strategy)),
		zap.String("substitution_mode", string(mode)),
	)

	return detector, nil
}

// configureDetectors enables/disables detectors based on configuration
func (d *Detector) configureDetectors(detectors []string) error {
	for _, rule := range d.rules {
		d.enabled[rule.Category] = false
	}

	for _, name := range detectors {
		if strings.EqualFold(name, "all") {
			for _, rule := range d.rules {
				d.enabled[rule.Category] = true
			}
			continue
		}

		category, ok := d.lookup(name)
		if !ok {
			return fmt.Errorf("unknown detector: %s", name)
		}
		d.enabled[category] = true
	}

	return nil
}

func (d *Detector) lookup(name string) (Category, bool) {
	for _, rule := range d.rules {
		if strings.EqualFold(string(rule.Category), name) {
			return rule.Category, true
		}
	}
	return "", false
}

// Detect scans text with every enabled rule, in table order. Each rule sees
// the whole original text. Detection never fails; no match yields an empty
// slice.
func (d *Detector) Detect(text string) []Entity {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if text == "" {
		return []Entity{}
	}

	var matches []match
	for order, rule := range d.rules {
		if !d.enabled[rule.Category] {
			continue
		}
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			matches = append(matches, match{
				start:    loc[0],
				end:      loc[1],
				order:    order,
				priority: rule.Priority,
				entity:   Entity{Value: text[loc[0]:loc[1]], Category: rule.Category},
			})
		}
	}

	matches = resolve(matches, d.strategy)

	entities := make([]Entity, len(matches))
	for i, m := range matches {
		entities[i] = m.entity
	}
	return entities
}

// Redact applies the level policy for the given entities.
func (d *Detector) Redact(text string, entities []Entity, level Level) string {
	return d.redactor.Redact(text, entities, level)
}

// ProcessText detects PII in text and redacts it at the given level
func (d *Detector) ProcessText(text string, level Level) ProcessResult {
	if !d.config.Enabled {
		return ProcessResult{
			RedactedText: text,
			Entities:     []Entity{},
			Findings:     []Finding{},
			Level:        level,
			Original:     text,
		}
	}

	entities := d.Detect(text)
	redacted := d.redactor.Redact(text, entities, level)
	findings := Summarize(entities)

	if len(findings) > 0 {
		d.logger.Debug("PII detected and redacted",
			zap.Int("entities", len(entities)),
			zap.Any("findings", findings),
			zap.Int("level", int(level)),
		)
	}

	return ProcessResult{
		RedactedText: redacted,
		Entities:     entities,
		Findings:     findings,
		Level:        level,
		Original:     text,
	}
}

// ProcessColumn redacts every value independently, in parallel, keeping the
// input order. workers <= 0 means one worker per value.
func (d *Detector) ProcessColumn(ctx context.Context, values []string, level Level, workers int) ([]ProcessResult, error) {
	results := make([]ProcessResult, len(values))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, v := range values {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = d.ProcessText(v, level)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("column redaction cancelled: %w", err)
	}

	d.logger.Debug("Column redacted",
		zap.Int("rows", len(values)),
		zap.Int("workers", workers),
	)
	return results, nil
}

// Summarize counts entities per category, in table order.
func Summarize(entities []Entity) []Finding {
	counts := make(map[Category]int)
	for _, e := range entities {
		counts[e.Category]++
	}

	findings := make([]Finding, 0, len(counts))
	for _, c := range Categories() {
		if n := counts[c]; n > 0 {
			findings = append(findings, Finding{Category: c, Count: n})
			delete(counts, c)
		}
	}
	for c, n := range counts {
		findings = append(findings, Finding{Category: c, Count: n})
	}
	return findings
}

// Enabled reports whether redaction is on. A disabled detector returns text
// unchanged.
func (d *Detector) Enabled() bool {
	return d.config.Enabled
}

// Strategy returns the overlap strategy in use.
func (d *Detector) Strategy() OverlapStrategy {
	return d.strategy
}

// SubstitutionMode returns the substitution mode in use.
func (d *Detector) SubstitutionMode() SubstitutionMode {
	return d.redactor.Mode()
}

// Rules returns the detection rule table.
func (d *Detector) Rules() []DetectionRule {
	out := make([]DetectionRule, len(d.rules))
	copy(out, d.rules)
	return out
}

// countEnabledRules returns the number of enabled detection rules
func (d *Detector) countEnabledRules() int {
	count := 0
	for _, enabled := range d.enabled {
		if enabled {
			count++
		}
	}
	return count
}

// GetEnabledRules returns enabled categories in table order
func (d *Detector) GetEnabledRules() []Category {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var enabled []Category
	for _, rule := range d.rules {
		if d.enabled[rule.Category] {
			enabled = append(enabled, rule.Category)
		}
	}
	return enabled
}

// EnableRule enables a specific detection rule
func (d *Detector) EnableRule(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	category, ok := d.lookup(name)
	if !ok {
		return fmt.Errorf("unknown rule: %s", name)
	}
	d.enabled[category] = true
	d.logger.Info("Detection rule enabled", zap.String("rule", string(category)))
	return nil
}

// DisableRule disables a specific detection rule
func (d *Detector) DisableRule(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	category, ok := d.lookup(name)
	if !ok {
		return fmt.Errorf("unknown rule: %s", name)
	}
	d.enabled[category] = false
	d.logger.Info("Detection rule disabled", zap.String("rule", string(category)))
	return nil
}
