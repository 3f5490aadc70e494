package privacy

import (
	"sync"

	"github.com/brianvoe/gofakeit/v7"
)

// Generator produces synthetic replacement values for level 4 redaction.
type Generator interface {
	Generate(category Category) string
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(category Category) string

// Generate calls f(category).
func (f GeneratorFunc) Generate(category Category) string {
	return f(category)
}

// FakerGenerator generates values with gofakeit. Safe for concurrent use:
// all draws from the shared random stream are serialized.
type FakerGenerator struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
}

// NewFakerGenerator creates a generator. A zero seed means unseeded, so the
// output differs from run to run.
func NewFakerGenerator(seed uint64) *FakerGenerator {
	return &FakerGenerator{faker: gofakeit.New(seed)}
}

// Generate returns a realistic fake value for the category.
func (g *FakerGenerator) Generate(category Category) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch category {
	case CategoryPerson:
		return g.faker.Name()
	case CategoryOrg:
		return g.faker.Company()
	case CategoryGPE:
		return g.faker.City()
	case CategoryEmail:
		return g.faker.Email()
	case CategoryPhone:
		return g.faker.Phone()
	default:
		return g.faker.Word()
	}
}
