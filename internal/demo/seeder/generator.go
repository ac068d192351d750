package seeder

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Citizen is one generated row of the demo table.
type Citizen struct {
	UUID   string
	Name   string
	Email  string
	City   string
	BornOn string
	Score  float64
	// Motto is nil for roughly one citizen in five, so documents show NULLs.
	Motto *string
}

type Generator struct {
	faker *gofakeit.Faker
}

func NewGenerator(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

func (g *Generator) NextCitizen() Citizen {
	born := g.faker.DateRange(
		time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2006, 12, 31, 0, 0, 0, 0, time.UTC),
	)
	citizen := Citizen{
		UUID:   g.faker.UUID(),
		Name:   g.faker.Name(),
		Email:  g.faker.Email(),
		City:   g.faker.City(),
		BornOn: born.UTC().Format(time.DateOnly),
		Score:  float64(g.faker.Number(0, 10000)) / 100,
	}
	if g.faker.Number(1, 5) > 1 {
		motto := g.faker.Sentence(g.faker.Number(2, 6))
		citizen.Motto = &motto
	}
	return citizen
}
