// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

var (
	givenNames  = []string{"Ada", "Bruno", "Chiara", "Dmitri", "Elena", "Farid", "Greta", "Hiro", "Ines", "Jonas", "Kiri", "Luca"}
	familyNames = []string{"Ackerman", "Bianchi", "Costa", "Dubois", "Eriksen", "Fischer", "Garcia", "Huber", "Ivanova", "Jensen", "Kowalski", "Lindqvist"}
	companies   = []string{"Forkbomb", "Initech", "Globex", "Acme", "Umbrella", "Hooli"}
	jobTitles   = []string{"Engineer", "Designer", "Manager", "Analyst", "Tester"}
)

// contactGenerator produces mock contacts. Seeded so runs are repeatable.
type contactGenerator struct {
	rng *rand.Rand
}

func newContactGenerator(seed uint64) *contactGenerator {
	return &contactGenerator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (g *contactGenerator) next(index int) ContactRecord {
	given := givenNames[g.rng.IntN(len(givenNames))]
	family := familyNames[g.rng.IntN(len(familyNames))]
	org := companies[g.rng.IntN(len(companies))]
	tel := fmt.Sprintf("+1%03d%07d", 200+g.rng.IntN(800), g.rng.IntN(10_000_000))
	email := fmt.Sprintf("%s.%s.%d@%s.example.com",
		strings.ToLower(given), strings.ToLower(family), index, strings.ToLower(org))

	return ContactRecord{
		Name:       []string{given + " " + family},
		GivenName:  []string{given},
		FamilyName: []string{family},
		Tel:        []Field{{Type: []string{"mobile"}, Value: tel}},
		Email:      []Field{{Type: []string{"work"}, Value: email}},
		Org:        []string{org},
		JobTitle:   []string{jobTitles[g.rng.IntN(len(jobTitles))]},
		Note:       []string{fmt.Sprintf("generated contact %d", index)},
	}
}
