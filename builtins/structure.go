package builtins

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/model"
)

var structures = map[string]string{
	"standard": `
20 -- 25/50
20 -- 50/100
20 -- 75/150/150
20 -- 100/200/200
15 -- BREAK
20 -- 150/300/300
20 -- 200/400/400
20 -- 300/600/600
20 -- 400/800/800
15 -- BREAK
20 -- 500/1000/1000
20 -- 700/1400/1400
20 -- 1000/2000/2000
20 -- 1500/3000/3000
20 -- 2000/4000/4000
`,
	"turbo": `
10 -- 25/50
10 -- 50/100/100
10 -- 100/200/200
10 -- 150/300/300
5 -- BREAK
10 -- 200/400/400
10 -- 300/600/600
10 -- 500/1000/1000
10 -- 800/1600/1600
10 -- 1000/2000/2000
`,
}

func init() {
	// Fail at startup rather than when somebody creates a tournament.
	for name, text := range structures {
		if _, err := model.ParseLevels(text); err != nil {
			log.Fatal().Err(err).Str("structure", name).Msg("built-in structure doesn't parse")
		}
	}
}

// Structure returns a fresh copy of a named built-in blind structure.
func Structure(name string) (model.Structure, error) {
	text, ok := structures[name]
	if !ok {
		return nil, fmt.Errorf("no built-in structure %q (have %v)", name, StructureNames())
	}
	return model.ParseLevels(text)
}

func StructureNames() []string {
	names := make([]string, 0, len(structures))
	for n := range structures {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
