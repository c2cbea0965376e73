package bot

import (
	"fmt"

	"github.com/genetick/genetick/internal/genetics"
)

var implementations = map[string]func() Implementation{}

// RegisterImplementation makes a bot variant available under its tag.
// Panics on duplicate registration since tags are wired at init time.
func RegisterImplementation(tag string, ctor func() Implementation) {
	if _, ok := implementations[tag]; ok {
		panic(fmt.Sprintf("bot: duplicate implementation registration for tag %q", tag))
	}
	implementations[tag] = ctor
}

// NewImplementation instantiates the bot variant registered under tag.
func NewImplementation(tag string) (Implementation, error) {
	ctor, ok := implementations[tag]
	if !ok {
		return nil, fmt.Errorf("unknown bot implementation %q", tag)
	}
	return ctor(), nil
}

// ImplementationForGenome resolves the variant named by the genome's meta
// chromosome.
func ImplementationForGenome(genome *genetics.Genome) (Implementation, error) {
	tag := genome.MustGene(genetics.ChromoMeta, genetics.GeneMetaImpl).Str()
	return NewImplementation(tag)
}

func init() {
	RegisterImplementation(genetics.DefaultBotImpl, func() Implementation { return &GeneticBot{} })
}
