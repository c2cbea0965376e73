package genetics

import (
	"fmt"
	"strings"
)

// Base is the frozen universe of recognized chromosomes and gene defaults.
// It is constructed once and never mutated afterwards; all bot-specific
// state lives in Genome overlays. Construction copies its inputs, and reads
// only ever hand out the shared pointers for copy-on-write consumers inside
// this package.
type Base struct {
	chromos map[string]*Chromosome
	order   []string
}

// NewBase constructs a frozen base from chromosome templates.
func NewBase(chromos ...*Chromosome) *Base {
	b := &Base{chromos: make(map[string]*Chromosome, len(chromos))}
	for _, c := range chromos {
		b.chromos[c.Name()] = c.Copy()
		b.order = append(b.order, c.Name())
	}
	return b
}

// Chromo looks up a base chromosome by name.
func (b *Base) Chromo(name string) (*Chromosome, bool) {
	c, ok := b.chromos[name]
	return c, ok
}

// Names returns chromosome names in declaration order.
func (b *Base) Names() []string {
	return append([]string(nil), b.order...)
}

// Genome is a bot's full genetic material: the shared immutable base plus an
// overlay holding only the genes this bot has explicitly set.
type Genome struct {
	base    *Base
	overlay map[string]*Chromosome
}

// NewGenome creates a genome over the given base, deep-copying any overlay
// chromosomes so the caller retains no aliases into ours.
func NewGenome(base *Base, overlay ...*Chromosome) *Genome {
	g := &Genome{
		base:    base,
		overlay: make(map[string]*Chromosome, len(overlay)),
	}
	for _, c := range overlay {
		g.overlay[c.Name()] = c.Copy()
	}
	return g
}

// Base returns the shared base. Callers must treat it as read-only.
func (g *Genome) Base() *Base { return g.base }

// OverlayChromosomes returns the overlay chromosomes in base declaration
// order (unknown-to-base names cannot occur; SetGene rejects them).
func (g *Genome) OverlayChromosomes() []*Chromosome {
	out := make([]*Chromosome, 0, len(g.overlay))
	for _, name := range g.base.order {
		if c, ok := g.overlay[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ChromosomesEnabled returns the active chromosomes, overlay shadowing base,
// in base declaration order.
func (g *Genome) ChromosomesEnabled() []*Chromosome {
	var out []*Chromosome
	for _, name := range g.base.order {
		c := g.base.chromos[name]
		if oc, ok := g.overlay[name]; ok {
			c = oc
		}
		if c.Active() {
			out = append(out, c)
		}
	}
	return out
}

// GetGene resolves a gene overlay-first, falling back to base. The returned
// gene is a copy; mutating it never affects the genome.
func (g *Genome) GetGene(chromoName, geneName string) (*Gene, error) {
	if oc, ok := g.overlay[chromoName]; ok {
		if gene, ok := oc.Gene(geneName); ok {
			return gene.Copy(), nil
		}
	}

	bc, ok := g.base.chromos[chromoName]
	if !ok {
		return nil, fmt.Errorf("unknown chromosome %q", chromoName)
	}
	gene, ok := bc.Gene(geneName)
	if !ok {
		return nil, fmt.Errorf("unknown gene %q in chromosome %q", geneName, chromoName)
	}
	return gene.Copy(), nil
}

// MustGene is GetGene for chromosome/gene pairs the base is known to
// declare, e.g. the core TIME/BUY/SELL genes.
func (g *Genome) MustGene(chromoName, geneName string) *Gene {
	gene, err := g.GetGene(chromoName, geneName)
	if err != nil {
		panic(err)
	}
	return gene
}

// SetGene assigns an overlay value to a gene, activating it and its
// chromosome. The base is never touched: the chromosome is copied into the
// overlay on first write.
func (g *Genome) SetGene(chromoName, geneName string, value any, orig string) error {
	oc, ok := g.overlay[chromoName]
	if !ok {
		bc, found := g.base.chromos[chromoName]
		if !found {
			return fmt.Errorf("unknown chromosome %q", chromoName)
		}
		oc = bc.Copy()
		g.overlay[chromoName] = oc
	}

	gene, ok := oc.Gene(geneName)
	if !ok {
		return fmt.Errorf("unknown gene %q in chromosome %q", geneName, chromoName)
	}

	oc.active = true
	gene.set(value, orig)
	return nil
}

// activateChromosome applies the shorthand syntax: every gene of the named
// chromosome becomes active at its default value.
func (g *Genome) activateChromosome(chromoName string) error {
	oc, ok := g.overlay[chromoName]
	if !ok {
		bc, found := g.base.chromos[chromoName]
		if !found {
			return fmt.Errorf("unknown chromosome %q", chromoName)
		}
		oc = bc.Copy()
		g.overlay[chromoName] = oc
	}
	oc.activateAll()
	return nil
}

// Copy deep-clones the overlay; the base is shared by reference.
func (g *Genome) Copy() *Genome {
	return NewGenome(g.base, g.OverlayChromosomes()...)
}

// CopyWithMutation returns a new genome with a single gene altered and its
// chromosome activated, sharing the same base by reference.
func (g *Genome) CopyWithMutation(chromoName, geneName string, value any) (*Genome, error) {
	cp := g.Copy()
	if err := cp.SetGene(chromoName, geneName, value, ""); err != nil {
		return nil, err
	}
	return cp, nil
}

// Overlay merges additional overlay chromosomes into this genome, copying
// each. Later chromosomes shadow earlier ones of the same name.
func (g *Genome) Overlay(chromos []*Chromosome) {
	for _, c := range chromos {
		g.overlay[c.Name()] = c.Copy()
	}
}

// String renders the canonical textual encoding. Parsing the result yields a
// value-equivalent genome (round-trip law); entry order follows base
// declaration order, so the text is canonical but not necessarily
// byte-identical to the input it was parsed from.
func (g *Genome) String() string {
	var entries []string
	for _, chromo := range g.OverlayChromosomes() {
		if !chromo.Active() {
			continue
		}

		// A chromosome activated wholesale with no explicit values
		// round-trips as shorthand.
		explicit := false
		activeCount := 0
		for _, gene := range chromo.Genes() {
			if gene.Active() {
				activeCount++
				if gene.value != nil {
					explicit = true
				}
			}
		}
		if !explicit && activeCount == len(chromo.Genes()) {
			entries = append(entries, chromo.Name())
			continue
		}

		for _, gene := range chromo.Genes() {
			if !gene.Active() {
				continue
			}
			entries = append(entries, fmt.Sprintf("%s-%s=%s", chromo.Name(), gene.Name(), gene.valueText()))
		}
	}
	return strings.Join(entries, "|")
}
