package genetics

import "fmt"

// Chromosome is a named group of related genes, e.g. an "RSI" chromosome
// bearing "RSI-L" and "RSI-H" genes. A chromosome is active if any of its
// genes is active, or if it was activated wholesale by shorthand.
type Chromosome struct {
	name   string
	title  string
	desc   string
	genes  map[string]*Gene
	order  []string
	active bool
}

// NewChromosome constructs a chromosome template from its genes.
func NewChromosome(name, title, desc string, genes ...*Gene) *Chromosome {
	c := &Chromosome{
		name:  name,
		title: title,
		desc:  desc,
		genes: make(map[string]*Gene, len(genes)),
	}
	for _, g := range genes {
		c.genes[g.Name()] = g
		c.order = append(c.order, g.Name())
	}
	return c
}

func (c *Chromosome) Name() string  { return c.name }
func (c *Chromosome) Title() string { return c.title }
func (c *Chromosome) Desc() string  { return c.desc }

// Active reports whether the chromosome participates in bot behaviour.
func (c *Chromosome) Active() bool {
	if c.active {
		return true
	}
	for _, g := range c.genes {
		if g.Active() {
			return true
		}
	}
	return false
}

// Gene returns a gene by name. The second return is false for unknown names.
func (c *Chromosome) Gene(name string) (*Gene, bool) {
	g, ok := c.genes[name]
	return g, ok
}

// MustGene returns a gene by name, panicking on unknown names. Use only for
// genes the base genome is known to declare.
func (c *Chromosome) MustGene(name string) *Gene {
	g, ok := c.genes[name]
	if !ok {
		panic(fmt.Sprintf("missing gene %q in chromosome %q", name, c.name))
	}
	return g
}

// Genes returns the chromosome's genes in declaration order.
func (c *Chromosome) Genes() []*Gene {
	out := make([]*Gene, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.genes[name])
	}
	return out
}

// Copy deep-clones the chromosome and all of its genes.
func (c *Chromosome) Copy() *Chromosome {
	cp := &Chromosome{
		name:   c.name,
		title:  c.title,
		desc:   c.desc,
		genes:  make(map[string]*Gene, len(c.genes)),
		order:  append([]string(nil), c.order...),
		active: c.active,
	}
	for name, g := range c.genes {
		cp.genes[name] = g.Copy()
	}
	return cp
}

// activateAll marks the chromosome and every gene active, leaving gene
// values at their defaults. Used by the shorthand genome syntax.
func (c *Chromosome) activateAll() {
	c.active = true
	for _, g := range c.genes {
		g.active = true
	}
}
