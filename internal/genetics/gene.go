// Package genetics implements the genetic model of a trading bot: typed
// genes grouped into chromosomes, the immutable base genome plus per-bot
// overlay, and the textual genome encoding.
package genetics

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/genetick/genetick/internal/market"
)

// ValueType is the fundamental type of a gene.
type ValueType string

const (
	TypeTimeRes ValueType = "time-res"
	TypeMoney   ValueType = "money"
	TypePercent ValueType = "pct"
	TypeFlag    ValueType = "flag"
	TypeNumber  ValueType = "number"
	TypeString  ValueType = "string"
)

// Gene is one tunable, typed parameter within a chromosome. A gene is
// immutable once constructed except through Copy; the overlay machinery in
// Genome is the only writer.
type Gene struct {
	name   string
	typ    ValueType
	def    any
	desc   string
	active bool
	value  any
	orig   string
}

// NewGene constructs an inactive gene carrying only its default.
func NewGene(name string, typ ValueType, defaultValue any, desc string) *Gene {
	return &Gene{
		name: name,
		typ:  typ,
		def:  defaultValue,
		desc: desc,
	}
}

// Copy returns an independent copy of the gene.
func (g *Gene) Copy() *Gene {
	cp := *g
	return &cp
}

func (g *Gene) Name() string    { return g.name }
func (g *Gene) Type() ValueType { return g.typ }
func (g *Gene) Default() any    { return g.def }
func (g *Gene) Desc() string    { return g.desc }
func (g *Gene) Active() bool    { return g.active }

// Orig returns the raw text the gene's value was parsed from, for exact
// round-tripping of numeric precision. Empty for defaulted genes.
func (g *Gene) Orig() string { return g.orig }

// Value returns the gene's effective value: the overlay value if the gene is
// active and one was set, otherwise the default.
func (g *Gene) Value() any {
	if g.active && g.value != nil {
		return g.value
	}
	return g.def
}

// Float returns the effective value of a number or pct gene.
func (g *Gene) Float() float64 {
	switch v := g.Value().(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		panic(fmt.Sprintf("gene %q is not numeric (type %s)", g.name, g.typ))
	}
}

// Decimal returns the effective value of a money gene.
func (g *Gene) Decimal() decimal.Decimal {
	switch v := g.Value().(type) {
	case decimal.Decimal:
		return v
	case float64:
		return decimal.NewFromFloat(v)
	default:
		panic(fmt.Sprintf("gene %q is not monetary (type %s)", g.name, g.typ))
	}
}

// Bool returns the effective value of a flag gene.
func (g *Gene) Bool() bool {
	v, ok := g.Value().(bool)
	if !ok {
		panic(fmt.Sprintf("gene %q is not a flag (type %s)", g.name, g.typ))
	}
	return v
}

// Resolution returns the effective value of a time-res gene.
func (g *Gene) Resolution() market.Resolution {
	v, ok := g.Value().(market.Resolution)
	if !ok {
		panic(fmt.Sprintf("gene %q is not a time resolution (type %s)", g.name, g.typ))
	}
	return v
}

// Str returns the effective value of a string gene.
func (g *Gene) Str() string {
	v, ok := g.Value().(string)
	if !ok {
		panic(fmt.Sprintf("gene %q is not a string (type %s)", g.name, g.typ))
	}
	return v
}

// valueText serializes the gene's effective value canonically, preferring
// the original parsed text when available.
func (g *Gene) valueText() string {
	if g.orig != "" {
		return g.orig
	}

	switch v := g.Value().(type) {
	case bool:
		if v {
			return "y"
		}
		return "n"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case decimal.Decimal:
		return v.String()
	case market.Resolution:
		return v.String()
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// set assigns an overlay value and marks the gene active. Package-private:
// only Genome and the parser mutate genes, and only on copies.
func (g *Gene) set(value any, orig string) {
	g.value = value
	g.orig = orig
	g.active = true
}
