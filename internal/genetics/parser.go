package genetics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/genetick/genetick/internal/market"
)

// ParseError reports a malformed genome text or an unknown gene/chromosome.
// Parse errors are surfaced to the caller and never retried.
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return e.msg }

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{msg: fmt.Sprintf(format, args...)}
}

// ParseResult carries a parsed genome plus validation messages.
type ParseResult struct {
	Genome   *Genome
	Warnings []string
	Errors   []string
}

var (
	flagTrueValues  = []string{"y", "yes", "true"}
	flagFalseValues = []string{"n", "no", "false"}

	// One entry: CHROMO, or CHROMO-GENE[-MORE...]=value. No whitespace
	// anywhere inside an entry.
	entryExpr = regexp.MustCompile(`^([A-Z0-9]+)((?:-[A-Z0-9]+)*)(?:=(\S+))?$`)

	splitExpr = regexp.MustCompile(`[|,]`)
)

// Parse parses a genome string against the default base genetics.
func Parse(genomeStr string) (*ParseResult, error) {
	return ParseWithBase(genomeStr, DefaultBase())
}

// ParseWithBase parses a genome string: a |-separated list of entries, each
// either a chromosome shorthand ("RSI") or a gene assignment ("RSI-L=20").
// Whitespace around the whole string and around separators is ignored; any
// other whitespace is an error, as is an unknown chromosome or gene name.
// An empty string yields an empty overlay plus one warning.
func ParseWithBase(genomeStr string, base *Base) (*ParseResult, error) {
	result := &ParseResult{}

	if strings.TrimSpace(genomeStr) == "" {
		result.Warnings = append(result.Warnings, "completely empty genome; all defaults will be used")
		result.Genome = NewGenome(base)
		return result, nil
	}

	genome := NewGenome(base)

	for _, rawEntry := range splitExpr.Split(genomeStr, -1) {
		entry := strings.TrimSpace(rawEntry)
		if entry == "" {
			return nil, parseErrorf("malformed genome: empty entry")
		}

		m := entryExpr.FindStringSubmatch(entry)
		if m == nil {
			return nil, parseErrorf("malformed gene %q; expected CHROMO or CHROMO-GENE=value", entry)
		}

		chromoName := m[1]
		geneName := strings.ReplaceAll(strings.TrimPrefix(m[2], "-"), "-", "")
		rawValue := m[3]
		hasValue := strings.Contains(entry, "=")

		chromo, ok := base.Chromo(chromoName)
		if !ok {
			return nil, parseErrorf("unknown chromosome %q", chromoName)
		}

		// Bare chromosome shorthand activates its genes at defaults.
		if geneName == "" && !hasValue {
			if err := genome.activateChromosome(chromoName); err != nil {
				return nil, parseErrorf("%v", err)
			}
			continue
		}
		if geneName == "" {
			return nil, parseErrorf("malformed gene %q; value assigned to a bare chromosome", entry)
		}

		gene, ok := chromo.Gene(geneName)
		if !ok {
			return nil, parseErrorf("unknown gene %q in chromosome %q", geneName, chromoName)
		}
		geneNameFull := chromoName + "-" + geneName

		value, err := parseGeneValue(gene, geneNameFull, rawValue, hasValue)
		if err != nil {
			return nil, err
		}

		if err := genome.SetGene(chromoName, geneName, value, rawValue); err != nil {
			return nil, parseErrorf("%v", err)
		}
	}

	result.Genome = genome
	return result, nil
}

func parseGeneValue(gene *Gene, geneNameFull, rawValue string, hasValue bool) (any, error) {
	switch gene.Type() {
	case TypeFlag:
		// A flag named without a value is an implicit true, e.g. "BOLL-BB".
		if !hasValue {
			return true, nil
		}
		lower := strings.ToLower(rawValue)
		for _, v := range flagTrueValues {
			if lower == v {
				return true, nil
			}
		}
		for _, v := range flagFalseValues {
			if lower == v {
				return false, nil
			}
		}
		return nil, parseErrorf("invalid flag value %q for gene %q", rawValue, geneNameFull)

	case TypeMoney:
		if !hasValue || rawValue == "" {
			return nil, parseErrorf("missing monetary value for gene %q", geneNameFull)
		}
		d, err := decimal.NewFromString(rawValue)
		if err != nil {
			return nil, parseErrorf("invalid monetary value %q for gene %q", rawValue, geneNameFull)
		}
		return d, nil

	case TypeNumber, TypePercent:
		if !hasValue || rawValue == "" {
			return nil, parseErrorf("invalid numeric value for gene %q", geneNameFull)
		}
		f, err := strconv.ParseFloat(rawValue, 64)
		if err != nil {
			return nil, parseErrorf("invalid numeric value %q for gene %q", rawValue, geneNameFull)
		}
		return f, nil

	case TypeTimeRes:
		if !hasValue || rawValue == "" {
			return nil, parseErrorf("invalid time resolution value for gene %q", geneNameFull)
		}
		res, err := market.ParseResolution(rawValue)
		if err != nil {
			return nil, parseErrorf("unknown/invalid time resolution %q for gene %q", rawValue, geneNameFull)
		}
		return res, nil

	case TypeString:
		if !hasValue || rawValue == "" {
			return nil, parseErrorf("missing string value for gene %q", geneNameFull)
		}
		return rawValue, nil

	default:
		return nil, parseErrorf("unknown/unsupported gene value type %q", string(gene.Type()))
	}
}
