package genetics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genetick/genetick/internal/market"
)

func TestOverlayNeverMutatesBase(t *testing.T) {
	base := DefaultBase()

	genome := NewGenome(base)
	require.NoError(t, genome.SetGene(ChromoRSI, GeneRSILow, 12.0, ""))

	baseChromo, ok := base.Chromo(ChromoRSI)
	require.True(t, ok)
	baseGene, ok := baseChromo.Gene(GeneRSILow)
	require.True(t, ok)

	assert.False(t, baseGene.Active(), "base gene must stay inactive")
	assert.Equal(t, 33.0, baseGene.Float(), "base gene must keep its default")
	assert.False(t, baseChromo.Active(), "base chromosome must stay inactive")

	overlayGene := genome.MustGene(ChromoRSI, GeneRSILow)
	assert.True(t, overlayGene.Active())
	assert.Equal(t, 12.0, overlayGene.Float())
}

func TestGetGeneReturnsCopy(t *testing.T) {
	genome := NewGenome(DefaultBase())
	require.NoError(t, genome.SetGene(ChromoRSI, GeneRSILow, 12.0, ""))

	gene := genome.MustGene(ChromoRSI, GeneRSILow)
	gene.set(99.0, "")

	assert.Equal(t, 12.0, genome.MustGene(ChromoRSI, GeneRSILow).Float())
}

func TestCopyWithMutationSharesBase(t *testing.T) {
	parent := NewGenome(DefaultBase())
	require.NoError(t, parent.SetGene(ChromoRSI, GeneRSILow, 20.0, ""))

	child, err := parent.CopyWithMutation(ChromoTime, GeneTimeRes, market.ResOneHour)
	require.NoError(t, err)

	assert.Same(t, parent.Base(), child.Base())

	// Parent keeps the RSI overlay but not the TIME mutation.
	assert.Equal(t, market.ResFifteenMinutes, parent.MustGene(ChromoTime, GeneTimeRes).Resolution())
	assert.Equal(t, market.ResOneHour, child.MustGene(ChromoTime, GeneTimeRes).Resolution())
	assert.Equal(t, 20.0, child.MustGene(ChromoRSI, GeneRSILow).Float())

	// Later parent mutations don't leak into the child.
	require.NoError(t, parent.SetGene(ChromoRSI, GeneRSILow, 25.0, ""))
	assert.Equal(t, 20.0, child.MustGene(ChromoRSI, GeneRSILow).Float())
}

func TestCopyWithMutationActivatesChromosome(t *testing.T) {
	genome := NewGenome(DefaultBase())
	child, err := genome.CopyWithMutation(ChromoTime, GeneTimeRes, market.ResFourHours)
	require.NoError(t, err)

	var found bool
	for _, c := range child.ChromosomesEnabled() {
		if c.Name() == ChromoTime {
			found = true
		}
	}
	assert.True(t, found, "TIME chromosome should be active after mutation")
}

func TestGetGeneUnknownNames(t *testing.T) {
	genome := NewGenome(DefaultBase())

	_, err := genome.GetGene("NOPE", "X")
	assert.Error(t, err)

	_, err = genome.GetGene(ChromoRSI, "NOPE")
	assert.Error(t, err)
}

func TestStringCanonicalOrder(t *testing.T) {
	// Entries serialize in base declaration order regardless of parse order.
	a, err := Parse("RSI-L=20|SL-ABS=-0.02")
	require.NoError(t, err)
	b, err := Parse("SL-ABS=-0.02|RSI-L=20")
	require.NoError(t, err)

	assert.Equal(t, a.Genome.String(), b.Genome.String())
	assert.Equal(t, "SL-ABS=-0.02|RSI-L=20", a.Genome.String())
}

func TestChromosomeCopyIsDeep(t *testing.T) {
	chromo, _ := DefaultBase().Chromo(ChromoRSI)
	cp := chromo.Copy()
	cp.MustGene(GeneRSILow).set(1.0, "")

	orig, _ := chromo.Gene(GeneRSILow)
	assert.False(t, orig.Active())
}
