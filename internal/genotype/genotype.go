// Package genotype forks bot instances: it applies gene mutations or symbol
// changes to a parent instance's genome and materializes one child instance
// per produced genome, recording the lineage as a mutation set.
package genotype

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/genetick/genetick/internal/db"
	"github.com/genetick/genetick/internal/genetics"
	"github.com/genetick/genetick/internal/market"
	"github.com/genetick/genetick/internal/metrics"
)

// Pseudo-mutation recorded when a fork elevates the target mode, so lineage
// queries can distinguish elevated forks from plain mutations.
const (
	ModeChromo = "mode"
	ModeGene   = "mode"
)

// MutationRequest is one requested gene alteration, with the value in its
// textual genome representation.
type MutationRequest struct {
	Chromo string
	Gene   string
	Value  string
}

// ForkRequest describes one fork of a parent instance.
type ForkRequest struct {
	ParentInstanceID uuid.UUID
	// TargetMode defaults to the parent's mode when empty. A target more
	// serious than the parent's mode makes this fork an elevation.
	TargetMode      db.Mode
	Mutations       []MutationRequest
	Symbols         string
	SystemInitiated bool
	ParentSetID     *uuid.UUID
	DisplayName     string
}

// ForkResult reports what a fork produced.
type ForkResult struct {
	MutationSet *db.MutationSet
	Mutations   []*db.Mutation
	InstanceIDs []uuid.UUID
}

// Service performs fork operations over the persistence layer.
type Service struct {
	db *db.DB
}

func NewService(database *db.DB) *Service {
	return &Service{db: database}
}

// Fork validates and executes the request. All writes happen inside one
// transaction: the caller's when tx is non-nil, otherwise a fresh one, and
// are rolled back entirely on any failure.
func (s *Service) Fork(ctx context.Context, tx pgx.Tx, req ForkRequest) (*ForkResult, error) {
	if tx != nil {
		return s.fork(ctx, tx, req)
	}

	var result *ForkResult
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = s.fork(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) fork(ctx context.Context, tx pgx.Tx, req ForkRequest) (*ForkResult, error) {
	if len(req.Mutations) == 0 && req.Symbols == "" {
		return nil, errors.New("fork requires at least one mutation or symbol change")
	}

	parent, err := s.db.GetBotInstanceByID(ctx, tx, req.ParentInstanceID)
	if err != nil {
		return nil, fmt.Errorf("fork parent %s: %w", req.ParentInstanceID, err)
	}
	alloc, err := s.db.GetAllocationByID(ctx, tx, parent.AllocationID)
	if err != nil {
		return nil, fmt.Errorf("fork parent allocation %s: %w", parent.AllocationID, err)
	}

	targetMode := req.TargetMode
	if targetMode == "" {
		targetMode = parent.ModeID
	}

	if targetMode.IsLive() && !alloc.Live {
		return nil, fmt.Errorf("mode %s requires a live allocation, %s is not live", targetMode, alloc.ID)
	}
	if !targetMode.IsLive() && alloc.Live {
		return nil, fmt.Errorf("mode %s requires a test allocation, %s is live", targetMode, alloc.ID)
	}

	setType, err := classify(parent.ModeID, targetMode, req.SystemInitiated)
	if err != nil {
		return nil, err
	}

	parsed, err := genetics.Parse(parent.CurrentGenome)
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("parent %s carries an invalid genome: %s", parent.ID, parsed.Errors[0])
	}

	children, err := produceChildGenomes(parsed.Genome, req.Mutations)
	if err != nil {
		return nil, err
	}

	elevating := targetMode != parent.ModeID

	set := &db.MutationSet{
		ParentSetID: req.ParentSetID,
		TypeID:      setType,
		DisplayName: req.DisplayName,
	}
	if err := s.db.InsertMutationSet(ctx, tx, set); err != nil {
		return nil, err
	}

	result := &ForkResult{MutationSet: set}
	for _, child := range children {
		symbols := parent.Symbols
		if req.Symbols != "" {
			symbols = req.Symbols
		}

		inst := &db.BotInstance{
			DefinitionID:  parent.DefinitionID,
			AllocationID:  parent.AllocationID,
			ExchangeID:    parent.ExchangeID,
			Name:          fmt.Sprintf("%s~%s", parent.Name, shortID()),
			Build:         parent.Build,
			TypeID:        parent.TypeID,
			ModeID:        targetMode,
			ResID:         child.Genome.MustGene(genetics.ChromoTime, genetics.GeneTimeRes).Resolution(),
			Symbols:       symbols,
			CurrentGenome: child.Genome.String(),
			RunState:      db.RunStateNew,
			PrevTick:      time.Now(),
			StateInternal: parent.StateInternal,
		}
		if err := s.db.InsertBotInstance(ctx, tx, inst); err != nil {
			return nil, err
		}
		result.InstanceIDs = append(result.InstanceIDs, inst.ID)

		mutations := child.Mutations
		if elevating {
			mutations = append(mutations, MutationRequest{
				Chromo: ModeChromo,
				Gene:   ModeGene,
				Value:  string(targetMode),
			})
		}
		for _, m := range mutations {
			row := &db.Mutation{
				MutationSetID: set.ID,
				ParentID:      parent.ID,
				ChildID:       inst.ID,
				Chromo:        m.Chromo,
				Gene:          m.Gene,
				Value:         m.Value,
			}
			if err := s.db.InsertMutation(ctx, tx, row); err != nil {
				return nil, err
			}
			result.Mutations = append(result.Mutations, row)
		}
	}

	metrics.MutationSetsCreated.WithLabelValues(string(set.TypeID)).Inc()
	metrics.ChildInstancesForked.Add(float64(len(result.InstanceIDs)))

	log.Info().
		Str("mutation_set_id", set.ID.String()).
		Str("type", string(set.TypeID)).
		Str("parent_id", parent.ID.String()).
		Int("children", len(result.InstanceIDs)).
		Msg("Fork completed")
	return result, nil
}

// classify maps a fork's mode pair and initiator onto its mutation-set
// type. Unrecognized combinations are rejected outright so no accidental
// elevation path exists.
func classify(parentMode, targetMode db.Mode, system bool) (db.MutationSetType, error) {
	var manual, auto db.MutationSetType
	switch {
	case parentMode == targetMode && (parentMode == db.ModeBackTest || parentMode == db.ModeForwardTest):
		manual, auto = db.MutationSetManualMutateBackTest, db.MutationSetSystemMutateBackTest
	case parentMode == db.ModeBackTest && targetMode == db.ModeForwardTest:
		manual, auto = db.MutationSetManualElevateToFwdTest, db.MutationSetSystemElevateToFwdTest
	case parentMode == db.ModeForwardTest && targetMode == db.ModeLiveTest:
		manual, auto = db.MutationSetManualElevateToLiveTest, db.MutationSetSystemElevateToLiveTest
	case (parentMode == db.ModeForwardTest || parentMode == db.ModeLiveTest) && targetMode == db.ModeLive:
		manual, auto = db.MutationSetManualElevateToLive, db.MutationSetSystemElevateToLive
	default:
		return "", fmt.Errorf("unrecognized mutation set classification for %s -> %s", parentMode, targetMode)
	}
	if system {
		return auto, nil
	}
	return manual, nil
}

// childGenome is one produced genome together with the mutations that
// shaped it.
type childGenome struct {
	Genome    *genetics.Genome
	Mutations []MutationRequest
}

// produceChildGenomes expands the requested mutations into child genomes.
// A time-resolution mutation fans out into one child per supported
// resolution, the parent's own resolution included; every other mutation
// produces a single child. A symbol-only fork produces one unmutated child.
func produceChildGenomes(parent *genetics.Genome, reqs []MutationRequest) ([]childGenome, error) {
	if len(reqs) == 0 {
		return []childGenome{{Genome: parent.Copy()}}, nil
	}

	var children []childGenome
	for _, req := range reqs {
		if req.Chromo == genetics.ChromoTime && req.Gene == genetics.GeneTimeRes {
			for _, res := range market.SupportedResolutions {
				cp := parent.Copy()
				if err := cp.SetGene(genetics.ChromoTime, genetics.GeneTimeRes, res, res.String()); err != nil {
					return nil, err
				}
				children = append(children, childGenome{
					Genome:    cp,
					Mutations: []MutationRequest{{Chromo: req.Chromo, Gene: req.Gene, Value: res.String()}},
				})
			}
			continue
		}

		mutated, err := applyMutation(parent, req)
		if err != nil {
			return nil, err
		}
		children = append(children, childGenome{Genome: mutated, Mutations: []MutationRequest{req}})
	}
	return children, nil
}

// applyMutation parses the textual value through the genome grammar, which
// both validates and types it, then overlays it on a copy of the parent.
func applyMutation(parent *genetics.Genome, req MutationRequest) (*genetics.Genome, error) {
	parsed, err := genetics.Parse(fmt.Sprintf("%s-%s=%s", req.Chromo, req.Gene, req.Value))
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("invalid mutation %s-%s=%s: %s", req.Chromo, req.Gene, req.Value, parsed.Errors[0])
	}

	gene, err := parsed.Genome.GetGene(req.Chromo, req.Gene)
	if err != nil {
		return nil, err
	}

	cp := parent.Copy()
	if err := cp.SetGene(req.Chromo, req.Gene, gene.Value(), gene.Orig()); err != nil {
		return nil, err
	}
	return cp, nil
}

func shortID() string {
	return uuid.New().String()[:8]
}
