// Package ballots folds confidential weighted choices into per-resolution
// tallies. Tallies are only ever touched through the homomorphic evaluator;
// replacing a vote subtracts the previous weighted shares algebraically
// instead of recounting in cleartext.
package ballots

import (
	"context"
	"strings"
	"time"

	"concord/contexts/governance/confidential-voting/application/membership"
	"concord/contexts/governance/confidential-voting/domain/entities"
	domainerrors "concord/contexts/governance/confidential-voting/domain/errors"
	"concord/contexts/governance/confidential-voting/ports"
)

type Aggregator struct {
	Evaluator ports.HomomorphicEvaluator
	Verifier  ports.InputVerifier
}

type CastInput struct {
	MemberID string
	Choice   entities.Ciphertext
	Proof    []byte
	Now      time.Time
}

type CastResult struct {
	Resolution entities.Resolution
	Ballot     entities.Ballot
	Replaced   bool
}

// EmptyTallies returns fresh yes/no accumulators for a new resolution.
func (a Aggregator) EmptyTallies(ctx context.Context) (entities.Ciphertext, entities.Ciphertext, error) {
	yes, err := a.Evaluator.Constant(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	no, err := a.Evaluator.Constant(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	return yes, no, nil
}

// CastOrUpdate verifies the encrypted choice and folds it into resolution's
// tallies, replacing the member's previous ballot if there is one. Nothing is
// written; the caller persists the returned resolution and ballot together.
func (a Aggregator) CastOrUpdate(
	ctx context.Context,
	store ports.Store,
	resolution entities.Resolution,
	input CastInput,
) (CastResult, error) {
	memberID := strings.TrimSpace(input.MemberID)
	weight, err := membership.WeightOf(ctx, store, memberID)
	if err != nil {
		return CastResult{}, err
	}
	if weight == 0 {
		return CastResult{}, domainerrors.ErrZeroWeight
	}
	if len(input.Choice) == 0 {
		return CastResult{}, domainerrors.ErrInvalidCiphertext
	}
	binding := ports.InputBinding{ResolutionID: resolution.ResolutionID, MemberID: memberID}
	if err := a.Verifier.VerifyInput(ctx, binding, input.Choice, input.Proof); err != nil {
		return CastResult{}, err
	}

	yesShare, noShare, err := a.weightedShares(ctx, input.Choice, weight)
	if err != nil {
		return CastResult{}, err
	}

	previous, replaced, err := store.GetBallot(ctx, resolution.ResolutionID, memberID)
	if err != nil {
		return CastResult{}, err
	}

	yesTally := resolution.YesVotes
	noTally := resolution.NoVotes
	if replaced {
		if yesTally, err = a.subtract(ctx, yesTally, previous.YesShare); err != nil {
			return CastResult{}, err
		}
		if noTally, err = a.subtract(ctx, noTally, previous.NoShare); err != nil {
			return CastResult{}, err
		}
	}
	if yesTally, err = a.Evaluator.Add(ctx, yesTally, yesShare); err != nil {
		return CastResult{}, err
	}
	if noTally, err = a.Evaluator.Add(ctx, noTally, noShare); err != nil {
		return CastResult{}, err
	}

	resolution.YesVotes = yesTally
	resolution.NoVotes = noTally
	resolution.UpdatedAt = input.Now

	ballot := entities.Ballot{
		ResolutionID: resolution.ResolutionID,
		MemberID:     memberID,
		Choice:       input.Choice.Clone(),
		Weight:       weight,
		YesShare:     yesShare,
		NoShare:      noShare,
		CastCount:    1,
		CastAt:       input.Now,
		UpdatedAt:    input.Now,
	}
	if replaced {
		ballot.CastCount = previous.CastCount + 1
		ballot.CastAt = previous.CastAt
	}
	return CastResult{Resolution: resolution, Ballot: ballot, Replaced: replaced}, nil
}

// Tallies exposes the opaque accumulators of a resolution.
func (a Aggregator) Tallies(resolution entities.Resolution) (entities.Ciphertext, entities.Ciphertext) {
	return resolution.YesVotes.Clone(), resolution.NoVotes.Clone()
}

// weightedShares maps an encrypted boolean c and weight w to
// (c·w, w − c·w).
func (a Aggregator) weightedShares(
	ctx context.Context,
	choice entities.Ciphertext,
	weight uint32,
) (entities.Ciphertext, entities.Ciphertext, error) {
	yesShare, err := a.Evaluator.ScalarMul(ctx, choice, uint64(weight))
	if err != nil {
		return nil, nil, err
	}
	full, err := a.Evaluator.Constant(ctx, uint64(weight))
	if err != nil {
		return nil, nil, err
	}
	noShare, err := a.subtract(ctx, full, yesShare)
	if err != nil {
		return nil, nil, err
	}
	return yesShare, noShare, nil
}

func (a Aggregator) subtract(
	ctx context.Context,
	from entities.Ciphertext,
	value entities.Ciphertext,
) (entities.Ciphertext, error) {
	negated, err := a.Evaluator.Neg(ctx, value)
	if err != nil {
		return nil, err
	}
	return a.Evaluator.Add(ctx, from, negated)
}
