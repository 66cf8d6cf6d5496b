// Package normalization converts raw indexer records into typed events.
package normalization

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"trove-capacity-lab/internal/config"
	"trove-capacity-lab/internal/domain"
)

// AmountDecimals is the fixed-point scale of raw on-chain amounts.
const AmountDecimals = 18

// Errors returned by the normalizer.
var (
	// ErrUnknownBranch means a trove manager id is missing from the branch table.
	ErrUnknownBranch = errors.New("unknown branch id")

	// ErrInvalidAmount means a raw amount is not an integer string.
	ErrInvalidAmount = errors.New("invalid fixed-point amount")

	// ErrInvalidTimestamp means a raw timestamp is not epoch seconds.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// Normalizer maps raw records onto configured branches.
type Normalizer struct {
	branches *config.BranchTable
}

// NewNormalizer creates a normalizer over the given branch table.
func NewNormalizer(branches *config.BranchTable) *Normalizer {
	return &Normalizer{branches: branches}
}

// Redemptions normalizes raw redemptions. Fails on the first unmapped branch
// or malformed field; Seq is the index in raw.
func (n *Normalizer) Redemptions(raw []domain.RawRedemption) ([]*domain.RedemptionEvent, error) {
	out := make([]*domain.RedemptionEvent, 0, len(raw))
	for i, r := range raw {
		branch, err := n.branch(r.TroveManager)
		if err != nil {
			return nil, fmt.Errorf("redemption %s: %w", r.ID, err)
		}
		ts, err := ParseTimestamp(r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("redemption %s: %w", r.ID, err)
		}

		var p amountParser
		e := &domain.RedemptionEvent{
			ID:           r.ID,
			Seq:          i,
			Timestamp:    ts,
			Branch:       branch,
			TxHash:       r.TransactionHash,
			Price:        p.required("price", r.Price),
			CollDecrease: p.required("collDecrease", r.CollDecrease),
			DebtDecrease: p.required("debtDecrease", r.DebtDecrease),
			EntireColl:   p.required("entireColl", r.EntireColl),
			EntireDebt:   p.required("entireDebt", r.EntireDebt),

			AttemptedDebt:   p.optional("attemptedBoldAmount", r.AttemptedBoldAmount),
			RedemptionPrice: p.optional("redemptionPrice", r.RedemptionPrice),
		}
		if p.err != nil {
			return nil, fmt.Errorf("redemption %s: %w", r.ID, p.err)
		}
		out = append(out, e)
	}
	return out, nil
}

// TroveUpdates normalizes raw trove updates.
func (n *Normalizer) TroveUpdates(raw []domain.RawTroveUpdated) ([]*domain.TroveUpdatedEvent, error) {
	out := make([]*domain.TroveUpdatedEvent, 0, len(raw))
	for i, r := range raw {
		branch, err := n.branch(r.TroveManager)
		if err != nil {
			return nil, fmt.Errorf("trove update %s: %w", r.ID, err)
		}
		ts, err := ParseTimestamp(r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("trove update %s: %w", r.ID, err)
		}

		var p amountParser
		e := &domain.TroveUpdatedEvent{
			ID:         r.ID,
			Seq:        i,
			Timestamp:  ts,
			Branch:     branch,
			TxHash:     r.TransactionHash,
			TroveID:    r.TroveID,
			Coll:       p.required("coll", r.Coll),
			Debt:       p.required("debt", r.Debt),
			EntireColl: p.required("entireColl", r.EntireColl),
			EntireDebt: p.required("entireDebt", r.EntireDebt),
			Price:      p.required("price", r.Price),
		}
		if p.err != nil {
			return nil, fmt.Errorf("trove update %s: %w", r.ID, p.err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (n *Normalizer) branch(id string) (domain.Branch, error) {
	b, ok := n.branches.ByID(id)
	if !ok {
		return domain.Branch{}, fmt.Errorf("%w: %q", ErrUnknownBranch, id)
	}
	return b, nil
}

// ScaleAmount converts a raw 1e18 fixed-point integer string into units.
func ScaleAmount(raw string) (float64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, raw)
	}
	return d.Shift(-AmountDecimals).InexactFloat64(), nil
}

// ParseTimestamp converts epoch seconds into a UTC time.
func ParseTimestamp(raw string) (time.Time, error) {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// amountParser keeps the first parse error so a record can be built in one literal.
type amountParser struct {
	err error
}

func (p *amountParser) required(field, raw string) float64 {
	if p.err != nil {
		return 0
	}
	v, err := ScaleAmount(raw)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", field, err)
		return 0
	}
	return v
}

func (p *amountParser) optional(field, raw string) float64 {
	if raw == "" {
		return 0
	}
	return p.required(field, raw)
}
