package processors

import (
	"fmt"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/money"
)

// GroupFailure is one group's structured failure, part of the batch error
// ProcessGroups returns when any group fails.
type GroupFailure struct {
	CorrelationID string
	EntryCount    int
	Err           error
}

// ProcessError aggregates every group failure in a single batch run.
type ProcessError struct {
	Failures   []GroupFailure
	LostEntries int
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("processors: %d group(s) failed, %d entries lost", len(e.Failures), e.LostEntries)
}

// Processor groups normalized records and interprets each group into a
// UniversalTransaction using injected strategies.
type Processor struct {
	grouping      GroupingStrategy
	interpretation InterpretationStrategy
}

// New constructs a Processor from its two strategy slots.
func New(grouping GroupingStrategy, interpretation InterpretationStrategy) *Processor {
	return &Processor{grouping: grouping, interpretation: interpretation}
}

// ProcessGroups groups records, interprets each group, and classifies the
// result. If any group fails, it returns every successfully produced
// UniversalTransaction alongside a non-nil *ProcessError describing every
// failure — callers decide (per the orchestrator's partial-failure policy)
// whether a non-nil error aborts the batch.
func (p *Processor) ProcessGroups(records []domain.NormalizedRecord) ([]domain.UniversalTransaction, error) {
	groups := p.grouping.Group(records)

	var results []domain.UniversalTransaction
	var failures []GroupFailure
	lostEntries := 0

	for _, group := range groups {
		tx, err := p.processGroup(group)
		if err != nil {
			correlationID := ""
			if len(group) > 0 {
				correlationID = group[0].CorrelationID
			}
			failures = append(failures, GroupFailure{CorrelationID: correlationID, EntryCount: len(group), Err: err})
			lostEntries += len(group)
			continue
		}
		results = append(results, tx)
	}

	if len(failures) > 0 {
		return results, &ProcessError{Failures: failures, LostEntries: lostEntries}
	}
	return results, nil
}

func (p *Processor) processGroup(group []domain.NormalizedRecord) (domain.UniversalTransaction, error) {
	if len(group) == 0 {
		return domain.UniversalTransaction{}, fmt.Errorf("empty group")
	}

	inflowTotals := newAssetTotals()
	outflowTotals := newAssetTotals()
	networkFeeTotals := newAssetTotals()

	for _, record := range group {
		contribution, err := p.interpretation.Interpret(record)
		if err != nil {
			return domain.UniversalTransaction{}, fmt.Errorf("interpreting record %s: %w", record.ExternalID, err)
		}
		for _, in := range contribution.Inflows {
			if err := inflowTotals.add(in); err != nil {
				return domain.UniversalTransaction{}, err
			}
		}
		for _, out := range contribution.Outflows {
			if err := outflowTotals.add(out); err != nil {
				return domain.UniversalTransaction{}, err
			}
		}
		for _, fee := range contribution.Fees {
			if err := networkFeeTotals.add(fee); err != nil {
				return domain.UniversalTransaction{}, err
			}
		}
	}

	inflows := inflowTotals.toList()
	outflows := outflowTotals.toList()
	fees := networkFeeTotals.toList()

	representative := group[0]

	primary, err := selectPrimary(inflows, outflows, representative.Asset)
	if err != nil {
		return domain.UniversalTransaction{}, err
	}

	category, opType, note := classify(inflows, outflows, fees)

	return domain.UniversalTransaction{
		ID:            representative.ExternalID,
		SourceID:      representative.ProviderID,
		Status:        domain.UniversalStatusOK,
		Timestamp:     representative.Timestamp,
		Inflows:       inflows,
		Outflows:      outflows,
		Primary:       primary,
		Fees:          domain.Fees{Network: fees},
		Category:      category,
		OperationType: opType,
		ClassificationNote: note,
	}, nil
}

// selectPrimary picks the largest-magnitude inflow; if none, the
// largest-magnitude outflow; otherwise a neutral zero-amount movement in
// representativeAsset (the group's first record's asset).
func selectPrimary(inflows, outflows []domain.AssetAmount, representativeAsset string) (domain.Movement, error) {
	if len(inflows) > 0 {
		largest, err := largestMagnitude(inflows)
		if err != nil {
			return domain.Movement{}, err
		}
		return domain.Movement{Asset: largest.Asset, Amount: largest.Amount, Direction: domain.MovementIn}, nil
	}
	if len(outflows) > 0 {
		largest, err := largestMagnitude(outflows)
		if err != nil {
			return domain.Movement{}, err
		}
		return domain.Movement{Asset: largest.Asset, Amount: largest.Amount, Direction: domain.MovementOut}, nil
	}
	return domain.Movement{Asset: representativeAsset, Amount: "0", Direction: domain.MovementNeutral}, nil
}

func largestMagnitude(amounts []domain.AssetAmount) (domain.AssetAmount, error) {
	best := amounts[0]
	bestDec, err := money.DecimalFromString(best.Amount)
	if err != nil {
		return domain.AssetAmount{}, fmt.Errorf("parsing amount %q: %w", best.Amount, err)
	}
	for _, candidate := range amounts[1:] {
		dec, err := money.DecimalFromString(candidate.Amount)
		if err != nil {
			return domain.AssetAmount{}, fmt.Errorf("parsing amount %q: %w", candidate.Amount, err)
		}
		if dec.Abs().Compare(bestDec.Abs()) > 0 {
			best, bestDec = candidate, dec
		}
	}
	return best, nil
}

// classify applies the classification decision table by (outflow count, inflow
// count, asset relation). It does not set the primary direction. The ">1 on
// either side" catch-all always lands on transfer/transfer with a
// classification_uncertain note, matching the table's final row.
func classify(inflows, outflows, fees []domain.AssetAmount) (domain.Category, domain.OperationType, string) {
	switch {
	case len(outflows) == 1 && len(inflows) == 1 && outflows[0].Asset != inflows[0].Asset:
		return domain.CategoryTrade, domain.OperationSwap, ""
	case len(outflows) == 0 && len(inflows) >= 1:
		return domain.CategoryTransfer, domain.OperationDeposit, ""
	case len(outflows) >= 1 && len(inflows) == 0:
		return domain.CategoryTransfer, domain.OperationWithdrawal, ""
	case len(outflows) == 1 && len(inflows) == 1 && outflows[0].Asset == inflows[0].Asset:
		return domain.CategoryTransfer, domain.OperationTransfer, ""
	case len(outflows) == 0 && len(inflows) == 0 && len(fees) > 0:
		return domain.CategoryFee, domain.OperationFee, ""
	default:
		return domain.CategoryTransfer, domain.OperationTransfer, "classification_uncertain"
	}
}

// assetTotals collapses duplicate (asset, amount) contributions into a
// single total per asset.
type assetTotals struct {
	order  []string
	totals map[string]money.Decimal
}

func newAssetTotals() *assetTotals {
	return &assetTotals{totals: make(map[string]money.Decimal)}
}

func (a *assetTotals) add(amount domain.AssetAmount) error {
	dec, err := money.DecimalFromString(amount.Amount)
	if err != nil {
		return fmt.Errorf("parsing amount %q for %s: %w", amount.Amount, amount.Asset, err)
	}
	existing, ok := a.totals[amount.Asset]
	if !ok {
		a.order = append(a.order, amount.Asset)
		a.totals[amount.Asset] = dec
		return nil
	}
	a.totals[amount.Asset] = existing.Add(dec)
	return nil
}

func (a *assetTotals) toList() []domain.AssetAmount {
	out := make([]domain.AssetAmount, 0, len(a.order))
	for _, asset := range a.order {
		total := a.totals[asset]
		if total.IsZero() {
			continue
		}
		out = append(out, domain.AssetAmount{Asset: asset, Amount: total.String()})
	}
	return out
}
