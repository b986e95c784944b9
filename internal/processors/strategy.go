// Package processors groups normalized, provider-tagged records into
// UniversalTransactions. Two strategy interfaces inject
// exchange-specific behavior: grouping (how records correlate) and
// interpretation (what each record contributes to the group's fund flow).
package processors

import "github.com/jbelanger/exitbook-sub001/internal/domain"

// GroupingStrategy partitions a list of normalized records into correlated
// groups; each group is consolidated into exactly one UniversalTransaction.
type GroupingStrategy interface {
	Group(records []domain.NormalizedRecord) [][]domain.NormalizedRecord
}

// Contribution is one record's addition to its group's fund flow.
type Contribution struct {
	Inflows  []domain.AssetAmount
	Outflows []domain.AssetAmount
	Fees     []domain.AssetAmount
}

// InterpretationStrategy returns one record's contribution to its group.
type InterpretationStrategy interface {
	Interpret(record domain.NormalizedRecord) (Contribution, error)
}
