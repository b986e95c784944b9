package processors

import "github.com/jbelanger/exitbook-sub001/internal/domain"

// ByCorrelationID groups records sharing the same CorrelationID (e.g. an
// exchange order id, or a blockchain tx hash).
type ByCorrelationID struct{}

func (ByCorrelationID) Group(records []domain.NormalizedRecord) [][]domain.NormalizedRecord {
	order := make([]string, 0)
	groups := make(map[string][]domain.NormalizedRecord)
	for _, r := range records {
		key := r.CorrelationID
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}
	out := make([][]domain.NormalizedRecord, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	return out
}

// ByTimestampAndOrderID groups records sharing the same (timestamp,
// order id) pair, for exchanges whose CSV/API export ties fills together
// only via that combination rather than a single correlation id.
type ByTimestampAndOrderID struct{}

func (ByTimestampAndOrderID) Group(records []domain.NormalizedRecord) [][]domain.NormalizedRecord {
	type key struct {
		ts      int64
		orderID string
	}
	order := make([]key, 0)
	groups := make(map[key][]domain.NormalizedRecord)
	for _, r := range records {
		k := key{ts: r.Timestamp.UnixMilli(), orderID: r.OrderID}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}
	out := make([][]domain.NormalizedRecord, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}

// NoGrouping puts each record in its own single-element group.
type NoGrouping struct{}

func (NoGrouping) Group(records []domain.NormalizedRecord) [][]domain.NormalizedRecord {
	out := make([][]domain.NormalizedRecord, 0, len(records))
	for _, r := range records {
		out = append(out, []domain.NormalizedRecord{r})
	}
	return out
}
