// Package kraken implements the Kraken exchange provider: the signed
// private-API client (client.go) and the raw->normalized mapper below.
// The row shape handled here is Kraken's "Ledgers" export/API (refid, time,
// type, asset, amount, fee) but the same field set is what the CSV
// importer's RequiredColumns enforce, so this mapper also serves provider
// id "csv" — a generic signed-ledger-row shape, not a Kraken-only payload.
package kraken

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
)

// Name is the provider id this mapper's canonical home tags records with.
const Name = "kraken"

// MapTransaction normalizes one ledger row. refid groups the two legs of a
// trade (spend + receive) sharing one order; when absent, txid/the row's
// own id is used so each row stands alone.
func MapTransaction(raw map[string]any, providerID string) (domain.NormalizedRecord, error) {
	asset := stringField(raw, "asset")
	if asset == "" {
		return domain.NormalizedRecord{}, &domain.MappingError{ProviderID: providerID, Reason: "missing asset"}
	}
	amountStr := stringField(raw, "amount")
	if amountStr == "" {
		return domain.NormalizedRecord{}, &domain.MappingError{ProviderID: providerID, Reason: "missing amount"}
	}

	ts, err := parseTimestamp(raw)
	if err != nil {
		return domain.NormalizedRecord{}, &domain.MappingError{ProviderID: providerID, Reason: err.Error()}
	}

	externalID := firstNonEmpty(stringField(raw, "txid"), stringField(raw, "id"), stringField(raw, "refid"))
	correlationID := firstNonEmpty(stringField(raw, "refid"), externalID)

	rec := domain.NormalizedRecord{
		ProviderID:    providerID,
		CorrelationID: correlationID,
		ExternalID:    externalID,
		Timestamp:     ts,
		Asset:         normalizeAsset(asset),
		Amount:        amountStr,
		Raw:           raw,
	}

	if feeStr := stringField(raw, "fee"); feeStr != "" && feeStr != "0" {
		rec.FeeAmount = feeStr
		feeAsset := stringField(raw, "fee_asset")
		if feeAsset == "" {
			feeAsset = asset
		}
		rec.FeeAsset = normalizeAsset(feeAsset)
	}

	if ledgerType := stringField(raw, "type"); ledgerType != "" {
		rec.Direction = directionForType(ledgerType, amountStr)
	}

	return rec, nil
}

// directionForType classifies a ledger row's movement by its "type" column
// ("trade", "deposit", "withdrawal", "transfer", ...) falling back to the
// amount's sign for types this mapper doesn't recognize.
func directionForType(ledgerType, amountStr string) string {
	switch strings.ToLower(ledgerType) {
	case "deposit":
		return "transfer_in"
	case "withdrawal":
		return "transfer_out"
	case "trade", "spend", "receive":
		return "trade"
	case "transfer":
		return "internal_transfer"
	}
	if strings.HasPrefix(amountStr, "-") {
		return "transfer_out"
	}
	return "transfer_in"
}

// normalizeAsset strips Kraken's legacy "X"/"Z" asset-code prefixes (XXBT,
// ZUSD, ...) down to a plain ticker.
func normalizeAsset(asset string) string {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	switch asset {
	case "XXBT", "XBT":
		return "BTC"
	case "XETH":
		return "ETH"
	case "ZUSD":
		return "USD"
	case "ZEUR":
		return "EUR"
	}
	return asset
}

func parseTimestamp(raw map[string]any) (time.Time, error) {
	if v, ok := raw["time"]; ok {
		switch t := v.(type) {
		case float64:
			return time.UnixMilli(int64(t * 1000)).UTC(), nil
		case string:
			if unix, err := strconv.ParseFloat(t, 64); err == nil {
				return time.UnixMilli(int64(unix * 1000)).UTC(), nil
			}
			if parsed, err := time.Parse(time.RFC3339, t); err == nil {
				return parsed.UTC(), nil
			}
		}
	}
	if v := stringField(raw, "timestamp"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(unix).UTC(), nil
		}
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable or missing timestamp")
}

func stringField(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
