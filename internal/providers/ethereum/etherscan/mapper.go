package etherscan

import (
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/money"
)

// ethDecimals is Ether's native smallest-unit exponent (wei).
const ethDecimals = 18

// SessionContext carries the single wallet address this mapper evaluates
// direction against.
type SessionContext struct {
	WalletAddress string
}

// MapTransaction normalizes one Etherscan "txlist" or "tokentx" record.
// Amounts arrive as decimal-string smallest units; we parse them into a
// uint256 (the EVM-native 256-bit integer type) before converting to our
// arbitrary-precision representation at the mapper boundary. ERC-20 rows
// carry tokenSymbol/tokenDecimal and are tagged with that asset and scaled
// by its own decimals; plain value transfers are 18-decimal ETH. Gas is
// always denominated in ETH regardless of the transferred asset.
func MapTransaction(raw map[string]any, sc SessionContext) (domain.NormalizedRecord, error) {
	hash, _ := raw["hash"].(string)
	if hash == "" {
		return domain.NormalizedRecord{}, &domain.MappingError{ProviderID: Name, Reason: "missing hash"}
	}

	valueStr, _ := raw["value"].(string)
	value, err := parseUint256(valueStr)
	if err != nil {
		return domain.NormalizedRecord{}, &domain.MappingError{ProviderID: Name, Reason: "invalid value: " + err.Error()}
	}

	asset := "ETH"
	decimals := ethDecimals
	if symbol, _ := raw["tokenSymbol"].(string); symbol != "" {
		asset = strings.ToUpper(strings.TrimSpace(symbol))
		decimals = parseTokenDecimals(raw)
	}

	from, _ := raw["from"].(string)
	to, _ := raw["to"].(string)

	direction := ""
	switch {
	case strings.EqualFold(to, sc.WalletAddress):
		direction = "transfer_in"
	case strings.EqualFold(from, sc.WalletAddress):
		direction = "transfer_out"
	}

	// uint256 is unsigned; the sign is applied on the big.Int side once
	// direction is known.
	amountUnits := value.ToBig()
	if direction == "transfer_out" {
		amountUnits.Neg(amountUnits)
	}
	amount := money.FromSmallestUnit(amountUnits, decimals)

	gasUsed := parseDecimalField(raw, "gasUsed")
	gasPrice := parseDecimalField(raw, "gasPrice")
	feeWei := new(uint256.Int).Mul(gasUsed, gasPrice)
	fee := money.Zero()
	if strings.EqualFold(from, sc.WalletAddress) {
		fee = money.FromSmallestUnit(feeWei.ToBig(), ethDecimals)
	}

	timestamp := parseUnixSeconds(raw, "timeStamp")

	return domain.NormalizedRecord{
		ProviderID:    Name,
		CorrelationID: hash,
		ExternalID:    hash,
		Timestamp:     timestamp,
		Asset:         asset,
		Amount:        amount.String(),
		FeeAsset:      "ETH",
		FeeAmount:     fee.String(),
		Direction:     direction,
		TxHash:        hash,
		Raw:           raw,
	}, nil
}

// parseTokenDecimals reads an ERC-20 row's tokenDecimal field, defaulting
// to 18 when absent or unparseable.
func parseTokenDecimals(raw map[string]any) int {
	switch v := raw["tokenDecimal"].(type) {
	case string:
		if d, err := strconv.Atoi(v); err == nil && d >= 0 {
			return d
		}
	case float64:
		if v >= 0 {
			return int(v)
		}
	}
	return ethDecimals
}

func parseUint256(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func parseDecimalField(raw map[string]any, field string) *uint256.Int {
	s, _ := raw[field].(string)
	v, err := parseUint256(s)
	if err != nil {
		return uint256.NewInt(0)
	}
	return v
}

func parseUnixSeconds(raw map[string]any, field string) time.Time {
	s, _ := raw[field].(string)
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
