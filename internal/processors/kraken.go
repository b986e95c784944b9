package processors

import (
	"strings"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/money"
)

// KrakenLedgerInterpretation interprets records shaped like Kraken's
// "Ledgers" export/API: a signed Amount field (positive = credit, negative
// = debit) plus a separate Fee magnitude charged against the same asset.
// Representative of the "signed-amount ledger" interpretation family also
// used by most CSV exchange exports.
type KrakenLedgerInterpretation struct{}

func (KrakenLedgerInterpretation) Interpret(record domain.NormalizedRecord) (Contribution, error) {
	amount, err := money.DecimalFromString(record.Amount)
	if err != nil {
		return Contribution{}, err
	}

	var contribution Contribution
	switch {
	case amount.Sign() > 0:
		contribution.Inflows = append(contribution.Inflows, domain.AssetAmount{Asset: record.Asset, Amount: amount.Abs().String()})
	case amount.Sign() < 0:
		contribution.Outflows = append(contribution.Outflows, domain.AssetAmount{Asset: record.Asset, Amount: amount.Abs().String()})
	}

	if record.FeeAmount != "" {
		fee, err := money.DecimalFromString(record.FeeAmount)
		if err != nil {
			return Contribution{}, err
		}
		if !fee.IsZero() {
			feeAsset := record.FeeAsset
			if feeAsset == "" {
				feeAsset = record.Asset
			}
			contribution.Fees = append(contribution.Fees, domain.AssetAmount{Asset: feeAsset, Amount: fee.Abs().String()})
		}
	}

	return contribution, nil
}

// BlockchainTransferInterpretation interprets UTXO/account-based mapper
// output (Direction already resolved wallet-relative by the mapper) into a
// Contribution, folding the network fee in on the sending side only.
type BlockchainTransferInterpretation struct{}

func (BlockchainTransferInterpretation) Interpret(record domain.NormalizedRecord) (Contribution, error) {
	amount, err := money.DecimalFromString(record.Amount)
	if err != nil {
		return Contribution{}, err
	}

	var contribution Contribution
	isOutbound := strings.HasSuffix(record.Direction, "_out")
	switch {
	case amount.Sign() > 0:
		contribution.Inflows = append(contribution.Inflows, domain.AssetAmount{Asset: record.Asset, Amount: amount.Abs().String()})
	case amount.Sign() < 0:
		contribution.Outflows = append(contribution.Outflows, domain.AssetAmount{Asset: record.Asset, Amount: amount.Abs().String()})
	}

	if isOutbound && record.FeeAmount != "" {
		fee, err := money.DecimalFromString(record.FeeAmount)
		if err != nil {
			return Contribution{}, err
		}
		if !fee.IsZero() {
			contribution.Fees = append(contribution.Fees, domain.AssetAmount{Asset: record.FeeAsset, Amount: fee.Abs().String()})
		}
	}

	return contribution, nil
}
