package blockstream

import (
	"fmt"
	"math/big"
	"time"

	"github.com/jbelanger/exitbook-sub001/internal/domain"
	"github.com/jbelanger/exitbook-sub001/internal/money"
)

func bigFromInt(v int64) *big.Int { return big.NewInt(v) }

// SessionContext carries the set of wallet addresses a mapper needs to
// determine wallet-relative direction for UTXO transactions.
type SessionContext struct {
	WalletAddresses map[string]bool
}

// btcDecimals is Bitcoin's native smallest-unit exponent (satoshis).
const btcDecimals = 8

// vin/vout shapes mirror Esplora's /address/{addr}/txs response.
type txInput struct {
	Prevout struct {
		ScriptPubKeyAddress string  `json:"scriptpubkey_address"`
		Value               float64 `json:"value"`
	} `json:"prevout"`
}

type txOutput struct {
	ScriptPubKeyAddress string  `json:"scriptpubkey_address"`
	Value               float64 `json:"value"`
}

type rawTx struct {
	TxID    string     `json:"txid"`
	Vin     []txInput  `json:"vin"`
	Vout    []txOutput `json:"vout"`
	Fee     int64      `json:"fee"`
	Status  struct {
		Confirmed   bool  `json:"confirmed"`
		BlockTime   int64 `json:"block_time"`
	} `json:"status"`
}

// MapTransaction computes the wallet-relative net change for one UTXO
// transaction by summing outputs that hit the wallet address set and
// subtracting inputs sourced from that set. Fee is attributed
// to the sending side only. Mappers never perform I/O.
func MapTransaction(raw map[string]any, sc SessionContext) (domain.NormalizedRecord, error) {
	tx, err := decodeRawTx(raw)
	if err != nil {
		return domain.NormalizedRecord{}, &domain.MappingError{ProviderID: Name, Reason: err.Error()}
	}

	var inboundSats, outboundSats int64
	anyInputIsWallet := false
	for _, in := range tx.Vin {
		if sc.WalletAddresses[in.Prevout.ScriptPubKeyAddress] {
			outboundSats += int64(in.Prevout.Value)
			anyInputIsWallet = true
		}
	}
	for _, out := range tx.Vout {
		if sc.WalletAddresses[out.ScriptPubKeyAddress] {
			inboundSats += int64(out.Value)
		}
	}

	net := inboundSats - outboundSats

	direction := "internal_transfer"
	switch {
	case net > 0:
		direction = "transfer_in"
	case net < 0:
		direction = "transfer_out"
	}

	feeSats := int64(0)
	if anyInputIsWallet {
		feeSats = tx.Fee
	}

	amount := money.FromSmallestUnit(bigFromInt(net), btcDecimals)
	fee := money.FromSmallestUnit(bigFromInt(feeSats), btcDecimals)

	ts := time.UnixMilli(tx.Status.BlockTime * 1000)

	return domain.NormalizedRecord{
		ProviderID:    Name,
		CorrelationID: tx.TxID,
		ExternalID:    tx.TxID,
		Timestamp:     ts,
		Asset:         "BTC",
		Amount:        amount.String(),
		FeeAsset:      "BTC",
		FeeAmount:     fee.String(),
		Direction:     direction,
		TxHash:        tx.TxID,
		Raw:           raw,
	}, nil
}

func decodeRawTx(raw map[string]any) (rawTx, error) {
	txid, _ := raw["txid"].(string)
	if txid == "" {
		return rawTx{}, fmt.Errorf("missing txid")
	}
	var tx rawTx
	tx.TxID = txid

	if vin, ok := raw["vin"].([]any); ok {
		for _, v := range vin {
			m, _ := v.(map[string]any)
			var in txInput
			if prevout, ok := m["prevout"].(map[string]any); ok {
				in.Prevout.ScriptPubKeyAddress, _ = prevout["scriptpubkey_address"].(string)
				in.Prevout.Value, _ = prevout["value"].(float64)
			}
			tx.Vin = append(tx.Vin, in)
		}
	}
	if vout, ok := raw["vout"].([]any); ok {
		for _, v := range vout {
			m, _ := v.(map[string]any)
			var out txOutput
			out.ScriptPubKeyAddress, _ = m["scriptpubkey_address"].(string)
			out.Value, _ = m["value"].(float64)
			tx.Vout = append(tx.Vout, out)
		}
	}
	if fee, ok := raw["fee"].(float64); ok {
		tx.Fee = int64(fee)
	}
	if status, ok := raw["status"].(map[string]any); ok {
		if bt, ok := status["block_time"].(float64); ok {
			tx.Status.BlockTime = int64(bt)
		}
		if confirmed, ok := status["confirmed"].(bool); ok {
			tx.Status.Confirmed = confirmed
		}
	}
	return tx, nil
}
