// Package xpub implements the blockchain xpub importer: it derives child
// addresses from an extended public key via gap-limit scanning, then
// dispatches per-address fetches through the address importer,
// deduplicating by provider-reported transaction id.
package xpub

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// Chain discriminates the two conventional BIP32 derivation branches.
type Chain int

const (
	// ChainExternal (m/.../0/i) receives incoming funds.
	ChainExternal Chain = 0
	// ChainInternal (m/.../1/i) is the change branch.
	ChainInternal Chain = 1
)

// DeriveAddress computes the i-th address on the given chain branch of an
// extended public key, per BIP32 non-hardened derivation.
func DeriveAddress(xpubStr string, chain Chain, index uint32) (string, error) {
	key, err := hdkeychain.NewKeyFromString(xpubStr)
	if err != nil {
		return "", fmt.Errorf("xpub: invalid extended key: %w", err)
	}
	if key.IsPrivate() {
		return "", fmt.Errorf("xpub: extended key must be public, not private")
	}

	branchKey, err := key.Derive(uint32(chain))
	if err != nil {
		return "", fmt.Errorf("xpub: deriving chain %d: %w", chain, err)
	}
	childKey, err := branchKey.Derive(index)
	if err != nil {
		return "", fmt.Errorf("xpub: deriving index %d: %w", index, err)
	}

	addr, err := childKey.Address(&chaincfg.MainNetParams)
	if err != nil {
		return "", fmt.Errorf("xpub: computing address: %w", err)
	}
	return addr.EncodeAddress(), nil
}
