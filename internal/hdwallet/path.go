// Package hdwallet covers the hierarchical-deterministic side of the
// wallet: BIP-44 derivation paths, BIP-39 mnemonics and address
// derivation over secp256k1. The secret store treats this package as a
// collaborator; it never persists anything itself.
package hdwallet

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrPathInvalid is returned for any path outside the accepted scheme.
var ErrPathInvalid = errors.New("invalid derivation path")

// hardenedMax bounds account and index: both must fit a hardened child
// number, i.e. be below 2^31.
const hardenedMax = 1 << 31

// pathPattern accepts the Ethereum BIP-44 shape only:
// m/44'/60'/<account>'/<change>/<index>.
var pathPattern = regexp.MustCompile(`^m/44'/60'/(\d+)'/([01])/(\d+)$`)

// Path is a parsed Ethereum BIP-44 derivation path.
type Path struct {
	Account uint32
	Change  uint32 // 0 external, 1 internal
	Index   uint32
}

// WalletIDPath is the path whose wallet identifies its seed phrase.
var WalletIDPath = Path{Account: 0, Change: 0, Index: 0}

// ParsePath parses and validates s. Account and index must be below
// 2^31; change must be 0 or 1.
func ParsePath(s string) (Path, error) {
	m := pathPattern.FindStringSubmatch(s)
	if m == nil {
		return Path{}, fmt.Errorf("%w: %q", ErrPathInvalid, s)
	}

	account, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil || account >= hardenedMax {
		return Path{}, fmt.Errorf("%w: account out of range in %q", ErrPathInvalid, s)
	}
	change, err := strconv.ParseUint(m[2], 10, 32)
	if err != nil {
		return Path{}, fmt.Errorf("%w: %q", ErrPathInvalid, s)
	}
	index, err := strconv.ParseUint(m[3], 10, 32)
	if err != nil || index >= hardenedMax {
		return Path{}, fmt.Errorf("%w: index out of range in %q", ErrPathInvalid, s)
	}

	return Path{
		Account: uint32(account),
		Change:  uint32(change),
		Index:   uint32(index),
	}, nil
}

func (p Path) String() string {
	return fmt.Sprintf("m/44'/60'/%d'/%d/%d", p.Account, p.Change, p.Index)
}

// IsWalletID reports whether p is the seed-identifying path.
func (p Path) IsWalletID() bool {
	return p == WalletIDPath
}

// NextPath returns the lowest unused external path at account 0 given
// the paths already in use under one seed.
func NextPath(used []Path) (Path, error) {
	taken := make(map[uint32]bool, len(used))
	for _, p := range used {
		if p.Account == 0 && p.Change == 0 {
			taken[p.Index] = true
		}
	}
	for i := uint32(0); i < hardenedMax; i++ {
		if !taken[i] {
			return Path{Account: 0, Change: 0, Index: i}, nil
		}
	}
	return Path{}, fmt.Errorf("%w: derivation index space exhausted", ErrPathInvalid)
}
