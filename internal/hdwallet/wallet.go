package hdwallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/sha3"
)

// ErrMnemonicInvalid is returned for mnemonics failing word-count or
// checksum validation.
var ErrMnemonicInvalid = errors.New("invalid mnemonic")

// Derived is the result of deriving one wallet from a seed.
type Derived struct {
	Address    string // lowercase 0x-prefixed Ethereum address
	PrivateKey []byte // 32 bytes, caller must zeroize
}

// Deriver abstracts mnemonic and key derivation so the store and CLI
// can be tested without real entropy.
type Deriver interface {
	GenerateMnemonic() (string, error)
	ValidateMnemonic(mnemonic string) bool
	MnemonicToSeed(mnemonic string) ([]byte, error)
	Derive(seed []byte, path Path) (*Derived, error)
}

// HDDeriver implements Deriver with BIP-39 mnemonics and BIP-32
// derivation over secp256k1.
type HDDeriver struct{}

// GenerateMnemonic produces a 12-word mnemonic from 128 bits of entropy.
func (HDDeriver) GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to build mnemonic: %w", err)
	}
	return mnemonic, nil
}

func (HDDeriver) ValidateMnemonic(mnemonic string) bool {
	return CheckMnemonic(mnemonic).Valid
}

// MnemonicToSeed converts a validated mnemonic to its 64-byte BIP-39
// seed with an empty passphrase.
func (HDDeriver) MnemonicToSeed(mnemonic string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMnemonicInvalid, err)
	}
	return seed, nil
}

// Derive walks the BIP-32 tree from seed along path and returns the
// Ethereum address and private key at the leaf.
func (HDDeriver) Derive(seed []byte, path Path) (*Derived, error) {
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to build master key: %w", err)
	}
	defer master.Zero()

	steps := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + path.Account,
		path.Change,
		path.Index,
	}
	key := master
	for _, step := range steps {
		next, err := key.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s: %w", path, err)
		}
		if key != master {
			key.Zero()
		}
		key = next
	}
	defer func() {
		if key != master {
			key.Zero()
		}
	}()

	var priv *btcec.PrivateKey
	priv, err = key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to extract private key: %w", err)
	}

	return &Derived{
		Address:    PubKeyToAddress(priv.PubKey().SerializeUncompressed()),
		PrivateKey: priv.Serialize(),
	}, nil
}

// PubKeyToAddress converts an uncompressed secp256k1 public key (65
// bytes, 0x04 prefix) to a lowercase Ethereum address: the last 20
// bytes of Keccak-256 over the key without its prefix byte.
func PubKeyToAddress(uncompressed []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:])
	digest := h.Sum(nil)
	return "0x" + hex.EncodeToString(digest[12:])
}

// MnemonicCheck reports validity plus non-fatal observations.
type MnemonicCheck struct {
	Valid     bool
	WordCount int
	Warnings  []string
}

var validWordCounts = map[int]bool{12: true, 15: true, 18: true, 21: true, 24: true}

// CheckMnemonic validates word count, character set and the BIP-39
// checksum, and warns on repeated words.
func CheckMnemonic(mnemonic string) MnemonicCheck {
	words := strings.Fields(strings.TrimSpace(mnemonic))
	check := MnemonicCheck{WordCount: len(words)}

	if !validWordCounts[len(words)] {
		return check
	}
	seen := make(map[string]bool, len(words))
	repeated := false
	for _, w := range words {
		for _, r := range w {
			if r < 'a' || r > 'z' {
				return check
			}
		}
		if seen[w] {
			repeated = true
		}
		seen[w] = true
	}
	if repeated {
		check.Warnings = append(check.Warnings, "mnemonic contains repeated words")
	}

	check.Valid = bip39.IsMnemonicValid(strings.Join(words, " "))
	return check
}
