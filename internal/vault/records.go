// Package vault is the secret store: the authoritative at-rest data
// model and every operation that reads or mutates it. All wallet
// metadata and seed phrases live in one Document, stored as a single
// encrypted value; the auth record is the only plaintext the store
// writes.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/emberwallet/vaultd/internal/hdwallet"
	"github.com/emberwallet/vaultd/internal/vaultcrypto"
)

// DocumentVersion is the data-model version stamped on documents.
const DocumentVersion = "1.0.0"

// AuthRecord is the plaintext password verifier stored under
// <namespace>_auth. It contains no key material usable for decryption;
// the encryption key is derived separately per blob.
type AuthRecord struct {
	Hash      string `json:"hash"` // hex
	Salt      string `json:"salt"` // hex
	CreatedAt int64  `json:"created_at"`
}

// EncryptedDocument is the JSON wire form of a vaultcrypto.Blob with
// hex-encoded fields. A missing version marks pre-upgrade data and is
// read as format version 1.
type EncryptedDocument struct {
	Version int    `json:"version,omitempty"`
	Data    string `json:"data"`
	Salt    string `json:"salt"`
	IV      string `json:"iv"`
	AuthTag string `json:"authTag"`
}

func encryptedDocFromBlob(b *vaultcrypto.Blob) EncryptedDocument {
	return EncryptedDocument{
		Version: b.Version,
		Data:    hex.EncodeToString(b.Ciphertext),
		Salt:    hex.EncodeToString(b.Salt),
		IV:      hex.EncodeToString(b.IV),
		AuthTag: hex.EncodeToString(b.AuthTag),
	}
}

func (d EncryptedDocument) toBlob() (*vaultcrypto.Blob, error) {
	version := d.Version
	if version == 0 {
		version = vaultcrypto.VersionPBKDF2
	}
	data, err := hex.DecodeString(d.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", ErrCorrupted)
	}
	salt, err := hex.DecodeString(d.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: bad salt encoding", ErrCorrupted)
	}
	iv, err := hex.DecodeString(d.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv encoding", ErrCorrupted)
	}
	tag, err := hex.DecodeString(d.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("%w: bad auth tag encoding", ErrCorrupted)
	}
	return &vaultcrypto.Blob{
		Version:    version,
		Ciphertext: data,
		Salt:       salt,
		IV:         iv,
		AuthTag:    tag,
	}, nil
}

// WalletRecord is one derived wallet's metadata. It holds no secrets.
type WalletRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Address        string `json:"address"`
	DerivationPath string `json:"derivation_path"`
	WalletIDHash   string `json:"wallet_id_hash"`
	IsWalletID     bool   `json:"is_wallet_id"`
	ChainID        uint64 `json:"chain_id"`
	CreatedAt      int64  `json:"created_at"`
	IsBackedUp     bool   `json:"is_backed_up"`
}

// SeedPhraseRecord stores one seed phrase, individually encrypted so it
// stays sealed even inside a decrypted document. The wallets derived
// from it are found by scanning WalletRecord.WalletIDHash, never by a
// stored back-reference.
type SeedPhraseRecord struct {
	WalletIDHash    string            `json:"wallet_id_hash"`
	WalletIDAddress string            `json:"wallet_id_address"`
	EncryptedSeed   EncryptedDocument `json:"encrypted_seed"`
	IsBackedUp      bool              `json:"is_backed_up"`
	CreatedAt       int64             `json:"created_at"`
}

// Document is the whole at-rest data model, encrypted as one unit.
type Document struct {
	Wallets     []WalletRecord     `json:"wallets"`
	SeedPhrases []SeedPhraseRecord `json:"seed_phrases"`
	Version     string             `json:"version"`
	LastUpdated int64              `json:"last_updated"` // ms since epoch
}

func newDocument() *Document {
	return &Document{
		Wallets:     []WalletRecord{},
		SeedPhrases: []SeedPhraseRecord{},
		Version:     DocumentVersion,
	}
}

// WalletIDHash fingerprints a seed phrase by its identifying wallet's
// address: hex SHA-256 of the lowercased address.
func WalletIDHash(address string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(address)))
	return hex.EncodeToString(sum[:])
}

const (
	walletNameMinLen = 2
	walletNameMaxLen = 50
)

// ValidateWalletName enforces length and rejects markup and control
// characters.
func ValidateWalletName(name string) error {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < walletNameMinLen || len(trimmed) > walletNameMaxLen {
		return fmt.Errorf("%w: length must be %d-%d characters", ErrInvalidWalletName, walletNameMinLen, walletNameMaxLen)
	}
	if strings.ContainsAny(trimmed, `<>"'&\`) {
		return fmt.Errorf("%w: forbidden characters", ErrInvalidWalletName)
	}
	for _, r := range trimmed {
		if r < 0x20 {
			return fmt.Errorf("%w: control characters", ErrInvalidWalletName)
		}
	}
	return nil
}

// validate checks every document invariant. It runs before each save
// and after each load, so invalid state is neither written nor trusted.
func (d *Document) validate() error {
	seeds := make(map[string]bool, len(d.SeedPhrases))
	for _, sp := range d.SeedPhrases {
		if sp.WalletIDHash == "" {
			return fmt.Errorf("%w: seed record missing wallet id hash", ErrCorrupted)
		}
		if seeds[sp.WalletIDHash] {
			return fmt.Errorf("%w: duplicate seed record for hash %s", ErrCorrupted, sp.WalletIDHash)
		}
		seeds[sp.WalletIDHash] = true
	}

	paths := make(map[string]bool, len(d.Wallets))
	for _, w := range d.Wallets {
		path, err := hdwallet.ParsePath(w.DerivationPath)
		if err != nil {
			return fmt.Errorf("%w: wallet %s: %v", ErrCorrupted, w.ID, err)
		}
		if err := ValidateWalletName(w.Name); err != nil {
			return fmt.Errorf("%w: wallet %s: %v", ErrCorrupted, w.ID, err)
		}
		if !seeds[w.WalletIDHash] {
			return fmt.Errorf("%w: wallet %s references unknown seed %s", ErrCorrupted, w.ID, w.WalletIDHash)
		}
		if w.IsWalletID != path.IsWalletID() {
			return fmt.Errorf("%w: wallet %s identifying flag disagrees with path %s", ErrCorrupted, w.ID, w.DerivationPath)
		}
		key := w.WalletIDHash + "|" + path.String()
		if paths[key] {
			return fmt.Errorf("%w: duplicate wallet at %s for seed %s", ErrCorrupted, w.DerivationPath, w.WalletIDHash)
		}
		paths[key] = true
	}
	return nil
}

// walletsForSeed returns the wallets referencing one seed record.
func (d *Document) walletsForSeed(walletIDHash string) []WalletRecord {
	var out []WalletRecord
	for _, w := range d.Wallets {
		if w.WalletIDHash == walletIDHash {
			out = append(out, w)
		}
	}
	return out
}
