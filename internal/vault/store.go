package vault

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/emberwallet/vaultd/internal/hdwallet"
	"github.com/emberwallet/vaultd/internal/storage"
	"github.com/emberwallet/vaultd/internal/vaultcrypto"
)

// Store is the single owner of the vault's persisted state. Every
// mutation runs load-decrypt-mutate-validate-encrypt-put under one
// mutex; a failure at any step leaves the stored document untouched.
type Store struct {
	kv        storage.KV
	namespace string
	now       func() time.Time

	mu sync.Mutex
}

func New(kv storage.KV, namespace string) *Store {
	return &Store{kv: kv, namespace: namespace, now: time.Now}
}

func (s *Store) authKey() string { return s.namespace + "_auth" }
func (s *Store) dataKey() string { return s.namespace + "_data" }

// Namespace returns the storage namespace this store owns.
func (s *Store) Namespace() string { return s.namespace }

func (s *Store) nowMillis() int64 { return s.now().UnixMilli() }

// IsSetupComplete reports whether a password has been configured.
func (s *Store) IsSetupComplete() (bool, error) {
	_, err := s.kv.Get(s.authKey())
	if err == storage.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read auth record: %w", err)
	}
	return true, nil
}

// SetupPassword establishes the vault password and writes an empty
// encrypted document. It refuses to run twice: overwriting the auth
// record would strand everything encrypted under the old password.
func (s *Store) SetupPassword(password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	done, err := s.IsSetupComplete()
	if err != nil {
		return err
	}
	if done {
		return ErrAlreadySetUp
	}

	hash, salt, err := vaultcrypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	record := AuthRecord{
		Hash:      hex.EncodeToString(hash),
		Salt:      hex.EncodeToString(salt),
		CreatedAt: s.nowMillis(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode auth record: %w", err)
	}

	// Write the empty document first so a crash between the two puts
	// never leaves a verifiable password with no data key.
	if err := s.saveDocumentLocked(newDocument(), password); err != nil {
		return err
	}
	if err := s.kv.Put(s.authKey(), raw); err != nil {
		return fmt.Errorf("failed to store auth record: %w", err)
	}

	log.Info().Str("namespace", s.namespace).Msg("vault password configured")
	return nil
}

// VerifyPassword reports whether password matches the stored verifier.
// It never returns an error: a missing or unreadable auth record is a
// failed verification.
func (s *Store) VerifyPassword(password []byte) bool {
	record, err := s.loadAuthRecord()
	if err != nil {
		return false
	}
	hash, err := hex.DecodeString(record.Hash)
	if err != nil {
		return false
	}
	salt, err := hex.DecodeString(record.Salt)
	if err != nil {
		return false
	}
	return vaultcrypto.VerifyPassword(password, hash, salt)
}

func (s *Store) loadAuthRecord() (*AuthRecord, error) {
	raw, err := s.kv.Get(s.authKey())
	if err == storage.ErrKeyNotFound {
		return nil, ErrNotSetUp
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read auth record: %w", err)
	}
	var record AuthRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("%w: bad auth record", ErrCorrupted)
	}
	return &record, nil
}

func (s *Store) loadDocumentLocked(password []byte) (*Document, error) {
	raw, err := s.kv.Get(s.dataKey())
	if err == storage.ErrKeyNotFound {
		return nil, ErrNotSetUp
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	var enc EncryptedDocument
	if err := json.Unmarshal(raw, &enc); err != nil {
		return nil, fmt.Errorf("%w: bad encrypted document", ErrCorrupted)
	}
	blob, err := enc.toBlob()
	if err != nil {
		return nil, err
	}

	plaintext, err := vaultcrypto.Decrypt(blob, password)
	if err != nil {
		return nil, err
	}
	defer vaultcrypto.Zeroize(plaintext)

	var doc Document
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return nil, fmt.Errorf("%w: document is not valid JSON", ErrCorrupted)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) saveDocumentLocked(doc *Document, password []byte) error {
	if err := doc.validate(); err != nil {
		return err
	}
	doc.LastUpdated = s.nowMillis()
	if doc.Version == "" {
		doc.Version = DocumentVersion
	}

	plaintext, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	defer vaultcrypto.Zeroize(plaintext)

	blob, err := vaultcrypto.Encrypt(plaintext, password)
	if err != nil {
		return fmt.Errorf("failed to encrypt document: %w", err)
	}
	raw, err := json.Marshal(encryptedDocFromBlob(blob))
	if err != nil {
		return fmt.Errorf("failed to encode encrypted document: %w", err)
	}
	if err := s.kv.Put(s.dataKey(), raw); err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

// mutate runs fn against the decrypted document and persists the
// result as one critical section.
func (s *Store) mutate(password []byte, fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadDocumentLocked(password)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.saveDocumentLocked(doc, password)
}

// LoadWallets returns all wallet records.
func (s *Store) LoadWallets(password []byte) ([]WalletRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadDocumentLocked(password)
	if err != nil {
		return nil, err
	}
	return doc.Wallets, nil
}

// SaveWallets replaces the wallet list wholesale. The new list must
// still satisfy every document invariant.
func (s *Store) SaveWallets(wallets []WalletRecord, password []byte) error {
	return s.mutate(password, func(doc *Document) error {
		doc.Wallets = wallets
		return nil
	})
}

// LoadSeedPhrases returns all seed records, seeds still encrypted.
func (s *Store) LoadSeedPhrases(password []byte) ([]SeedPhraseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadDocumentLocked(password)
	if err != nil {
		return nil, err
	}
	return doc.SeedPhrases, nil
}

// SaveSeedPhrases replaces the seed record list wholesale.
func (s *Store) SaveSeedPhrases(seeds []SeedPhraseRecord, password []byte) error {
	return s.mutate(password, func(doc *Document) error {
		doc.SeedPhrases = seeds
		return nil
	})
}

// SaveEncryptedSeedPhrase encrypts mnemonic and upserts the seed record
// keyed by the hash of walletIDAddress. Re-saving the same seed
// replaces the record instead of duplicating it.
func (s *Store) SaveEncryptedSeedPhrase(mnemonic, password []byte, walletIDAddress string) error {
	blob, err := vaultcrypto.Encrypt(mnemonic, password)
	if err != nil {
		return fmt.Errorf("failed to encrypt seed phrase: %w", err)
	}
	hash := WalletIDHash(walletIDAddress)

	return s.mutate(password, func(doc *Document) error {
		record := SeedPhraseRecord{
			WalletIDHash:    hash,
			WalletIDAddress: walletIDAddress,
			EncryptedSeed:   encryptedDocFromBlob(blob),
			CreatedAt:       s.nowMillis(),
		}
		for i, sp := range doc.SeedPhrases {
			if sp.WalletIDHash == hash {
				record.IsBackedUp = sp.IsBackedUp
				record.CreatedAt = sp.CreatedAt
				doc.SeedPhrases[i] = record
				log.Info().Str("wallet_id_hash", hash).Msg("seed phrase replaced")
				return nil
			}
		}
		doc.SeedPhrases = append(doc.SeedPhrases, record)
		log.Info().Str("wallet_id_hash", hash).Msg("seed phrase stored")
		return nil
	})
}

// DecryptSeedPhrase returns the plaintext mnemonic for one seed record.
// The caller must zeroize the result.
func (s *Store) DecryptSeedPhrase(walletIDHash string, password []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadDocumentLocked(password)
	if err != nil {
		return nil, err
	}
	for _, sp := range doc.SeedPhrases {
		if sp.WalletIDHash == walletIDHash {
			blob, err := sp.EncryptedSeed.toBlob()
			if err != nil {
				return nil, err
			}
			return vaultcrypto.Decrypt(blob, password)
		}
	}
	return nil, ErrSeedNotFound
}

// AddWallet validates and appends one wallet record. A missing ID is
// assigned.
func (s *Store) AddWallet(w WalletRecord, password []byte) (*WalletRecord, error) {
	path, err := hdwallet.ParsePath(w.DerivationPath)
	if err != nil {
		return nil, err
	}
	if err := ValidateWalletName(w.Name); err != nil {
		return nil, err
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.IsWalletID = path.IsWalletID()
	if w.CreatedAt == 0 {
		w.CreatedAt = s.nowMillis()
	}

	err = s.mutate(password, func(doc *Document) error {
		for _, existing := range doc.Wallets {
			if existing.WalletIDHash == w.WalletIDHash && existing.DerivationPath == w.DerivationPath {
				return ErrWalletExists
			}
		}
		doc.Wallets = append(doc.Wallets, w)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("wallet_id", w.ID).Str("path", w.DerivationPath).Msg("wallet added")
	return &w, nil
}

// DeleteWallet removes one wallet. Deleting the identifying wallet of a
// seed removes the seed record and every wallet derived from it, and
// only runs when cascade is set.
func (s *Store) DeleteWallet(walletID string, cascade bool, password []byte) error {
	return s.mutate(password, func(doc *Document) error {
		var target *WalletRecord
		for i := range doc.Wallets {
			if doc.Wallets[i].ID == walletID {
				target = &doc.Wallets[i]
				break
			}
		}
		if target == nil {
			return ErrWalletNotFound
		}

		if !target.IsWalletID {
			kept := doc.Wallets[:0]
			for _, w := range doc.Wallets {
				if w.ID != walletID {
					kept = append(kept, w)
				}
			}
			doc.Wallets = kept
			log.Info().Str("wallet_id", walletID).Msg("wallet deleted")
			return nil
		}

		if !cascade {
			return ErrCascadeRequired
		}
		hash := target.WalletIDHash

		keptWallets := doc.Wallets[:0]
		removed := 0
		for _, w := range doc.Wallets {
			if w.WalletIDHash == hash {
				removed++
				continue
			}
			keptWallets = append(keptWallets, w)
		}
		doc.Wallets = keptWallets

		keptSeeds := doc.SeedPhrases[:0]
		for _, sp := range doc.SeedPhrases {
			if sp.WalletIDHash != hash {
				keptSeeds = append(keptSeeds, sp)
			}
		}
		doc.SeedPhrases = keptSeeds

		log.Info().Str("wallet_id", walletID).Int("wallets_removed", removed).Msg("seed and derived wallets deleted")
		return nil
	})
}

// WalletsForSeed returns the wallets derived from one seed, computed
// from wallet records rather than a stored back-reference.
func (s *Store) WalletsForSeed(walletIDHash string, password []byte) ([]WalletRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadDocumentLocked(password)
	if err != nil {
		return nil, err
	}
	return doc.walletsForSeed(walletIDHash), nil
}

// ClearAllData deletes every key in this store's namespace. The caller
// is responsible for confirmation; this is unrecoverable.
func (s *Store) ClearAllData() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.kv.Keys(s.namespace + "_")
	if err != nil {
		return fmt.Errorf("failed to list namespace keys: %w", err)
	}
	for _, key := range keys {
		if err := s.kv.Delete(key); err != nil && err != storage.ErrKeyNotFound {
			return fmt.Errorf("failed to delete %q: %w", key, err)
		}
	}
	log.Warn().Str("namespace", s.namespace).Int("keys", len(keys)).Msg("all vault data cleared")
	return nil
}
