package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"

	"github.com/emberwallet/vaultd/internal/vaultcrypto"
)

// ExportFormatVersion is the bundle format version.
const ExportFormatVersion = 1

// ExportBundle is the portable backup envelope. Payload is the document
// JSON with every seed blob still sealed; the MAC binds the payload to
// a key derived from the export password and the bundle salt.
type ExportBundle struct {
	FormatVersion int    `cbor:"format_version"`
	Namespace     string `cbor:"namespace"`
	Salt          []byte `cbor:"salt"`
	Payload       []byte `cbor:"payload"`
	MAC           []byte `cbor:"mac"`
	CreatedAt     int64  `cbor:"created_at"`
}

func exportMAC(key, payload []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return h.Sum(nil)
}

// ExportData serializes the whole document into a MAC-protected CBOR
// bundle. Seed phrases are never re-encrypted; they leave exactly as
// stored.
func (s *Store) ExportData(password, exportPassword []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadDocumentLocked(password)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode export payload: %w", err)
	}

	salt, err := vaultcrypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	key, err := vaultcrypto.DeriveKey(exportPassword, salt, vaultcrypto.CurrentVersion)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	bundle := ExportBundle{
		FormatVersion: ExportFormatVersion,
		Namespace:     s.namespace,
		Salt:          salt,
		Payload:       payload,
		MAC:           exportMAC(key, payload),
		CreatedAt:     s.nowMillis(),
	}
	out, err := cbor.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to encode export bundle: %w", err)
	}

	log.Info().Str("namespace", s.namespace).Int("wallets", len(doc.Wallets)).Msg("vault exported")
	return out, nil
}

// ImportData verifies and restores an export bundle, replacing the
// current document. The restored document is re-encrypted under the
// local password; individual seed blobs keep the password they were
// sealed with.
func (s *Store) ImportData(raw, exportPassword, password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bundle ExportBundle
	if err := cbor.Unmarshal(raw, &bundle); err != nil {
		return fmt.Errorf("%w: not a valid export bundle", ErrCorrupted)
	}
	if bundle.FormatVersion != ExportFormatVersion {
		return fmt.Errorf("%w: unsupported bundle version %d", ErrCorrupted, bundle.FormatVersion)
	}
	if len(bundle.Salt) != vaultcrypto.SaltSize {
		return fmt.Errorf("%w: bad bundle salt", ErrCorrupted)
	}

	key, err := vaultcrypto.DeriveKey(exportPassword, bundle.Salt, vaultcrypto.CurrentVersion)
	if err != nil {
		return err
	}
	defer key.Zero()

	// A MAC mismatch is a wrong export password or a tampered payload;
	// the two stay indistinguishable.
	if !hmac.Equal(bundle.MAC, exportMAC(key, bundle.Payload)) {
		return vaultcrypto.ErrDecryptionFailed
	}

	var doc Document
	if err := json.Unmarshal(bundle.Payload, &doc); err != nil {
		return fmt.Errorf("%w: bundle payload is not a document", ErrCorrupted)
	}
	if err := doc.validate(); err != nil {
		return err
	}

	if err := s.saveDocumentLocked(&doc, password); err != nil {
		return err
	}
	log.Info().Str("namespace", s.namespace).Int("wallets", len(doc.Wallets)).Msg("vault imported")
	return nil
}
