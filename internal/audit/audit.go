package audit

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/emberwallet/vaultd/internal/storage"
	"github.com/emberwallet/vaultd/internal/vaultcrypto"
)

// Severity levels for report issues.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// Issue is one concrete finding with a suggested fix.
type Issue struct {
	Severity    string
	Category    string
	Description string
	Remediation string
}

// Report is the outcome of a self-check run. Passed is false only when
// at least one issue (not warning) was found.
type Report struct {
	Passed          bool
	Issues          []Issue
	Warnings        []string
	Recommendations []string
}

func (r *Report) issue(severity, category, description, remediation string) {
	r.Issues = append(r.Issues, Issue{
		Severity:    severity,
		Category:    category,
		Description: description,
		Remediation: remediation,
	})
}

// saltSampleSize is how many salts the uniqueness probe draws.
const saltSampleSize = 100

// Run executes the advisory self-check against the live build and the
// given storage backend. It performs real probes, not static findings:
// a broken RNG, a mis-tuned KDF or an unreachable store all surface
// here before they surface as lost data.
func Run(kv storage.KV) *Report {
	r := &Report{}

	checkRandomness(r)
	checkKDF(r)
	checkAEAD(r)
	checkStorage(r, kv)

	r.Recommendations = append(r.Recommendations,
		"export a backup bundle after adding a seed phrase",
		"verify seed phrase backups offline before relying on them",
	)

	r.Passed = len(r.Issues) == 0
	log.Info().Bool("passed", r.Passed).Int("issues", len(r.Issues)).Int("warnings", len(r.Warnings)).Msg("self-check complete")
	return r
}

func checkRandomness(r *Report) {
	seen := make(map[string]bool, saltSampleSize)
	for i := 0; i < saltSampleSize; i++ {
		salt, err := vaultcrypto.GenerateSalt()
		if err != nil {
			r.issue(SeverityCritical, "randomness",
				"secure random source is unavailable",
				"do not use the vault on this system until crypto/rand works")
			return
		}
		key := hex.EncodeToString(salt)
		if seen[key] {
			r.issue(SeverityCritical, "randomness",
				fmt.Sprintf("duplicate salt in a sample of %d", saltSampleSize),
				"the random source is broken; stop and investigate")
			return
		}
		seen[key] = true
	}
}

func checkKDF(r *Report) {
	if vaultcrypto.Argon2Time < 3 {
		r.issue(SeverityHigh, "kdf",
			fmt.Sprintf("Argon2id time parameter %d is below the floor of 3", vaultcrypto.Argon2Time),
			"rebuild with a compliant KDF configuration")
	}
	if vaultcrypto.Argon2Memory < 64*1024 {
		r.issue(SeverityHigh, "kdf",
			fmt.Sprintf("Argon2id memory parameter %d KiB is below the floor of 64 MiB", vaultcrypto.Argon2Memory),
			"rebuild with a compliant KDF configuration")
	}

	salt, err := vaultcrypto.GenerateSalt()
	if err != nil {
		return // already reported by checkRandomness
	}
	password := []byte("self-check probe")
	k1, err1 := vaultcrypto.DeriveKey(password, salt, vaultcrypto.CurrentVersion)
	k2, err2 := vaultcrypto.DeriveKey(password, salt, vaultcrypto.CurrentVersion)
	if err1 != nil || err2 != nil || !bytes.Equal(k1, k2) {
		r.issue(SeverityCritical, "kdf",
			"key derivation is not deterministic for fixed inputs",
			"stop and investigate; stored data may be unrecoverable")
	}
	k1.Zero()
	k2.Zero()
}

func checkAEAD(r *Report) {
	password := []byte("self-check probe")
	plaintext := []byte("aead round trip probe")

	blob, err := vaultcrypto.Encrypt(plaintext, password)
	if err != nil {
		r.issue(SeverityCritical, "encryption", "encryption probe failed: "+err.Error(),
			"stop and investigate before storing secrets")
		return
	}
	got, err := vaultcrypto.Decrypt(blob, password)
	if err != nil || !bytes.Equal(got, plaintext) {
		r.issue(SeverityCritical, "encryption", "decryption probe did not round-trip",
			"stop and investigate before storing secrets")
		return
	}

	blob.Ciphertext[0] ^= 0x01
	if _, err := vaultcrypto.Decrypt(blob, password); err == nil {
		r.issue(SeverityCritical, "encryption", "tampered ciphertext decrypted without error",
			"authenticated encryption is not functioning; stop immediately")
	}
}

func checkStorage(r *Report, kv storage.KV) {
	if kv == nil {
		r.Warnings = append(r.Warnings, "no storage backend supplied; storage checks skipped")
		return
	}

	const probeKey = "_audit_probe"
	if err := kv.Put(probeKey, []byte("ok")); err != nil {
		r.issue(SeverityHigh, "storage", "storage write probe failed: "+err.Error(),
			"check the database path and permissions")
		return
	}
	got, err := kv.Get(probeKey)
	if err != nil || !bytes.Equal(got, []byte("ok")) {
		r.issue(SeverityHigh, "storage", "storage read probe failed",
			"check the database path and permissions")
	}
	if err := kv.Delete(probeKey); err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		r.Warnings = append(r.Warnings, "storage delete probe failed: "+err.Error())
	}

	if counter, ok := kv.(interface{ WriteCounter() int64 }); ok {
		if counter.WriteCounter() <= 0 {
			r.Warnings = append(r.Warnings, "write counter is zero; the store has no recorded mutations")
		}
	} else {
		r.Warnings = append(r.Warnings, "storage backend has no write counter; rollback tampering is undetectable")
	}
}
