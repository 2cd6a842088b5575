// Package vaultcrypto implements the wallet's secret-storage primitives:
// password-based key derivation, AES-256-GCM authenticated encryption and
// password hashing with constant-time verification.
//
// The key derivation function and its parameters are versioned. A Blob
// records the format version it was encrypted under, and Decrypt selects
// the matching KDF, so parameter upgrades never strand old data. New
// encryptions always use CurrentVersion.
package vaultcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the KDF salt length in bytes.
	SaltSize = 32
	// IVSize is the AES-GCM nonce length in bytes.
	IVSize = 12
	// TagSize is the AES-GCM authentication tag length in bytes.
	TagSize = 16
	// KeySize is the derived symmetric key length (AES-256).
	KeySize = 32
)

// Format versions. Each version pins an exact KDF and parameter set.
const (
	// VersionPBKDF2 is the legacy format: PBKDF2-HMAC-SHA256, 100k
	// iterations. Decrypt-only, kept so old exports still import.
	VersionPBKDF2 = 1

	// VersionArgon2id is the current format: Argon2id, time=4,
	// memory=128MiB, parallelism=2.
	VersionArgon2id = 2

	// CurrentVersion is the version stamped on all new encryptions.
	CurrentVersion = VersionArgon2id
)

// Argon2id parameters for VersionArgon2id. Changing any of these
// requires a new format version. Exported so the audit module can
// assert its parameter floors against the build.
const (
	Argon2Time    = 4
	Argon2Memory  = 128 * 1024 // KiB, 128 MiB
	Argon2Threads = 2
)

// pbkdf2Iterations is fixed for VersionPBKDF2.
const pbkdf2Iterations = 100_000

var (
	// ErrDecryptionFailed covers both a wrong password and tampered or
	// malformed data. Callers must not present the two differently.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrRandomnessUnavailable means the secure random source failed.
	// There is no fallback; the operation is fatal.
	ErrRandomnessUnavailable = errors.New("secure random source unavailable")

	// ErrUnknownVersion means a blob claims a format version this build
	// does not know how to decrypt.
	ErrUnknownVersion = errors.New("unknown encryption format version")
)

// Blob is an authenticated-encryption result: everything needed to
// decrypt except the password.
type Blob struct {
	Version    int
	Ciphertext []byte
	Salt       []byte // SaltSize bytes
	IV         []byte // IVSize bytes, unique per encryption
	AuthTag    []byte // TagSize bytes
}

// GenerateSalt returns SaltSize cryptographically random bytes.
func GenerateSalt() ([]byte, error) {
	return randomBytes(SaltSize)
}

// GenerateIV returns IVSize cryptographically random bytes.
func GenerateIV() ([]byte, error) {
	return randomBytes(IVSize)
}

// GenerateToken returns n random bytes for session identifiers and
// similar non-key uses.
func GenerateToken(n int) ([]byte, error) {
	return randomBytes(n)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomnessUnavailable, err)
	}
	return b, nil
}

// DeriveKey stretches password with salt into a KeySize symmetric key
// using the KDF pinned by version. Deterministic for fixed inputs.
// The caller owns the returned key and must Zero it after use.
func DeriveKey(password, salt []byte, version int) (Sensitive, error) {
	switch version {
	case VersionArgon2id:
		key := argon2.IDKey(password, salt, Argon2Time, Argon2Memory, Argon2Threads, KeySize)
		return Sensitive(key), nil
	case VersionPBKDF2:
		key := pbkdf2.Key(password, salt, pbkdf2Iterations, KeySize, sha256.New)
		return Sensitive(key), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
}

// Encrypt seals plaintext under a key derived from password, with a
// fresh salt and IV, using AES-256-GCM at CurrentVersion. Binary
// plaintext round-trips exactly.
func Encrypt(plaintext, password []byte) (*Blob, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	iv, err := GenerateIV()
	if err != nil {
		return nil, err
	}

	key, err := DeriveKey(password, salt, CurrentVersion)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	sealed, err := sealWithKey(key, iv, plaintext)
	if err != nil {
		return nil, err
	}

	// GCM appends the tag; the at-rest format keeps it separate.
	split := len(sealed) - TagSize
	return &Blob{
		Version:    CurrentVersion,
		Ciphertext: sealed[:split],
		Salt:       salt,
		IV:         iv,
		AuthTag:    sealed[split:],
	}, nil
}

// Decrypt opens a Blob with the key derived from password under the
// blob's recorded format version. Any failure - wrong password, flipped
// bit, truncated field - surfaces as ErrDecryptionFailed. The internal
// cause is logged at debug level only.
func Decrypt(b *Blob, password []byte) ([]byte, error) {
	if b == nil || len(b.Salt) != SaltSize || len(b.IV) != IVSize || len(b.AuthTag) != TagSize {
		log.Debug().Msg("decrypt rejected malformed blob shape")
		return nil, ErrDecryptionFailed
	}

	key, err := DeriveKey(password, b.Salt, b.Version)
	if err != nil {
		log.Debug().Err(err).Msg("decrypt key derivation failed")
		return nil, ErrDecryptionFailed
	}
	defer key.Zero()

	sealed := make([]byte, 0, len(b.Ciphertext)+TagSize)
	sealed = append(sealed, b.Ciphertext...)
	sealed = append(sealed, b.AuthTag...)

	plaintext, err := openWithKey(key, b.IV, sealed)
	if err != nil {
		// Wrong password and corrupted data are indistinguishable
		// here by design; do not propagate the distinction.
		log.Debug().Err(err).Int("version", b.Version).Msg("AEAD open failed")
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// HashPassword derives a verifier hash for password under a fresh salt
// at CurrentVersion parameters.
func HashPassword(password []byte) (hash, salt []byte, err error) {
	salt, err = GenerateSalt()
	if err != nil {
		return nil, nil, err
	}
	key, err := DeriveKey(password, salt, CurrentVersion)
	if err != nil {
		return nil, nil, err
	}
	return []byte(key), salt, nil
}

// VerifyPassword recomputes the hash for password and compares it to
// the stored hash in constant time.
func VerifyPassword(password, hash, salt []byte) bool {
	key, err := DeriveKey(password, salt, CurrentVersion)
	if err != nil {
		return false
	}
	defer key.Zero()
	return ConstantTimeEqual(key, hash)
}

// ConstantTimeEqual compares two byte slices without leaking the
// position of the first difference through timing.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

func sealWithKey(key Sensitive, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

func openWithKey(key Sensitive, iv, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead.Open(nil, iv, sealed, nil)
}
