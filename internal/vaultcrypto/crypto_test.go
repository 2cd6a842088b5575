package vaultcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	password := []byte("correct horse battery staple")
	plaintext := []byte("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")

	blob, err := Encrypt(plaintext, password)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if blob.Version != CurrentVersion {
		t.Errorf("expected version %d, got %d", CurrentVersion, blob.Version)
	}
	if len(blob.Salt) != SaltSize {
		t.Errorf("expected %d-byte salt, got %d", SaltSize, len(blob.Salt))
	}
	if len(blob.IV) != IVSize {
		t.Errorf("expected %d-byte IV, got %d", IVSize, len(blob.IV))
	}
	if len(blob.AuthTag) != TagSize {
		t.Errorf("expected %d-byte tag, got %d", TagSize, len(blob.AuthTag))
	}

	got, err := Decrypt(blob, password)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q", got)
	}
}

func TestEncryptDecryptBinaryPlaintext(t *testing.T) {
	password := []byte("pw")
	plaintext := []byte{0x00, 0xff, 0x80, 0x00, 0x01, 0xfe, 0x00}

	blob, err := Encrypt(plaintext, password)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	got, err := Decrypt(blob, password)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("binary plaintext mangled: got %x, want %x", got, plaintext)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := Encrypt([]byte("secret"), []byte("right"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := Decrypt(blob, []byte("wrong")); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	password := []byte("pw")
	blob, err := Encrypt([]byte("secret payload"), password)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	blob.Ciphertext[0] ^= 0x01
	if _, err := Decrypt(blob, password); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("flipped ciphertext bit: expected ErrDecryptionFailed, got %v", err)
	}
	blob.Ciphertext[0] ^= 0x01

	blob.AuthTag[0] ^= 0x01
	if _, err := Decrypt(blob, password); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("flipped tag bit: expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptMalformedBlob(t *testing.T) {
	password := []byte("pw")
	blob, err := Encrypt([]byte("x"), password)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Blob)
	}{
		{"nil blob", nil},
		{"short salt", func(b *Blob) { b.Salt = b.Salt[:SaltSize-1] }},
		{"short iv", func(b *Blob) { b.IV = b.IV[:IVSize-1] }},
		{"short tag", func(b *Blob) { b.AuthTag = b.AuthTag[:TagSize-1] }},
		{"unknown version", func(b *Blob) { b.Version = 99 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var target *Blob
			if tc.mutate != nil {
				cp := *blob
				cp.Salt = append([]byte(nil), blob.Salt...)
				cp.IV = append([]byte(nil), blob.IV...)
				cp.AuthTag = append([]byte(nil), blob.AuthTag...)
				tc.mutate(&cp)
				target = &cp
			}
			if _, err := Decrypt(target, password); !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("expected ErrDecryptionFailed, got %v", err)
			}
		})
	}
}

func TestEncryptFreshSaltAndIV(t *testing.T) {
	password := []byte("pw")
	plaintext := []byte("same plaintext")

	a, err := Encrypt(plaintext, password)
	if err != nil {
		t.Fatalf("first Encrypt failed: %v", err)
	}
	b, err := Encrypt(plaintext, password)
	if err != nil {
		t.Fatalf("second Encrypt failed: %v", err)
	}

	if bytes.Equal(a.Salt, b.Salt) {
		t.Error("salt reused across encryptions")
	}
	if bytes.Equal(a.IV, b.IV) {
		t.Error("IV reused across encryptions")
	}
	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Error("identical ciphertext for independent encryptions")
	}
}

func TestGenerateIVNoCollisions(t *testing.T) {
	const draws = 10_000
	seen := make(map[string]struct{}, draws)
	for i := 0; i < draws; i++ {
		iv, err := GenerateIV()
		if err != nil {
			t.Fatalf("GenerateIV failed at draw %d: %v", i, err)
		}
		if len(iv) != IVSize {
			t.Fatalf("iv length = %d, want %d", len(iv), IVSize)
		}
		if _, dup := seen[string(iv)]; dup {
			t.Fatalf("iv repeated after %d draws", i)
		}
		seen[string(iv)] = struct{}{}
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	password := []byte("pw")
	salt := bytes.Repeat([]byte{0x42}, SaltSize)

	k1, err := DeriveKey(password, salt, CurrentVersion)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	k2, err := DeriveKey(password, salt, CurrentVersion)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveKey not deterministic for fixed inputs")
	}
	if len(k1) != KeySize {
		t.Errorf("expected %d-byte key, got %d", KeySize, len(k1))
	}

	legacy, err := DeriveKey(password, salt, VersionPBKDF2)
	if err != nil {
		t.Fatalf("legacy DeriveKey failed: %v", err)
	}
	if bytes.Equal(k1, legacy) {
		t.Error("v1 and v2 KDFs produced the same key")
	}

	if _, err := DeriveKey(password, salt, 7); !errors.Is(err, ErrUnknownVersion) {
		t.Errorf("expected ErrUnknownVersion, got %v", err)
	}
}

// legacyEncrypt produces a version-1 blob the way pre-upgrade data was
// written, so the decrypt-only path stays covered.
func legacyEncrypt(t *testing.T, plaintext, password []byte) *Blob {
	t.Helper()
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	iv, err := GenerateIV()
	if err != nil {
		t.Fatalf("GenerateIV failed: %v", err)
	}
	key, err := DeriveKey(password, salt, VersionPBKDF2)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("NewGCM failed: %v", err)
	}
	sealed := aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - TagSize
	return &Blob{
		Version:    VersionPBKDF2,
		Ciphertext: sealed[:split],
		Salt:       salt,
		IV:         iv,
		AuthTag:    sealed[split:],
	}
}

func TestDecryptLegacyVersion(t *testing.T) {
	password := []byte("old password")
	plaintext := []byte("seed written before the KDF upgrade")

	blob := legacyEncrypt(t, plaintext, password)
	got, err := Decrypt(blob, password)
	if err != nil {
		t.Fatalf("legacy Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("legacy round trip mismatch: got %q", got)
	}

	if _, err := Decrypt(blob, []byte("wrong")); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestHashVerifyPassword(t *testing.T) {
	password := []byte("hunter2hunter2")

	hash, salt, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if len(salt) != SaltSize {
		t.Errorf("expected %d-byte salt, got %d", SaltSize, len(salt))
	}
	if !VerifyPassword(password, hash, salt) {
		t.Error("correct password rejected")
	}
	if VerifyPassword([]byte("hunter2hunter3"), hash, salt) {
		t.Error("wrong password accepted")
	}

	hash2, salt2, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if bytes.Equal(salt, salt2) {
		t.Error("salt reused across hashes")
	}
	if bytes.Equal(hash, hash2) {
		t.Error("same hash under independent salts")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual([]byte("abc"), []byte("abc")) {
		t.Error("equal slices compared unequal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("abd")) {
		t.Error("unequal slices compared equal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("ab")) {
		t.Error("length mismatch compared equal")
	}
}

func TestSensitiveZero(t *testing.T) {
	s := NewSensitive([]byte{1, 2, 3})
	c := s.Clone()
	s.Zero()
	if !bytes.Equal(s, []byte{0, 0, 0}) {
		t.Errorf("Zero left residue: %v", s)
	}
	if !bytes.Equal(c, []byte{1, 2, 3}) {
		t.Errorf("Clone shares backing array: %v", c)
	}
	if s.String() != "[redacted]" {
		t.Errorf("String leaked contents: %q", s.String())
	}
	j, err := NewSensitive([]byte("topsecret")).MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	if bytes.Contains(j, []byte("topsecret")) {
		t.Errorf("MarshalJSON leaked contents: %s", j)
	}
}
