package vault

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberwallet/vaultd/internal/hdwallet"
	"github.com/emberwallet/vaultd/internal/storage"
	"github.com/emberwallet/vaultd/internal/vaultcrypto"
)

var (
	testPassword = []byte("test-password-123")
	testAddress  = "0x9858effd232b4033e47d90003d41ec34ecaeda94"
	testMnemonic = []byte("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
)

func hdPath(t *testing.T, account, change, index uint32) string {
	t.Helper()
	return hdwallet.Path{Account: account, Change: change, Index: index}.String()
}

func newTestStore(t *testing.T) (*Store, *storage.MemoryKV) {
	t.Helper()
	kv := storage.NewMemoryKV()
	return New(kv, "testwallet"), kv
}

// setUpWithSeed configures the password, stores one seed phrase and its
// identifying wallet.
func setUpWithSeed(t *testing.T, s *Store) WalletRecord {
	t.Helper()
	require.NoError(t, s.SetupPassword(testPassword))
	require.NoError(t, s.SaveEncryptedSeedPhrase(testMnemonic, testPassword, testAddress))

	w, err := s.AddWallet(WalletRecord{
		Name:           "Main Wallet",
		Address:        testAddress,
		DerivationPath: "m/44'/60'/0'/0/0",
		WalletIDHash:   WalletIDHash(testAddress),
		ChainID:        1,
	}, testPassword)
	require.NoError(t, err)
	return *w
}

func TestSetupPassword(t *testing.T) {
	s, kv := newTestStore(t)

	done, err := s.IsSetupComplete()
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, s.SetupPassword(testPassword))

	done, err = s.IsSetupComplete()
	require.NoError(t, err)
	require.True(t, done)

	// The auth record is plaintext JSON and contains no password.
	raw, err := kv.Get("testwallet_auth")
	require.NoError(t, err)
	var auth AuthRecord
	require.NoError(t, json.Unmarshal(raw, &auth))
	require.NotEmpty(t, auth.Hash)
	require.NotEmpty(t, auth.Salt)
	require.NotContains(t, string(raw), string(testPassword))

	// An empty encrypted document exists and loads.
	wallets, err := s.LoadWallets(testPassword)
	require.NoError(t, err)
	require.Empty(t, wallets)
}

func TestSetupPasswordGuard(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.SetupPassword(testPassword))
	require.ErrorIs(t, s.SetupPassword([]byte("another")), ErrAlreadySetUp)

	// The original data survives the rejected re-setup.
	require.True(t, s.VerifyPassword(testPassword))
}

func TestVerifyPassword(t *testing.T) {
	s, _ := newTestStore(t)

	require.False(t, s.VerifyPassword(testPassword), "verification must fail before setup")

	require.NoError(t, s.SetupPassword(testPassword))
	require.True(t, s.VerifyPassword(testPassword))
	require.False(t, s.VerifyPassword([]byte("wrong")))
	require.False(t, s.VerifyPassword(nil))
}

func TestLoadWithWrongPassword(t *testing.T) {
	s, _ := newTestStore(t)
	setUpWithSeed(t, s)

	_, err := s.LoadWallets([]byte("wrong"))
	require.ErrorIs(t, err, vaultcrypto.ErrDecryptionFailed)
}

func TestSeedPhraseRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	setUpWithSeed(t, s)

	got, err := s.DecryptSeedPhrase(WalletIDHash(testAddress), testPassword)
	require.NoError(t, err)
	require.Equal(t, testMnemonic, got)

	_, err = s.DecryptSeedPhrase(WalletIDHash("0xother"), testPassword)
	require.ErrorIs(t, err, ErrSeedNotFound)
}

func TestSaveEncryptedSeedPhraseUpsert(t *testing.T) {
	s, _ := newTestStore(t)
	setUpWithSeed(t, s)

	// Re-saving the same seed replaces the record.
	require.NoError(t, s.SaveEncryptedSeedPhrase(testMnemonic, testPassword, testAddress))
	seeds, err := s.LoadSeedPhrases(testPassword)
	require.NoError(t, err)
	require.Len(t, seeds, 1)

	// A different address makes a second record.
	other := "0x1111111111111111111111111111111111111111"
	require.NoError(t, s.SaveEncryptedSeedPhrase([]byte("legal winner thank year wave sausage worth useful legal winner thank yellow"), testPassword, other))
	seeds, err = s.LoadSeedPhrases(testPassword)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
}

func TestAddWallet(t *testing.T) {
	s, _ := newTestStore(t)
	id := setUpWithSeed(t, s)
	require.True(t, id.IsWalletID)
	require.NotEmpty(t, id.ID)

	// Second wallet under the same seed at a new path.
	w, err := s.AddWallet(WalletRecord{
		Name:           "Savings",
		Address:        "0x2222222222222222222222222222222222222222",
		DerivationPath: "m/44'/60'/0'/0/1",
		WalletIDHash:   WalletIDHash(testAddress),
	}, testPassword)
	require.NoError(t, err)
	require.False(t, w.IsWalletID)

	// Duplicate (seed, path) is rejected and changes nothing.
	_, err = s.AddWallet(WalletRecord{
		Name:           "Dup",
		Address:        "0x3333333333333333333333333333333333333333",
		DerivationPath: "m/44'/60'/0'/0/1",
		WalletIDHash:   WalletIDHash(testAddress),
	}, testPassword)
	require.ErrorIs(t, err, ErrWalletExists)

	wallets, err := s.LoadWallets(testPassword)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
}

func TestAddWalletValidation(t *testing.T) {
	s, _ := newTestStore(t)
	setUpWithSeed(t, s)

	_, err := s.AddWallet(WalletRecord{
		Name:           "Bad Path",
		DerivationPath: "m/44'/0'/0'/0/0",
		WalletIDHash:   WalletIDHash(testAddress),
	}, testPassword)
	require.Error(t, err)

	_, err = s.AddWallet(WalletRecord{
		Name:           "x",
		DerivationPath: "m/44'/60'/0'/0/2",
		WalletIDHash:   WalletIDHash(testAddress),
	}, testPassword)
	require.ErrorIs(t, err, ErrInvalidWalletName)

	// A wallet pointing at a seed that does not exist is rejected.
	_, err = s.AddWallet(WalletRecord{
		Name:           "Orphan",
		DerivationPath: "m/44'/60'/0'/0/2",
		WalletIDHash:   WalletIDHash("0xnobody"),
	}, testPassword)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestDeleteWallet(t *testing.T) {
	s, _ := newTestStore(t)
	id := setUpWithSeed(t, s)

	child, err := s.AddWallet(WalletRecord{
		Name:           "Child",
		Address:        "0x2222222222222222222222222222222222222222",
		DerivationPath: "m/44'/60'/0'/0/1",
		WalletIDHash:   WalletIDHash(testAddress),
	}, testPassword)
	require.NoError(t, err)

	// Deleting a derived wallet leaves the seed alone.
	require.NoError(t, s.DeleteWallet(child.ID, false, testPassword))
	wallets, err := s.LoadWallets(testPassword)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	seeds, err := s.LoadSeedPhrases(testPassword)
	require.NoError(t, err)
	require.Len(t, seeds, 1)

	require.ErrorIs(t, s.DeleteWallet("no-such-id", false, testPassword), ErrWalletNotFound)

	// The identifying wallet demands cascade confirmation.
	require.ErrorIs(t, s.DeleteWallet(id.ID, false, testPassword), ErrCascadeRequired)
	wallets, err = s.LoadWallets(testPassword)
	require.NoError(t, err)
	require.Len(t, wallets, 1, "rejected delete must not change the document")
}

func TestDeleteWalletCascade(t *testing.T) {
	s, _ := newTestStore(t)
	id := setUpWithSeed(t, s)

	for i, addr := range []string{
		"0x2222222222222222222222222222222222222222",
		"0x3333333333333333333333333333333333333333",
	} {
		_, err := s.AddWallet(WalletRecord{
			Name:           "Derived Wallet",
			Address:        addr,
			DerivationPath: hdPath(t, 0, 0, uint32(i+1)),
			WalletIDHash:   WalletIDHash(testAddress),
		}, testPassword)
		require.NoError(t, err)
	}

	// Cascade removes the seed and every wallet derived from it.
	require.NoError(t, s.DeleteWallet(id.ID, true, testPassword))

	wallets, err := s.LoadWallets(testPassword)
	require.NoError(t, err)
	require.Empty(t, wallets)
	seeds, err := s.LoadSeedPhrases(testPassword)
	require.NoError(t, err)
	require.Empty(t, seeds)
}

func TestWalletsForSeed(t *testing.T) {
	s, _ := newTestStore(t)
	setUpWithSeed(t, s)

	_, err := s.AddWallet(WalletRecord{
		Name:           "Second",
		Address:        "0x2222222222222222222222222222222222222222",
		DerivationPath: "m/44'/60'/0'/0/1",
		WalletIDHash:   WalletIDHash(testAddress),
	}, testPassword)
	require.NoError(t, err)

	group, err := s.WalletsForSeed(WalletIDHash(testAddress), testPassword)
	require.NoError(t, err)
	require.Len(t, group, 2)

	group, err = s.WalletsForSeed(WalletIDHash("0xother"), testPassword)
	require.NoError(t, err)
	require.Empty(t, group)
}

func TestClearAllData(t *testing.T) {
	s, kv := newTestStore(t)
	setUpWithSeed(t, s)

	// An unrelated namespace must survive the wipe.
	require.NoError(t, kv.Put("othernamespace_auth", []byte("keep")))

	require.NoError(t, s.ClearAllData())

	done, err := s.IsSetupComplete()
	require.NoError(t, err)
	require.False(t, done)

	_, err = kv.Get("testwallet_data")
	require.ErrorIs(t, err, storage.ErrKeyNotFound)

	kept, err := kv.Get("othernamespace_auth")
	require.NoError(t, err)
	require.Equal(t, []byte("keep"), kept)
}

func TestExportImportRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	setUpWithSeed(t, s)
	exportPassword := []byte("export-secret")

	bundle, err := s.ExportData(testPassword, exportPassword)
	require.NoError(t, err)

	// Seed plaintext never appears in the bundle.
	require.NotContains(t, string(bundle), string(testMnemonic))

	// Import into a fresh vault under the same local password.
	dst := New(storage.NewMemoryKV(), "testwallet")
	require.NoError(t, dst.SetupPassword(testPassword))
	require.NoError(t, dst.ImportData(bundle, exportPassword, testPassword))

	wallets, err := dst.LoadWallets(testPassword)
	require.NoError(t, err)
	require.Len(t, wallets, 1)

	seed, err := dst.DecryptSeedPhrase(WalletIDHash(testAddress), testPassword)
	require.NoError(t, err)
	require.Equal(t, testMnemonic, seed)
}

func TestImportRejectsTamperAndWrongPassword(t *testing.T) {
	s, _ := newTestStore(t)
	setUpWithSeed(t, s)

	bundle, err := s.ExportData(testPassword, []byte("export-secret"))
	require.NoError(t, err)

	dst := New(storage.NewMemoryKV(), "testwallet")
	require.NoError(t, dst.SetupPassword(testPassword))

	err = dst.ImportData(bundle, []byte("wrong-export-password"), testPassword)
	require.ErrorIs(t, err, vaultcrypto.ErrDecryptionFailed)

	tampered := append([]byte(nil), bundle...)
	tampered[len(tampered)/2] ^= 0x01
	err = dst.ImportData(tampered, []byte("export-secret"), testPassword)
	require.Error(t, err)

	err = dst.ImportData([]byte("garbage"), []byte("export-secret"), testPassword)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestFailedMutationLeavesDocumentUntouched(t *testing.T) {
	s, kv := newTestStore(t)
	setUpWithSeed(t, s)

	before, err := kv.Get("testwallet_data")
	require.NoError(t, err)

	_, err = s.AddWallet(WalletRecord{
		Name:           "Orphan",
		DerivationPath: "m/44'/60'/0'/0/1",
		WalletIDHash:   WalletIDHash("0xnobody"),
	}, testPassword)
	require.Error(t, err)

	after, err := kv.Get("testwallet_data")
	require.NoError(t, err)
	require.Equal(t, before, after)
}
