package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/emberwallet/vaultd/internal/audit"
	"github.com/emberwallet/vaultd/internal/gate"
	"github.com/emberwallet/vaultd/internal/hdwallet"
	"github.com/emberwallet/vaultd/internal/vault"
	"github.com/emberwallet/vaultd/internal/vaultcrypto"
)

func (a *app) cmdSetup(ctx context.Context) error {
	done, err := a.store.IsSetupComplete()
	if err != nil {
		return err
	}
	if done {
		return vault.ErrAlreadySetUp
	}

	password, err := readNewPassword("New vault password")
	if err != nil {
		return err
	}
	defer vaultcrypto.Zeroize(password)

	if err := a.store.SetupPassword(password); err != nil {
		return err
	}
	a.gate.SetCurrentPassword(password)
	a.sessions.Unlock()

	fmt.Println("Vault configured. Create a wallet with: vaultd create-wallet")
	return nil
}

func (a *app) cmdStatus(ctx context.Context) error {
	done, err := a.store.IsSetupComplete()
	if err != nil {
		return err
	}
	fmt.Printf("Set up:   %v\n", done)

	if a.sessions.Resume() {
		st := a.sessions.Status()
		fmt.Printf("Session:  unlocked, %s remaining", st.TimeRemaining.Round(time.Second))
		if st.ShowWarning {
			fmt.Print(" (expiring soon)")
		}
		fmt.Println()
	} else {
		fmt.Println("Session:  locked")
	}
	return nil
}

func (a *app) cmdUnlock(ctx context.Context) error {
	password, err := a.requirePassword(ctx, "Unlock vault")
	if err != nil {
		return err
	}
	defer password.Zero()

	id := a.sessions.Unlock()
	cfg := a.sessions.Config()
	fmt.Printf("Unlocked. Session %s expires after %s idle.\n", id, cfg.MaxIdleTime)
	return nil
}

func (a *app) cmdCreateWallet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-wallet", flag.ContinueOnError)
	name := fs.String("name", "Main Wallet", "Wallet display name")
	chainID := fs.Uint64("chain", 1, "EVM chain ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := vault.ValidateWalletName(*name); err != nil {
		return err
	}

	password, err := a.requirePassword(ctx, "Create wallet")
	if err != nil {
		return err
	}
	defer password.Zero()

	mnemonic, err := a.deriver.GenerateMnemonic()
	if err != nil {
		return err
	}
	seed, err := a.deriver.MnemonicToSeed(mnemonic)
	if err != nil {
		return err
	}
	defer vaultcrypto.Zeroize(seed)

	derived, err := a.deriver.Derive(seed, hdwallet.WalletIDPath)
	if err != nil {
		return err
	}
	defer vaultcrypto.Zeroize(derived.PrivateKey)

	if err := a.store.SaveEncryptedSeedPhrase([]byte(mnemonic), password, derived.Address); err != nil {
		return err
	}
	w, err := a.store.AddWallet(vault.WalletRecord{
		Name:           *name,
		Address:        derived.Address,
		DerivationPath: hdwallet.WalletIDPath.String(),
		WalletIDHash:   vault.WalletIDHash(derived.Address),
		ChainID:        *chainID,
	}, password)
	if err != nil {
		return err
	}

	fmt.Printf("Created wallet %s\n", w.Address)
	fmt.Printf("  name: %s\n  path: %s\n\n", w.Name, w.DerivationPath)
	fmt.Println("Recovery phrase (write it down, it is shown only once):")
	fmt.Println("  " + mnemonic)
	return nil
}

func (a *app) cmdDerive(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("derive", flag.ContinueOnError)
	name := fs.String("name", "", "Wallet display name (required)")
	pathArg := fs.String("path", "", "Derivation path (default: next free index)")
	seedHash := fs.String("seed", "", "Wallet ID hash of the seed (default: the only seed)")
	chainID := fs.Uint64("chain", 1, "EVM chain ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := vault.ValidateWalletName(*name); err != nil {
		return err
	}

	password, err := a.requirePassword(ctx, "Derive wallet")
	if err != nil {
		return err
	}
	defer password.Zero()

	hash, err := a.pickSeed(*seedHash, password)
	if err != nil {
		return err
	}

	var path hdwallet.Path
	if *pathArg != "" {
		path, err = hdwallet.ParsePath(*pathArg)
		if err != nil {
			return err
		}
	} else {
		group, err := a.store.WalletsForSeed(hash, password)
		if err != nil {
			return err
		}
		used := make([]hdwallet.Path, 0, len(group))
		for _, w := range group {
			p, err := hdwallet.ParsePath(w.DerivationPath)
			if err != nil {
				continue
			}
			used = append(used, p)
		}
		path, err = hdwallet.NextPath(used)
		if err != nil {
			return err
		}
	}

	mnemonic, err := a.store.DecryptSeedPhrase(hash, password)
	if err != nil {
		return err
	}
	defer vaultcrypto.Zeroize(mnemonic)
	seed, err := a.deriver.MnemonicToSeed(string(mnemonic))
	if err != nil {
		return err
	}
	defer vaultcrypto.Zeroize(seed)

	derived, err := a.deriver.Derive(seed, path)
	if err != nil {
		return err
	}
	defer vaultcrypto.Zeroize(derived.PrivateKey)

	w, err := a.store.AddWallet(vault.WalletRecord{
		Name:           *name,
		Address:        derived.Address,
		DerivationPath: path.String(),
		WalletIDHash:   hash,
		ChainID:        *chainID,
	}, password)
	if err != nil {
		return err
	}

	fmt.Printf("Derived wallet %s at %s\n", w.Address, w.DerivationPath)
	return nil
}

// pickSeed resolves which seed to operate on: the named one, or the
// vault's only seed.
func (a *app) pickSeed(seedHash string, password []byte) (string, error) {
	seeds, err := a.store.LoadSeedPhrases(password)
	if err != nil {
		return "", err
	}
	if len(seeds) == 0 {
		return "", vault.ErrSeedNotFound
	}
	if seedHash == "" {
		if len(seeds) > 1 {
			return "", fmt.Errorf("multiple seeds stored; pass -seed (see: vaultd wallets)")
		}
		return seeds[0].WalletIDHash, nil
	}
	for _, sp := range seeds {
		if sp.WalletIDHash == seedHash {
			return sp.WalletIDHash, nil
		}
	}
	return "", vault.ErrSeedNotFound
}

func (a *app) cmdWallets(ctx context.Context) error {
	password, err := a.requirePassword(ctx, "List wallets")
	if err != nil {
		return err
	}
	defer password.Zero()

	wallets, err := a.store.LoadWallets(password)
	if err != nil {
		return err
	}
	if len(wallets) == 0 {
		fmt.Println("No wallets. Create one with: vaultd create-wallet")
		return nil
	}

	for _, w := range wallets {
		marker := " "
		if w.IsWalletID {
			marker = "*"
		}
		fmt.Printf("%s %-20s %s  %s\n", marker, w.Name, w.Address, w.DerivationPath)
		fmt.Printf("    id: %s  seed: %s\n", w.ID, w.WalletIDHash)
	}
	fmt.Println("\n* identifying wallet of its seed phrase")
	return nil
}

func (a *app) cmdDeleteWallet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete-wallet", flag.ContinueOnError)
	id := fs.String("id", "", "Wallet ID to delete (required)")
	cascade := fs.Bool("cascade", false, "Also delete the seed phrase and all wallets derived from it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	password, err := a.requirePassword(ctx, "Delete wallet")
	if err != nil {
		return err
	}
	defer password.Zero()

	if err := a.store.DeleteWallet(*id, *cascade, password); err != nil {
		if err == vault.ErrCascadeRequired {
			return fmt.Errorf("%w; re-run with -cascade", err)
		}
		return err
	}
	fmt.Println("Deleted.")
	return nil
}

func (a *app) cmdReveal(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reveal", flag.ContinueOnError)
	id := fs.String("id", "", "Wallet ID whose seed phrase to reveal (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	password, err := a.requirePassword(ctx, "Reveal seed phrase")
	if err != nil {
		return err
	}
	defer password.Zero()

	wallets, err := a.store.LoadWallets(password)
	if err != nil {
		return err
	}
	var hash string
	for _, w := range wallets {
		if w.ID == *id {
			hash = w.WalletIDHash
			break
		}
	}
	if hash == "" {
		return vault.ErrWalletNotFound
	}

	mnemonic, err := a.store.DecryptSeedPhrase(hash, password)
	if err != nil {
		return err
	}
	defer vaultcrypto.Zeroize(mnemonic)

	fmt.Println("Recovery phrase (anyone who sees this controls the funds):")
	fmt.Println("  " + string(mnemonic))
	return nil
}

func (a *app) cmdExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("out", "", "Output file for the backup bundle (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("-out is required")
	}

	password, err := a.requirePassword(ctx, "Export vault")
	if err != nil {
		return err
	}
	defer password.Zero()

	exportPassword, err := readNewPassword("Export password")
	if err != nil {
		return err
	}
	defer vaultcrypto.Zeroize(exportPassword)

	bundle, err := a.store.ExportData(password, exportPassword)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, bundle, 0o600); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	fmt.Printf("Exported %d bytes to %s\n", len(bundle), *out)
	return nil
}

func (a *app) cmdImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	in := fs.String("in", "", "Backup bundle file to restore (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	raw, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("failed to read bundle: %w", err)
	}

	password, err := a.requirePassword(ctx, "Import vault")
	if err != nil {
		return err
	}
	defer password.Zero()

	exportPassword, err := readPassword("Export password")
	if err != nil {
		return err
	}
	defer vaultcrypto.Zeroize(exportPassword)

	if err := a.store.ImportData(raw, exportPassword, password); err != nil {
		return err
	}
	fmt.Println("Imported. This replaced the previous vault contents.")
	return nil
}

func (a *app) cmdAudit(ctx context.Context) error {
	report := audit.Run(a.kv)

	if len(report.Issues) > 0 {
		fmt.Println("Issues:")
		for _, issue := range report.Issues {
			fmt.Printf("  [%s] %s: %s\n      fix: %s\n", issue.Severity, issue.Category, issue.Description, issue.Remediation)
		}
	}
	for _, w := range report.Warnings {
		fmt.Println("Warning:", w)
	}
	for _, r := range report.Recommendations {
		fmt.Println("Recommendation:", r)
	}

	if !report.Passed {
		return fmt.Errorf("self-check failed with %d issue(s)", len(report.Issues))
	}
	fmt.Println("Self-check passed.")
	return nil
}

// resetConfirmation must be typed in full before data is destroyed.
const resetConfirmation = "delete all data"

func (a *app) cmdReset(ctx context.Context) error {
	fmt.Printf("This permanently deletes every wallet and seed phrase.\nType %q to continue: ", resetConfirmation)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != resetConfirmation {
		return fmt.Errorf("confirmation did not match; nothing deleted")
	}

	a.sessions.Lock()
	if err := a.store.ClearAllData(); err != nil {
		return err
	}
	fmt.Println("All vault data deleted.")
	return nil
}

// readPassword reads one password without strength checks, for entering
// existing secrets.
func readPassword(label string) ([]byte, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) == 0 {
		return nil, gate.ErrPromptDismissed
	}
	return password, nil
}
