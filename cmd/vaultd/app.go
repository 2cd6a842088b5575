package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/emberwallet/vaultd/internal/audit"
	"github.com/emberwallet/vaultd/internal/config"
	"github.com/emberwallet/vaultd/internal/gate"
	"github.com/emberwallet/vaultd/internal/hdwallet"
	"github.com/emberwallet/vaultd/internal/session"
	"github.com/emberwallet/vaultd/internal/storage"
	"github.com/emberwallet/vaultd/internal/vault"
	"github.com/emberwallet/vaultd/internal/vaultcrypto"
)

// app wires the storage backend, secret store, password gate and
// session manager together for the lifetime of one invocation.
type app struct {
	cfg      *config.Config
	kv       *storage.SQLiteKV
	store    *vault.Store
	gate     *gate.Gate
	sessions *session.Manager
	deriver  hdwallet.Deriver
	monitor  *audit.Monitor
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.StoragePath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	kv, err := storage.NewSQLiteKV(cfg.StoragePath)
	if err != nil {
		return nil, err
	}

	store := vault.New(kv, cfg.Namespace)
	limiter := audit.NewLimiter(audit.DefaultMaxAttempts, audit.DefaultWindow)
	g := gate.New(terminalPrompter{}, store, limiter)

	sessions := session.NewManager(kv, cfg.Namespace, session.Config{
		MaxIdleTime:   cfg.Session.MaxIdleTime.Std(),
		WarningTime:   cfg.Session.WarningTime.Std(),
		CheckInterval: cfg.Session.CheckInterval.Std(),
	})
	// A locked or expired session must never leave a usable password
	// behind in the gate.
	sessions.SetHandlers(session.Handlers{
		OnLocked: g.ClearCurrentPassword,
		OnWarning: func(remaining time.Duration) {
			fmt.Fprintf(os.Stderr, "Session expires in %s\n", remaining.Round(time.Second))
		},
	})
	sessions.CleanupExpired()

	return &app{
		cfg:      cfg,
		kv:       kv,
		store:    store,
		gate:     g,
		sessions: sessions,
		deriver:  hdwallet.HDDeriver{},
		monitor:  audit.NewMonitor(),
	}, nil
}

func (a *app) Close() {
	if err := a.kv.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close storage")
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	a.monitor.Observe("cli", command, time.Now())

	switch command {
	case "setup":
		return a.cmdSetup(ctx)
	case "status":
		return a.cmdStatus(ctx)
	case "unlock":
		return a.cmdUnlock(ctx)
	case "create-wallet":
		return a.cmdCreateWallet(ctx, args)
	case "derive":
		return a.cmdDerive(ctx, args)
	case "wallets":
		return a.cmdWallets(ctx)
	case "delete-wallet":
		return a.cmdDeleteWallet(ctx, args)
	case "reveal":
		return a.cmdReveal(ctx, args)
	case "export":
		return a.cmdExport(ctx, args)
	case "import":
		return a.cmdImport(ctx, args)
	case "audit":
		return a.cmdAudit(ctx)
	case "reset":
		return a.cmdReset(ctx)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// requirePassword resolves the vault password through the gate,
// refusing before setup, and counts the command as session activity.
func (a *app) requirePassword(ctx context.Context, title string) (vaultcrypto.Sensitive, error) {
	done, err := a.store.IsSetupComplete()
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, vault.ErrNotSetUp
	}
	password, err := a.gate.RequestPassword(ctx, gate.Options{Title: title})
	if err != nil {
		return nil, err
	}
	a.sessions.RecordActivity()
	return password, nil
}
