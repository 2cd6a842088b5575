// Command vaultd is the local front-end for the wallet's secret store:
// password setup and unlock, wallet creation and derivation, seed
// phrase reveal, backup export/import and the security self-check.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emberwallet/vaultd/internal/config"
	"github.com/emberwallet/vaultd/internal/memlock"
)

// Version is set at build time.
var Version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: vaultd [flags] <command> [args]

Commands:
  setup          configure the vault password
  status         show setup and session state
  unlock         verify the password and start a session
  create-wallet  create a new seed phrase and its wallet
  derive         derive an additional wallet from a seed
  wallets        list wallets
  delete-wallet  delete a wallet, optionally with its seed phrase
  reveal         show a decrypted seed phrase
  export         write a backup bundle
  import         restore a backup bundle
  audit          run the security self-check
  reset          delete all vault data

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	logLevel := flag.String("log-level", "", "Override configured log level")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Debug().Str("version", Version).Str("storage", cfg.StoragePath).Msg("vaultd starting")

	// Best effort: a failure is already logged and must not block use.
	_ = memlock.Lock()

	app, err := newApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.run(ctx, args[0], args[1:]); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
