package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/emberwallet/vaultd/internal/gate"
	"github.com/emberwallet/vaultd/internal/vaultcrypto"
)

// terminalPrompter implements gate.Prompter over the controlling
// terminal. Input is read with echo disabled.
type terminalPrompter struct{}

func (terminalPrompter) Prompt(ctx context.Context, opts gate.Options) ([]byte, error) {
	if opts.Title != "" {
		fmt.Fprintln(os.Stderr, opts.Title)
	}
	if opts.Message != "" {
		fmt.Fprintln(os.Stderr, opts.Message)
	}
	fmt.Fprint(os.Stderr, "Password: ")
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

// readNewPassword prompts for a password twice, enforcing the strength
// policy. Used for setup and export, where no stored verifier exists.
func readNewPassword(label string) ([]byte, error) {
	for {
		fmt.Fprintf(os.Stderr, "%s: ", label)
		first, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}

		strength := gate.CheckStrength(string(first))
		if !strength.Valid {
			vaultcrypto.Zeroize(first)
			for _, f := range strength.Feedback {
				fmt.Fprintln(os.Stderr, "  "+f)
			}
			continue
		}

		fmt.Fprintf(os.Stderr, "%s (again): ", label)
		second, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			vaultcrypto.Zeroize(first)
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		if !bytes.Equal(first, second) {
			vaultcrypto.Zeroize(first)
			vaultcrypto.Zeroize(second)
			fmt.Fprintln(os.Stderr, "  passwords do not match")
			continue
		}
		vaultcrypto.Zeroize(second)
		return first, nil
	}
}
