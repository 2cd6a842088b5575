// Package gate mediates between callers needing the vault password and
// the user. It caches the verified password for the unlocked session
// and collapses concurrent requests into a single prompt, so the user
// is never asked twice at once.
package gate

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/emberwallet/vaultd/internal/audit"
	"github.com/emberwallet/vaultd/internal/vault"
	"github.com/emberwallet/vaultd/internal/vaultcrypto"
)

var (
	// ErrPromptCancelled means the user dismissed the prompt or it was
	// abandoned; every waiter on that prompt gets this error.
	ErrPromptCancelled = errors.New("password prompt cancelled")

	// ErrPromptDismissed is what Prompter implementations return when
	// the user backs out. The gate maps it to ErrPromptCancelled.
	ErrPromptDismissed = errors.New("prompt dismissed")
)

// maxPromptAttempts bounds wrong-password retries within one prompt.
const maxPromptAttempts = 3

// limiterKey identifies password attempts in the rate limiter.
const limiterKey = "password-gate"

// Options carries display hints to the UI layer.
type Options struct {
	Title   string
	Message string
}

// Prompter is implemented by UI layers. Prompt blocks until the user
// enters a password or dismisses the dialog.
type Prompter interface {
	Prompt(ctx context.Context, opts Options) ([]byte, error)
}

// Verifier checks a candidate password against the stored verifier.
type Verifier interface {
	VerifyPassword(password []byte) bool
}

type pendingPrompt struct {
	done     chan struct{}
	waiters  int
	settled  bool
	password []byte
	err      error
}

// Gate is the cached-password front door.
type Gate struct {
	prompter Prompter
	verifier Verifier
	limiter  *audit.Limiter

	mu      sync.Mutex
	current vaultcrypto.Sensitive
	pending *pendingPrompt
}

func New(prompter Prompter, verifier Verifier, limiter *audit.Limiter) *Gate {
	if limiter == nil {
		limiter = audit.NewLimiter(audit.DefaultMaxAttempts, audit.DefaultWindow)
	}
	return &Gate{prompter: prompter, verifier: verifier, limiter: limiter}
}

// RequestPassword returns a verified password, prompting the user if
// none is cached. Concurrent calls share one prompt: they all resolve
// with the entered password or all fail together. The caller owns the
// returned buffer and should Zero it after use; cancelling ctx releases
// only this caller, not the shared prompt.
func (g *Gate) RequestPassword(ctx context.Context, opts Options) (vaultcrypto.Sensitive, error) {
	g.mu.Lock()
	if len(g.current) > 0 {
		// The cached password is re-verified on every request; if the
		// auth record changed underneath us the stale cache is dropped.
		if g.verifier.VerifyPassword(g.current) {
			out := g.current.Clone()
			g.mu.Unlock()
			return out, nil
		}
		g.current.Zero()
		g.current = nil
	}

	p := g.pending
	if p == nil {
		p = &pendingPrompt{done: make(chan struct{})}
		g.pending = p
		go g.runPrompt(p, opts)
	}
	p.waiters++
	g.mu.Unlock()

	select {
	case <-p.done:
		g.mu.Lock()
		var out vaultcrypto.Sensitive
		if p.err == nil {
			out = vaultcrypto.NewSensitive(p.password)
		}
		err := p.err
		g.releaseWaiterLocked(p)
		g.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return out, nil
	case <-ctx.Done():
		g.mu.Lock()
		g.releaseWaiterLocked(p)
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}

// releaseWaiterLocked drops one waiter's claim on p. The last waiter
// off a settled prompt zeroizes the shared password buffer; every
// waiter holds its own copy by then.
func (g *Gate) releaseWaiterLocked(p *pendingPrompt) {
	p.waiters--
	if p.waiters == 0 && p.settled {
		vaultcrypto.Zeroize(p.password)
		p.password = nil
	}
}

// runPrompt drives the single shared prompt. It deliberately ignores
// any one caller's context: the prompt belongs to all current and
// future waiters until it completes.
func (g *Gate) runPrompt(p *pendingPrompt, opts Options) {
	var password []byte
	var err error

	for attempt := 1; attempt <= maxPromptAttempts; attempt++ {
		if !g.limiter.Allow(limiterKey) {
			err = audit.ErrRateLimited
			break
		}

		var entered []byte
		entered, err = g.prompter.Prompt(context.Background(), opts)
		if err != nil {
			if errors.Is(err, ErrPromptDismissed) || errors.Is(err, context.Canceled) {
				err = ErrPromptCancelled
			}
			break
		}

		if g.verifier.VerifyPassword(entered) {
			password = entered
			err = nil
			break
		}
		vaultcrypto.Zeroize(entered)
		err = vault.ErrInvalidPassword
		log.Warn().Int("attempt", attempt).Msg("wrong password at gate")
		opts.Message = "Incorrect password, try again"
	}

	g.mu.Lock()
	if err == nil {
		g.current = vaultcrypto.NewSensitive(password)
	}
	p.password = password
	p.err = err
	p.settled = true
	if p.waiters == 0 {
		// Every waiter already gave up, nobody will read the buffer.
		vaultcrypto.Zeroize(p.password)
		p.password = nil
	}
	g.pending = nil
	g.mu.Unlock()
	close(p.done)
}

// ValidateAndSetPassword verifies password and caches it on success.
func (g *Gate) ValidateAndSetPassword(password []byte) error {
	if !g.verifier.VerifyPassword(password) {
		return vault.ErrInvalidPassword
	}
	g.SetCurrentPassword(password)
	return nil
}

// SetCurrentPassword caches a copy of password without verification.
// Callers use ValidateAndSetPassword unless the password was just
// established by setup.
func (g *Gate) SetCurrentPassword(password []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current.Zero()
	g.current = vaultcrypto.NewSensitive(password)
}

// ClearCurrentPassword zeroizes and drops the cache. Called on lock
// and expiry so a locked session can never serve a password.
func (g *Gate) ClearCurrentPassword() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current.Zero()
	g.current = nil
}

// HasCachedPassword reports whether a password is cached right now.
func (g *Gate) HasCachedPassword() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.current) > 0
}
