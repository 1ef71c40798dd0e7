package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AccountantBot/coordinator/internal/intent"
	"github.com/AccountantBot/coordinator/internal/models"
)

var (
	ErrInvalidAddress = errors.New("invalid wallet address")
	ErrInvalidMessage = errors.New("invalid sign-in message")
	ErrUnknownNonce   = errors.New("sign-in nonce is unknown, expired or already used")
	ErrSignerMismatch = errors.New("sign-in message was not signed by its address")
)

const statement = "Sign in to AccountantBot."

// SIWEConfig binds issued messages to this deployment.
type SIWEConfig struct {
	Domain   string
	URI      string
	ChainID  uint64
	NonceTTL time.Duration
	// Nonces defaults to a MemoryNonceStore.
	Nonces NonceStore
}

// SIWEAuthenticator implements Sign-In With Ethereum (EIP-4361) with
// personal_sign signatures.
type SIWEAuthenticator struct {
	users  UserStorage
	cfg    SIWEConfig
	nonces NonceStore
	now    func() time.Time
}

var _ Authenticator = (*SIWEAuthenticator)(nil)

// NewSIWEAuthenticator creates an authenticator that records logins in users.
func NewSIWEAuthenticator(users UserStorage, cfg SIWEConfig) *SIWEAuthenticator {
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 5 * time.Minute
	}
	nonces := cfg.Nonces
	if nonces == nil {
		nonces = NewMemoryNonceStore()
	}
	return &SIWEAuthenticator{
		users:  users,
		cfg:    cfg,
		nonces: nonces,
		now:    time.Now,
	}
}

// Challenge issues an EIP-4361 message for address.
func (a *SIWEAuthenticator) Challenge(ctx context.Context, address string) (*Challenge, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	addr := common.HexToAddress(address)

	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)

	now := a.now().UTC()
	expires := now.Add(a.cfg.NonceTTL)

	if err := a.nonces.Put(ctx, nonce, IssuedNonce{Address: addr, ExpiresAt: expires}); err != nil {
		return nil, err
	}

	return &Challenge{
		Message:   a.message(addr, nonce, now, expires),
		Nonce:     nonce,
		ExpiresAt: expires,
	}, nil
}

func (a *SIWEAuthenticator) message(addr common.Address, nonce string, issued, expires time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n", a.cfg.Domain)
	fmt.Fprintf(&b, "%s\n\n", addr.Hex())
	fmt.Fprintf(&b, "%s\n\n", statement)
	fmt.Fprintf(&b, "URI: %s\n", a.cfg.URI)
	b.WriteString("Version: 1\n")
	fmt.Fprintf(&b, "Chain ID: %d\n", a.cfg.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", nonce)
	fmt.Fprintf(&b, "Issued At: %s\n", issued.Format(time.RFC3339))
	fmt.Fprintf(&b, "Expiration Time: %s", expires.Format(time.RFC3339))
	return b.String()
}

// siweMessage holds the fields Verify checks.
type siweMessage struct {
	domain  string
	address string
	chainID uint64
	nonce   string
}

func parseMessage(msg string) (*siweMessage, error) {
	lines := strings.Split(strings.ReplaceAll(msg, "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: too short", ErrInvalidMessage)
	}
	domain, ok := strings.CutSuffix(lines[0], " wants you to sign in with your Ethereum account:")
	if !ok || domain == "" {
		return nil, fmt.Errorf("%w: missing preamble", ErrInvalidMessage)
	}
	m := &siweMessage{domain: domain, address: strings.TrimSpace(lines[1])}

	for _, line := range lines[2:] {
		key, value, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		switch key {
		case "Chain ID":
			id, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad chain id %q", ErrInvalidMessage, value)
			}
			m.chainID = id
		case "Nonce":
			m.nonce = value
		}
	}
	if !common.IsHexAddress(m.address) {
		return nil, fmt.Errorf("%w: bad address %q", ErrInvalidMessage, m.address)
	}
	if m.nonce == "" {
		return nil, fmt.Errorf("%w: missing nonce", ErrInvalidMessage)
	}
	return m, nil
}

// Verify checks a signed challenge. The nonce is consumed by the first
// attempt that presents it, whether or not the signature is valid.
func (a *SIWEAuthenticator) Verify(ctx context.Context, message, signature string) (*models.User, error) {
	m, err := parseMessage(message)
	if err != nil {
		return nil, err
	}
	if m.domain != a.cfg.Domain {
		return nil, fmt.Errorf("%w: domain %q", ErrInvalidMessage, m.domain)
	}
	if m.chainID != a.cfg.ChainID {
		return nil, fmt.Errorf("%w: chain id %d", ErrInvalidMessage, m.chainID)
	}
	addr := common.HexToAddress(m.address)

	issued, ok, err := a.nonces.Take(ctx, m.nonce)
	if err != nil {
		return nil, err
	}
	if !ok || a.now().After(issued.ExpiresAt) || issued.Address != addr {
		return nil, ErrUnknownNonce
	}

	signer, err := intent.RecoverHash(accounts.TextHash([]byte(message)), signature)
	if err != nil {
		return nil, err
	}
	if signer != addr {
		return nil, fmt.Errorf("%w: recovered %s", ErrSignerMismatch, signer.Hex())
	}

	user := &models.User{Address: addr.Hex(), LastLoginAt: a.now().Unix()}
	if err := a.users.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	slog.Info("Wallet signed in", "address", user.Address)
	return user, nil
}
