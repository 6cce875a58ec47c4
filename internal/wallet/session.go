package wallet

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"aethernet/internal/store"
)

// ErrLocked is returned when a mutating action runs without an active
// unlock session.
var ErrLocked = errors.New("Wallet is locked")

// Session holds the decrypted signer between unlock and expiry. It is
// the single owner of key material; callers fetch a snapshot with
// Account at action start and never retain it.
type Session struct {
	mu            sync.Mutex
	store         *store.Store
	keystorePath  string
	logger        *zap.Logger
	signer        *Signer
	unlockedUntil time.Time
}

// NewSession builds a locked session over the keystore at path.
func NewSession(st *store.Store, keystorePath string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{store: st, keystorePath: keystorePath, logger: logger}
}

// Unlock decrypts the keystore and opens an unlock session for ttl.
func (s *Session) Unlock(passphrase string, ttl time.Duration) error {
	signer, err := Decrypt(s.keystorePath, passphrase)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signer != nil {
		s.signer.zero()
	}
	s.signer = signer
	s.unlockedUntil = time.Now().Add(ttl)

	if _, err := s.store.CreateUnlockSession(signer.Address, s.unlockedUntil); err != nil {
		return fmt.Errorf("record unlock session: %w", err)
	}
	if err := s.store.AppendWalletAudit("wallet:unlock", signer.Address); err != nil {
		return err
	}
	s.logger.Info("wallet unlocked",
		zap.String("address", signer.Address), zap.Time("until", s.unlockedUntil))
	return nil
}

// Lock discards the signer and revokes active sessions.
func (s *Session) Lock() error {
	s.mu.Lock()
	addr := ""
	if s.signer != nil {
		addr = s.signer.Address
		s.signer.zero()
		s.signer = nil
	}
	s.unlockedUntil = time.Time{}
	s.mu.Unlock()

	if err := s.store.RevokeUnlockSessions(); err != nil {
		return err
	}
	if err := s.store.AppendWalletAudit("wallet:lock", addr); err != nil {
		return err
	}
	s.logger.Info("wallet locked")
	return nil
}

// IsUnlocked reports whether a signer is present and unexpired.
func (s *Session) IsUnlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signer != nil && time.Now().Before(s.unlockedUntil)
}

// Account returns a snapshot of the signer for the duration of one
// action, or ErrLocked.
func (s *Session) Account() (*Signer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signer == nil || !time.Now().Before(s.unlockedUntil) {
		return nil, ErrLocked
	}
	return s.signer, nil
}

// Address returns the wallet address if known, locked or not.
func (s *Session) Address() string {
	s.mu.Lock()
	if s.signer != nil {
		defer s.mu.Unlock()
		return s.signer.Address
	}
	s.mu.Unlock()
	// fall back to the last unlock session's recorded address
	if sess, err := s.store.ActiveUnlockSession(); err == nil && sess != nil {
		return sess.Address
	}
	return ""
}

// Rotate re-encrypts the keystore under a new passphrase and locks.
// The new passphrase must differ from the old, be at least 12 runes,
// and contain at least 3 of: lower, upper, digit, symbol.
func (s *Session) Rotate(oldPassphrase, newPassphrase string) error {
	if oldPassphrase == newPassphrase {
		return errors.New("new passphrase must differ from the old one")
	}
	if err := CheckPassphraseStrength(newPassphrase); err != nil {
		return err
	}
	if err := Rotate(s.keystorePath, oldPassphrase, newPassphrase); err != nil {
		return err
	}
	if err := s.store.AppendWalletAudit("wallet:rotate", ""); err != nil {
		return err
	}
	return s.Lock()
}

// CheckPassphraseStrength enforces the rotation password policy.
func CheckPassphraseStrength(pass string) error {
	if len([]rune(pass)) < 12 {
		return errors.New("passphrase must be at least 12 characters")
	}
	var lower, upper, digit, symbol bool
	for _, r := range pass {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < 3 {
		return errors.New("passphrase needs at least 3 character classes (lower, upper, digit, symbol)")
	}
	return nil
}
