// Package wallet owns the encrypted signer keystore and the unlock
// session that gates mutating actions. The keystore is scrypt +
// AES-256-GCM over an ed25519 private key; signing semantics beyond
// holding the key are out of the runtime's scope.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters; interactive-grade hardness.
const (
	scryptN      = 1 << 17
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// ErrBadPassphrase is returned when decryption fails authentication.
var ErrBadPassphrase = errors.New("wallet passphrase incorrect")

// Keystore is the on-disk encrypted key envelope.
type Keystore struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	Salt       string `json:"salt"`
	KDF        string `json:"kdf"`
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
}

// Signer is a decrypted in-memory signing key.
type Signer struct {
	Address string
	priv    ed25519.PrivateKey
}

// Sign signs a digest with the session key.
func (s *Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.priv, msg)
}

// zero wipes the private key material.
func (s *Signer) zero() {
	for i := range s.priv {
		s.priv[i] = 0
	}
	s.priv = nil
}

// addressOf derives the wallet address: 0x + first 20 bytes of the
// sha256 of the public key.
func addressOf(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "0x" + hex.EncodeToString(sum[:20])
}

// Generate creates a fresh key, encrypts it under passphrase, and
// writes the keystore to path with 0600 permissions.
func Generate(path, passphrase string) (string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	addr := addressOf(pub)
	if err := writeKeystore(path, addr, priv, passphrase); err != nil {
		return "", err
	}
	return addr, nil
}

// Decrypt opens the keystore at path with passphrase and returns the
// in-memory signer.
func Decrypt(path, passphrase string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	var ks Keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}

	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := hex.DecodeString(ks.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	key, err := scrypt.Key([]byte(passphrase), salt, ks.N, ks.R, ks.P, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	priv := ed25519.PrivateKey(plain)
	return &Signer{Address: ks.Address, priv: priv}, nil
}

// Rotate re-encrypts the keystore under a new passphrase.
func Rotate(path, oldPassphrase, newPassphrase string) error {
	signer, err := Decrypt(path, oldPassphrase)
	if err != nil {
		return err
	}
	defer signer.zero()
	return writeKeystore(path, signer.Address, signer.priv, newPassphrase)
}

func writeKeystore(path, address string, priv ed25519.PrivateKey, passphrase string) error {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	ct := gcm.Seal(nil, nonce, priv, nil)

	ks := Keystore{
		Version:    1,
		Address:    address,
		Ciphertext: hex.EncodeToString(ct),
		Nonce:      hex.EncodeToString(nonce),
		Salt:       hex.EncodeToString(salt),
		KDF:        "scrypt",
		N:          scryptN,
		R:          scryptR,
		P:          scryptP,
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keystore: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create keystore dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
