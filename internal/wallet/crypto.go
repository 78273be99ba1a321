package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode"

	"github.com/klingon-exchange/klingon-dlc/pkg/helpers"
	"golang.org/x/crypto/argon2"
)

// Seed encryption errors
var (
	ErrWeakPassword  = errors.New("weak password")
	ErrWrongPassword = errors.New("failed to decrypt seed (wrong password?)")
)

// Argon2id parameters (OWASP recommendation).
const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024 // KiB
	argon2Parallelism = 4
	argon2KeyLen      = 32 // AES-256
	argon2SaltLen     = 32
)

// Password limits
const (
	MinPasswordLength = 8
	MaxPasswordLength = 256
)

// EncryptedSeed is a mnemonic sealed with Argon2id and AES-256-GCM, as
// stored on disk.
type EncryptedSeed struct {
	Version     int    `json:"version"`
	Ciphertext  []byte `json:"ciphertext"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Time        uint32 `json:"time"`
	Memory      uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
}

// EncryptMnemonic seals a mnemonic under password.
func EncryptMnemonic(mnemonic, password string) (*EncryptedSeed, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	if !ValidateMnemonic(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	seed := &EncryptedSeed{
		Version:     1,
		Salt:        salt,
		Time:        argon2Time,
		Memory:      argon2Memory,
		Parallelism: argon2Parallelism,
	}
	gcm, err := seed.cipher(password)
	if err != nil {
		return nil, err
	}

	seed.Nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(seed.Nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	seed.Ciphertext = gcm.Seal(nil, seed.Nonce, []byte(mnemonic), nil)
	return seed, nil
}

// DecryptMnemonic opens an encrypted seed.
func DecryptMnemonic(seed *EncryptedSeed, password string) (string, error) {
	gcm, err := seed.cipher(password)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, seed.Nonce, seed.Ciphertext, nil)
	if err != nil {
		return "", ErrWrongPassword
	}
	defer helpers.Wipe(plaintext)

	return string(plaintext), nil
}

// cipher derives the AES-GCM cipher for password. Zero parameters fall back
// to the defaults.
func (s *EncryptedSeed) cipher(password string) (cipher.AEAD, error) {
	time, memory, parallelism := s.Time, s.Memory, s.Parallelism
	if time == 0 {
		time = argon2Time
	}
	if memory == 0 {
		memory = argon2Memory
	}
	if parallelism == 0 {
		parallelism = argon2Parallelism
	}

	key := argon2.IDKey([]byte(password), s.Salt, time, memory, parallelism, argon2KeyLen)
	defer helpers.Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SaveEncryptedSeed writes an encrypted seed with owner-only permissions.
func SaveEncryptedSeed(seed *EncryptedSeed, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.Marshal(seed)
	if err != nil {
		return fmt.Errorf("failed to marshal seed: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write seed file: %w", err)
	}
	return nil
}

// LoadEncryptedSeed reads an encrypted seed file.
func LoadEncryptedSeed(path string) (*EncryptedSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed EncryptedSeed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}

// ValidatePassword requires MinPasswordLength characters and at least 3 of
// upper case, lower case, digits and symbols.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrWeakPassword, MaxPasswordLength)
	}

	var classes [4]bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			classes[0] = true
		case unicode.IsLower(r):
			classes[1] = true
		case unicode.IsNumber(r):
			classes[2] = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			classes[3] = true
		}
	}

	n := 0
	for _, ok := range classes {
		if ok {
			n++
		}
	}
	if n < 3 {
		return fmt.Errorf("%w: needs 3 of upper case, lower case, digits and symbols", ErrWeakPassword)
	}
	return nil
}
