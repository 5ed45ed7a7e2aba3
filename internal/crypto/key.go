package crypto

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/xts"
)

// Key derivation constants.
const (
	SaltSize      = 16     // per-file random salt
	KeySize       = 64     // AES-256-XTS uses two 32-byte keys
	CheckSize     = 16     // password verifier stored in the file header
	KDFIterations = 100000 // PBKDF2 rounds
)

// Errors returned by crypto operations.
var (
	ErrEmptyPassword    = errors.New("password must not be empty")
	ErrInvalidSalt      = errors.New("invalid salt: must be 16 bytes")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrInvalidBlockSize = errors.New("page size must be a multiple of 16 bytes")
)

// PageCipher encrypts fixed-size pages with AES-256-XTS.
type PageCipher struct {
	xts   *xts.Cipher
	check [CheckSize]byte
}

// GenerateSalt returns a new random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// NewPageCipher derives the page cipher for password and salt.
func NewPageCipher(password string, salt []byte) (*PageCipher, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if len(salt) != SaltSize {
		return nil, ErrInvalidSalt
	}

	material := pbkdf2.Key([]byte(password), salt, KDFIterations, KeySize+CheckSize, sha256.New)
	c, err := xts.NewCipher(aes.NewCipher, material[:KeySize])
	if err != nil {
		return nil, err
	}

	pc := &PageCipher{xts: c}
	sum := sha256.Sum256(material[KeySize:])
	copy(pc.check[:], sum[:CheckSize])
	return pc, nil
}

// KeyCheck returns the verifier to persist alongside the salt.
func (c *PageCipher) KeyCheck() [CheckSize]byte {
	return c.check
}

// Verify compares the cipher's verifier with a persisted one.
func (c *PageCipher) Verify(check []byte) error {
	if subtle.ConstantTimeCompare(c.check[:], check) != 1 {
		return ErrInvalidPassword
	}
	return nil
}

// EncryptPage encrypts buf in place. position is the page's sector number.
func (c *PageCipher) EncryptPage(buf []byte, position uint64) error {
	if len(buf)%16 != 0 {
		return ErrInvalidBlockSize
	}
	c.xts.Encrypt(buf, buf, position)
	return nil
}

// DecryptPage decrypts buf in place.
func (c *PageCipher) DecryptPage(buf []byte, position uint64) error {
	if len(buf)%16 != 0 {
		return ErrInvalidBlockSize
	}
	c.xts.Decrypt(buf, buf, position)
	return nil
}
