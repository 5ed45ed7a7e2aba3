package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateSalt(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}

	if len(salt) != SaltSize {
		t.Errorf("GenerateSalt() length = %d, want %d", len(salt), SaltSize)
	}

	// Salts should be unique
	salt2, _ := GenerateSalt()
	if bytes.Equal(salt, salt2) {
		t.Error("GenerateSalt() generated duplicate salts")
	}
}

func TestNewPageCipherInvalidInput(t *testing.T) {
	salt, _ := GenerateSalt()

	tests := []struct {
		name     string
		password string
		salt     []byte
		want     error
	}{
		{"empty password", "", salt, ErrEmptyPassword},
		{"short salt", "secret", make([]byte, 8), ErrInvalidSalt},
		{"nil salt", "secret", nil, ErrInvalidSalt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPageCipher(tt.password, tt.salt)
			if err != tt.want {
				t.Errorf("NewPageCipher() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncryptDecryptPage(t *testing.T) {
	salt, _ := GenerateSalt()
	c, err := NewPageCipher("secret", salt)
	if err != nil {
		t.Fatalf("NewPageCipher() error = %v", err)
	}

	plain := bytes.Repeat([]byte("pagedb!!"), 1024)
	buf := append([]byte(nil), plain...)

	if err := c.EncryptPage(buf, 7); err != nil {
		t.Fatalf("EncryptPage() error = %v", err)
	}
	if bytes.Equal(buf, plain) {
		t.Fatal("EncryptPage() left the page unchanged")
	}

	// Same content at a different position must encrypt differently
	other := append([]byte(nil), plain...)
	c.EncryptPage(other, 8)
	if bytes.Equal(buf, other) {
		t.Error("EncryptPage() produced identical output for different positions")
	}

	if err := c.DecryptPage(buf, 7); err != nil {
		t.Fatalf("DecryptPage() error = %v", err)
	}
	if !bytes.Equal(buf, plain) {
		t.Error("DecryptPage() did not restore the plaintext")
	}
}

func TestEncryptPageInvalidSize(t *testing.T) {
	salt, _ := GenerateSalt()
	c, _ := NewPageCipher("secret", salt)

	if err := c.EncryptPage(make([]byte, 17), 0); err != ErrInvalidBlockSize {
		t.Errorf("EncryptPage() error = %v, want %v", err, ErrInvalidBlockSize)
	}
}

func TestVerify(t *testing.T) {
	salt, _ := GenerateSalt()
	c, _ := NewPageCipher("secret", salt)
	check := c.KeyCheck()

	same, _ := NewPageCipher("secret", salt)
	if err := same.Verify(check[:]); err != nil {
		t.Errorf("Verify() with same password error = %v", err)
	}

	wrong, _ := NewPageCipher("wrong", salt)
	if err := wrong.Verify(check[:]); err != ErrInvalidPassword {
		t.Errorf("Verify() with wrong password error = %v, want %v", err, ErrInvalidPassword)
	}
}
