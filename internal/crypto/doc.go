// Package crypto provides password-based page encryption for PageDB files.
//
// A 64-byte AES-256-XTS key and a 16-byte password verifier are derived from
// the password and a random per-file salt with PBKDF2-SHA256. Pages are
// encrypted in place with the page position as the XTS sector number, so an
// encrypted page has exactly the size of a plain one.
//
// Usage:
//
//	salt, err := crypto.GenerateSalt()
//
//	// Derive the page cipher
//	c, err := crypto.NewPageCipher("secret", salt)
//
//	// Encrypt and decrypt a page image in place
//	c.EncryptPage(buf, position)
//	c.DecryptPage(buf, position)
package crypto
