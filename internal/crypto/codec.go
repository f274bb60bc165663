package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
)

var b64 = base64.StdEncoding

const (
	aesKeySize   = 32 // 256-bit symmetric key
	nonceSize    = 12 // 96-bit GCM nonce
	lenPrefixLen = 2  // u16_be(len(e))
)

// Codec implements the hybrid RSA-OAEP(sha256) + AES-GCM scheme carried
// as the MESSAGE payload: a fresh symmetric key per message is wrapped
// with the recipient's RSA public key, so the recipient's long-term
// identity never directly touches message content.
type Codec struct {
	ks *KeyStore
}

// NewCodec builds a Codec backed by ks for decrypting with the local
// private key.
func NewCodec(ks *KeyStore) *Codec {
	return &Codec{ks: ks}
}

// Encrypt produces the base64 wire payload of plaintext for recipient,
// whose public key must already be known.
func (c *Codec) Encrypt(recipient *rsa.PublicKey, plaintext []byte) (string, error) {
	key := make([]byte, aesKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("crypto: generate session key: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("crypto: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: gcm: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, recipient, key, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: wrap session key: %w", err)
	}

	payload := make([]byte, 0, lenPrefixLen+len(wrapped)+nonceSize+len(ciphertext))
	lenBuf := make([]byte, lenPrefixLen)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(wrapped)))
	payload = append(payload, lenBuf...)
	payload = append(payload, wrapped...)
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)

	return b64.EncodeToString(payload), nil
}

// Decrypt reverses Encrypt using the local identity's private key.
func (c *Codec) Decrypt(payload string) ([]byte, error) {
	raw, err := b64.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode payload: %w", err)
	}
	if len(raw) < lenPrefixLen {
		return nil, fmt.Errorf("crypto: payload too short")
	}
	wrappedLen := int(binary.BigEndian.Uint16(raw[:lenPrefixLen]))
	raw = raw[lenPrefixLen:]
	if len(raw) < wrappedLen+nonceSize {
		return nil, fmt.Errorf("crypto: payload too short for key+nonce")
	}
	wrapped := raw[:wrappedLen]
	nonce := raw[wrappedLen : wrappedLen+nonceSize]
	ciphertext := raw[wrappedLen+nonceSize:]

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, c.ks.private, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: unwrap session key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt: %w", err)
	}
	return plaintext, nil
}
