// Package crypto implements flock's end-to-end messaging capability:
// a long-term RSA-2048 identity per local username, a cache of peers'
// public keys learned via PUBKEY_REQ/PUBKEY_RES, and a hybrid
// RSA-OAEP + AES-GCM codec for the wire payload carried by MESSAGE.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"
)

const keyBits = 2048

// KeyStore owns the local identity's private key and a cache of known
// peer public keys, keyed by username.
type KeyStore struct {
	mu      sync.RWMutex
	private *rsa.PrivateKey
	peers   map[string]*rsa.PublicKey
}

// LoadOrCreate loads a persisted RSA keypair from privatePath/publicPath,
// or generates and persists a fresh one if privatePath doesn't exist.
func LoadOrCreate(privatePath, publicPath string) (*KeyStore, error) {
	priv, err := loadPrivate(privatePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("crypto: load private key: %w", err)
		}
		priv, err = rsa.GenerateKey(rand.Reader, keyBits)
		if err != nil {
			return nil, fmt.Errorf("crypto: generate key: %w", err)
		}
		if err := savePrivate(privatePath, priv); err != nil {
			return nil, fmt.Errorf("crypto: save private key: %w", err)
		}
		if err := savePublic(publicPath, &priv.PublicKey); err != nil {
			return nil, fmt.Errorf("crypto: save public key: %w", err)
		}
	}
	return &KeyStore{private: priv, peers: make(map[string]*rsa.PublicKey)}, nil
}

// PublicKey returns the local identity's public key.
func (k *KeyStore) PublicKey() *rsa.PublicKey {
	return &k.private.PublicKey
}

// PutPeer records or replaces the cached public key for a peer username.
func (k *KeyStore) PutPeer(username string, pub *rsa.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.peers[username] = pub
}

// PeerKey returns the cached public key for username, if any.
func (k *KeyStore) PeerKey(username string) (*rsa.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, ok := k.peers[username]
	return pub, ok
}

func loadPrivate(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("crypto: %s is not a PEM file", path)
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

func savePrivate(path string, priv *rsa.PrivateKey) error {
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o600)
}

func savePublic(path string, pub *rsa.PublicKey) error {
	block := &pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(pub)}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o644)
}

// EncodePublicKey renders a public key as base64(DER), for PUBKEY_RES.
func EncodePublicKey(pub *rsa.PublicKey) string {
	return b64.EncodeToString(x509.MarshalPKCS1PublicKey(pub))
}

// DecodePublicKey parses a base64(DER) public key, as received in
// PUBKEY_RES.
func DecodePublicKey(s string) (*rsa.PublicKey, error) {
	der, err := b64.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode public key: %w", err)
	}
	return x509.ParsePKCS1PublicKey(der)
}
