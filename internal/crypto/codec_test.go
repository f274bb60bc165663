package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestKeyStore(t *testing.T) *KeyStore {
	t.Helper()
	dir := t.TempDir()
	ks, err := LoadOrCreate(filepath.Join(dir, "id_rsa"), filepath.Join(dir, "id_rsa.pub"))
	require.NoError(t, err)
	return ks
}

func TestLoadOrCreatePersistsKeypair(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "id_rsa")
	pub := filepath.Join(dir, "id_rsa.pub")

	a, err := LoadOrCreate(priv, pub)
	require.NoError(t, err)

	b, err := LoadOrCreate(priv, pub)
	require.NoError(t, err)

	require.Equal(t, a.PublicKey().N, b.PublicKey().N)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice := newTestKeyStore(t)
	bob := newTestKeyStore(t)

	codec := NewCodec(bob)
	plaintext := []byte("hello bob, this is alice")

	payload, err := NewCodec(alice).Encrypt(bob.PublicKey(), plaintext)
	require.NoError(t, err)

	got, err := codec.Decrypt(payload)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptRejectsTamperedPayload(t *testing.T) {
	bob := newTestKeyStore(t)
	codec := NewCodec(bob)

	payload, err := NewCodec(bob).Encrypt(bob.PublicKey(), []byte("secret"))
	require.NoError(t, err)

	tampered := payload[:len(payload)-4] + "AAAA"
	_, err = codec.Decrypt(tampered)
	require.Error(t, err)
}

func TestPublicKeyEncodeDecodeRoundTrip(t *testing.T) {
	ks := newTestKeyStore(t)
	encoded := EncodePublicKey(ks.PublicKey())

	decoded, err := DecodePublicKey(encoded)
	require.NoError(t, err)
	require.Equal(t, ks.PublicKey().N, decoded.N)
}

func TestPeerKeyCache(t *testing.T) {
	ks := newTestKeyStore(t)
	other := newTestKeyStore(t)

	_, ok := ks.PeerKey("bob")
	require.False(t, ok)

	ks.PutPeer("bob", other.PublicKey())
	got, ok := ks.PeerKey("bob")
	require.True(t, ok)
	require.Equal(t, other.PublicKey().N, got.N)
}
