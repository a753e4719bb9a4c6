package cryptostore

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := LoadOrCreateKey(filepath.Join(t.TempDir(), "secret.key"))
	require.NoError(t, err)
	c, err := New(key)
	require.NoError(t, err)
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plaintext := range [][]byte{
		[]byte(`{"name":"Asha","phone":"9876543210"}`),
		{},
		bytes.Repeat([]byte{0xAB}, 4096),
	} {
		blob, err := c.Encrypt(plaintext)
		require.NoError(t, err)

		got, err := c.Decrypt(blob)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(plaintext, got))
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c := newTestCipher(t)

	a, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecryptWrongKey(t *testing.T) {
	a := newTestCipher(t)
	b := newTestCipher(t)

	blob, err := a.Encrypt([]byte("secret facts"))
	require.NoError(t, err)

	_, err = b.Decrypt(blob)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptTampered(t *testing.T) {
	c := newTestCipher(t)

	blob, err := c.Encrypt([]byte("secret facts"))
	require.NoError(t, err)

	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0x01
	_, err = c.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = c.Decrypt(blob[:10])
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = c.Decrypt(nil)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestEncryptJSON(t *testing.T) {
	c := newTestCipher(t)

	in := map[string]string{"name": "Asha", "jee_percentile": "97.4"}
	blob, err := c.EncryptJSON(in)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, c.DecryptJSON(blob, &out))
	assert.Equal(t, in, out)

	notJSON, err := c.Encrypt([]byte("plain text"))
	require.NoError(t, err)
	assert.ErrorIs(t, c.DecryptJSON(notJSON, &out), ErrInvalidCiphertext)
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New(make([]byte, 16))
	assert.Error(t, err)
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "secret.key")

	first, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Len(t, first, KeySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	second, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateKeyConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.key")

	const callers = 8
	keys := make([][]byte, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], errs[i] = LoadOrCreateKey(path)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, keys[0], keys[i])
	}
}

func TestLoadOrCreateKeyCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.key")
	require.NoError(t, os.WriteFile(path, []byte("not base64 !!"), 0o600))

	_, err := LoadOrCreateKey(path)
	assert.Error(t, err)
}
