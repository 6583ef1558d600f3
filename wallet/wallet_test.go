package wallet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/confirmledger/meta"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func TestAddressRoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		id, err := GenerateKeyPair()
		require.NoError(t, err)
		assert.Len(t, id.PublicKey, PublicKeySize)
		assert.True(t, ValidateAddress(id.Address), id.Address)
		assert.Equal(t, id.Address, DeriveAddress(id.PublicKey))
		assert.True(t, strings.HasPrefix(id.Address, "1"))
	}
}

func TestAddressSingleCharFlip(t *testing.T) {
	id, err := GenerateKeyPair()
	require.NoError(t, err)

	for i := range id.Address {
		for _, c := range base58Alphabet {
			if byte(c) == id.Address[i] {
				continue
			}
			flipped := id.Address[:i] + string(c) + id.Address[i+1:]
			assert.False(t, ValidateAddress(flipped), flipped)
		}
	}
}

func TestValidateAddressGarbage(t *testing.T) {
	for _, addr := range []string{"", "0", "genesis", "0OIl", "1", strings.Repeat("z", 200), "1111111111111111111111111"} {
		assert.False(t, ValidateAddress(addr), addr)
	}
}

func TestImportPrivateKey(t *testing.T) {
	id, err := GenerateKeyPair()
	require.NoError(t, err)

	again, err := ImportPrivateKeyHex(id.PrivateKeyHex())
	require.NoError(t, err)
	assert.Equal(t, id.Address, again.Address)
	assert.True(t, bytes.Equal(id.PublicKey, again.PublicKey))
}

func TestImportPrivateKeyInvalid(t *testing.T) {
	cases := map[string][]byte{
		"short": make([]byte, 31),
		"long":  make([]byte, 33),
		"zero":  make([]byte, 32),
		"order": btcec.S256().N.Bytes(),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ImportPrivateKey(b)
			assert.True(t, errors.Is(err, meta.ErrInvalidKey), "%v", err)
		})
	}

	_, err := ImportPrivateKeyHex("zz")
	assert.True(t, errors.Is(err, meta.ErrInvalidKey))
}

func TestSignVerify(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("hello")
	sig, err := alice.Sign(msg)
	require.NoError(t, err)

	assert.True(t, VerifySignature(alice.PublicKey, msg, sig))
	assert.False(t, VerifySignature(bob.PublicKey, msg, sig))
	assert.False(t, VerifySignature(alice.PublicKey, []byte("hellO"), sig))
	assert.False(t, VerifySignature(alice.PublicKey, msg, "nothex"))
	assert.False(t, VerifySignature(alice.PublicKey, msg, "3006020101020101"))
	assert.False(t, VerifySignature(make([]byte, PublicKeySize), msg, sig))
	assert.False(t, VerifySignature([]byte{1, 2, 3}, msg, sig))
}

func TestMemoryRegistry(t *testing.T) {
	id, err := GenerateKeyPair()
	require.NoError(t, err)

	r := NewMemoryRegistry()
	_, ok := r.PublicKey(id.Address)
	assert.False(t, ok)

	assert.Equal(t, id.Address, r.Register(id.PublicKey))
	pub, ok := r.PublicKey(id.Address)
	require.True(t, ok)
	assert.Equal(t, id.PublicKey, pub)

	r.Remove(id.Address)
	_, ok = r.PublicKey(id.Address)
	assert.False(t, ok)
}
