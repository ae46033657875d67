package crypto

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x11}, 20)
	addr := MustNewAddress(AccountPrefix, raw)

	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, AccountPrefix, decoded.Prefix())
	require.Equal(t, raw, decoded.Bytes())

	parsed, err := ParseAccount(addr.String(), AccountPrefix)
	require.NoError(t, err)
	require.Equal(t, addr.Raw(), parsed)
}

func TestParseAccountRejectsWrongPrefix(t *testing.T) {
	tokenAddr := MustNewAddress(TokenPrefix, bytes.Repeat([]byte{0x22}, 20))
	_, err := ParseAccount(tokenAddr.String(), AccountPrefix)
	require.Error(t, err)

	_, err = ParseAccount("  ", AccountPrefix)
	require.Error(t, err)
}

func TestNewAddressLength(t *testing.T) {
	_, err := NewAddress(AccountPrefix, []byte{0x01})
	require.Error(t, err)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys", "seller.keystore")
	addr, err := SaveToKeystore(path, key, "pass")
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address(), addr)

	loaded, err := LoadFromKeystore(path, "pass")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
