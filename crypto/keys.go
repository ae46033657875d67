package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part of a bech32 encoded principal.
type AddressPrefix string

const (
	// AccountPrefix labels seller, buyer and escrow accounts.
	AccountPrefix AddressPrefix = "esc"
	// TokenPrefix labels fungible token ledger addresses.
	TokenPrefix AddressPrefix = "tok"
)

// Address represents a 20-byte account identifier with a human-readable prefix.
type Address struct {
	prefix AddressPrefix
	bytes  [20]byte
}

// NewAddress wraps raw bytes. It returns an error unless exactly 20 bytes are
// supplied.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes long, got %d", len(b))
	}
	var raw [20]byte
	copy(raw[:], b)
	return Address{prefix: prefix, bytes: raw}, nil
}

// MustNewAddress is NewAddress for fixed test and genesis inputs.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

// FromRaw labels a raw account identifier with the supplied prefix.
func FromRaw(prefix AddressPrefix, raw [20]byte) Address {
	return Address{prefix: prefix, bytes: raw}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, len(a.bytes))
	copy(out, a.bytes[:])
	return out
}

// Raw returns the fixed-size identifier used by the ledgers and the engine.
func (a Address) Raw() [20]byte { return a.bytes }

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// DecodeAddress parses any bech32 address with a 20-byte payload.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// ParseAccount decodes a bech32 address and checks it carries the expected
// prefix.
func ParseAccount(addrStr string, prefix AddressPrefix) ([20]byte, error) {
	if strings.TrimSpace(addrStr) == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		return [20]byte{}, err
	}
	if addr.Prefix() != prefix {
		return [20]byte{}, fmt.Errorf("unsupported address prefix %q (want %q)", addr.Prefix(), prefix)
	}
	return addr.Raw(), nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the account address of the key.
func (k *PublicKey) Address() Address {
	return FromRaw(AccountPrefix, [20]byte(crypto.PubkeyToAddress(*k.PublicKey)))
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
