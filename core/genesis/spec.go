package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"tokenescrow/crypto"
	"tokenescrow/native/bank"
)

// Spec is the provisioning document applied to an empty database.
type Spec struct {
	Network string      `yaml:"network"`
	Testnet bool        `yaml:"testnet"`
	Token   TokenSpec   `yaml:"token"`
	Native  NativeSpec  `yaml:"native"`
	Escrow  EscrowSpec  `yaml:"escrow"`
	Alloc   []AllocSpec `yaml:"alloc"`

	tokenAddr [20]byte
	seller    [20]byte
	buyer     [20]byte
	supply    *big.Int
}

// TokenSpec binds the fungible token ledger. On a testnet the address may be
// omitted, in which case a test token is created and its supply is minted to
// the seller.
type TokenSpec struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals uint8  `yaml:"decimals"`
	Supply   string `yaml:"supply"`
}

type NativeSpec struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals uint8  `yaml:"decimals"`
}

type EscrowSpec struct {
	Seller string `yaml:"seller"`
	Buyer  string `yaml:"buyer"`
}

// AllocSpec seeds balances. Amounts are decimal strings in base units.
type AllocSpec struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
	Native  string `yaml:"native"`

	addr   [20]byte
	token  *big.Int
	native *big.Int
}

// LoadSpec reads and validates a YAML genesis file.
func LoadSpec(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseSpec decodes and validates a YAML genesis document.
func ParseSpec(raw []byte) (*Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

// TokenAddress returns the resolved token ledger address.
func (s *Spec) TokenAddress() [20]byte { return s.tokenAddr }

// Principals returns the seller and buyer accounts.
func (s *Spec) Principals() (seller, buyer [20]byte) { return s.seller, s.buyer }

func normalizeName(name string) string {
	return norm.NFKC.String(strings.TrimSpace(name))
}

// TestTokenAddress derives the address a testnet token is created at.
func TestTokenAddress(network, symbol string) [20]byte {
	hash := ethcrypto.Keccak256([]byte("test-token:" + network + ":" + symbol))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", field, value)
	}
	return amount, nil
}

func (s *Spec) validate() error {
	s.Network = normalizeName(s.Network)
	if s.Network == "" {
		return fmt.Errorf("network must be provided")
	}

	s.Token.Symbol = strings.ToUpper(strings.TrimSpace(s.Token.Symbol))
	s.Token.Name = normalizeName(s.Token.Name)
	if s.Token.Symbol == "" || s.Token.Name == "" {
		return fmt.Errorf("token: symbol and name must be provided")
	}
	s.Native.Symbol = strings.ToUpper(strings.TrimSpace(s.Native.Symbol))
	if s.Native.Symbol == "" {
		s.Native.Symbol = bank.DefaultSymbol
	}
	s.Native.Name = normalizeName(s.Native.Name)
	if s.Native.Name == "" {
		s.Native.Name = s.Native.Symbol
	}
	if s.Native.Symbol == s.Token.Symbol {
		return fmt.Errorf("token and native symbols must differ")
	}

	var err error
	if s.seller, err = crypto.ParseAccount(s.Escrow.Seller, crypto.AccountPrefix); err != nil {
		return fmt.Errorf("escrow.seller: %w", err)
	}
	if s.buyer, err = crypto.ParseAccount(s.Escrow.Buyer, crypto.AccountPrefix); err != nil {
		return fmt.Errorf("escrow.buyer: %w", err)
	}
	if s.seller == s.buyer {
		return fmt.Errorf("escrow: seller and buyer must differ")
	}

	if s.supply, err = parseAmount("token.supply", s.Token.Supply); err != nil {
		return err
	}
	if strings.TrimSpace(s.Token.Address) == "" {
		if !s.Testnet {
			return fmt.Errorf("token.address must be provided outside testnets")
		}
		s.tokenAddr = TestTokenAddress(s.Network, s.Token.Symbol)
	} else {
		if s.tokenAddr, err = crypto.ParseAccount(s.Token.Address, crypto.TokenPrefix); err != nil {
			return fmt.Errorf("token.address: %w", err)
		}
		if s.supply.Sign() > 0 {
			return fmt.Errorf("token.supply is only minted for testnet tokens")
		}
	}

	seen := make(map[[20]byte]struct{}, len(s.Alloc))
	for i := range s.Alloc {
		alloc := &s.Alloc[i]
		if alloc.addr, err = crypto.ParseAccount(alloc.Address, crypto.AccountPrefix); err != nil {
			return fmt.Errorf("alloc[%d]: %w", i, err)
		}
		if _, dup := seen[alloc.addr]; dup {
			return fmt.Errorf("alloc[%d]: duplicate address %q", i, alloc.Address)
		}
		seen[alloc.addr] = struct{}{}
		if alloc.token, err = parseAmount(fmt.Sprintf("alloc[%d].token", i), alloc.Token); err != nil {
			return err
		}
		if alloc.native, err = parseAmount(fmt.Sprintf("alloc[%d].native", i), alloc.Native); err != nil {
			return err
		}
	}
	return nil
}
