package state

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tokenescrow/storage"
)

// Manager reads through to the backing database and buffers every write until
// Commit. A manager that is never committed leaves the database untouched, so
// callers build one per operation and drop it when the operation fails.
//
// Manager is not safe for concurrent use.
type Manager struct {
	db      storage.Database
	pending map[string][]byte
	order   []string
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, pending: make(map[string][]byte)}
}

// TokenMetadata describes a ledger registered in state. Both the fungible
// token and the native currency are registered this way.
type TokenMetadata struct {
	Symbol      string
	Name        string
	Decimals    uint8
	Address     [20]byte
	TotalSupply *big.Int
}

var (
	tokenPrefix   = []byte("token:")
	balancePrefix = []byte("balance:")
)

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(addr [20]byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr[:])
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (m *Manager) get(key []byte) ([]byte, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: database not configured")
	}
	if value, ok := m.pending[string(key)]; ok {
		return value, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) put(key, value []byte) {
	k := string(key)
	if _, ok := m.pending[k]; !ok {
		m.order = append(m.order, k)
	}
	m.pending[k] = append([]byte(nil), value...)
}

func (m *Manager) putRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.put(key, encoded)
	return nil
}

func (m *Manager) getRLP(key []byte, out interface{}) (bool, error) {
	data, err := m.get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Dirty reports the number of buffered writes.
func (m *Manager) Dirty() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// Commit flushes all buffered writes in a single storage batch. The manager
// can keep being used afterwards.
func (m *Manager) Commit() error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	if len(m.order) == 0 {
		return nil
	}
	batch := m.db.NewBatch()
	for _, k := range m.order {
		batch.Put([]byte(k), m.pending[k])
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.pending = make(map[string][]byte)
	m.order = nil
	return nil
}

// RegisterToken stores the metadata for a ledger symbol.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8, addr [20]byte) error {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if existing, err := m.Token(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}
	meta := &TokenMetadata{
		Symbol:      normalized,
		Name:        strings.TrimSpace(name),
		Decimals:    decimals,
		Address:     addr,
		TotalSupply: big.NewInt(0),
	}
	return m.putRLP(tokenMetadataKey(normalized), meta)
}

// Token retrieves metadata for a registered ledger symbol, or nil when the
// symbol is unknown.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.getRLP(tokenMetadataKey(normalizeSymbol(symbol)), meta)
	if err != nil || !ok {
		return nil, err
	}
	if meta.TotalSupply == nil {
		meta.TotalSupply = big.NewInt(0)
	}
	return meta, nil
}

// SetTotalSupply records the supply of a registered ledger.
func (m *Manager) SetTotalSupply(symbol string, supply *big.Int) error {
	meta, err := m.Token(symbol)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %s not registered", normalizeSymbol(symbol))
	}
	if supply == nil || supply.Sign() < 0 {
		return fmt.Errorf("token %s: invalid supply", meta.Symbol)
	}
	meta.TotalSupply = new(big.Int).Set(supply)
	return m.putRLP(tokenMetadataKey(meta.Symbol), meta)
}

// SetBalance stores an account balance for the provided ledger symbol.
func (m *Manager) SetBalance(addr [20]byte, symbol string, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if meta, err := m.Token(normalized); err != nil {
		return err
	} else if meta == nil {
		return fmt.Errorf("token %s not registered", normalized)
	}
	return m.putRLP(balanceKey(addr, normalized), amount)
}

// Balance retrieves the balance of addr on the ledger identified by symbol.
func (m *Manager) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.getRLP(balanceKey(addr, normalizeSymbol(symbol)), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.putRLP(kvKey(key), value)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.getRLP(kvKey(key), out)
}
