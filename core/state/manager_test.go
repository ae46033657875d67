package state

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"tokenescrow/core/types"
	"tokenescrow/native/escrow"
	"tokenescrow/storage"
)

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestWritesStayPendingUntilCommit(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	require.NoError(t, mgr.RegisterToken("tkn", "Test Token", 18, testAddress(0x01)))
	require.NoError(t, mgr.SetBalance(testAddress(0x02), "TKN", big.NewInt(42)))
	require.Equal(t, 2, mgr.Dirty())

	bal, err := mgr.Balance(testAddress(0x02), "tkn")
	require.NoError(t, err)
	require.Equal(t, int64(42), bal.Int64(), "pending writes must be readable")

	fresh := NewManager(db)
	meta, err := fresh.Token("TKN")
	require.NoError(t, err)
	require.Nil(t, meta, "uncommitted writes leaked into the database")

	require.NoError(t, mgr.Commit())
	require.Zero(t, mgr.Dirty())

	fresh = NewManager(db)
	bal, err = fresh.Balance(testAddress(0x02), "TKN")
	require.NoError(t, err)
	require.Equal(t, int64(42), bal.Int64())
}

func TestRegisterTokenRules(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.Error(t, mgr.RegisterToken(" ", "x", 0, testAddress(1)))
	require.Error(t, mgr.RegisterToken("TKN", " ", 0, testAddress(1)))
	require.NoError(t, mgr.RegisterToken("TKN", "Token", 6, testAddress(1)))
	require.Error(t, mgr.RegisterToken("tkn", "Token", 6, testAddress(1)))

	meta, err := mgr.Token("tkn")
	require.NoError(t, err)
	require.Equal(t, "TKN", meta.Symbol)
	require.Equal(t, uint8(6), meta.Decimals)
	require.Equal(t, testAddress(1), meta.Address)
	require.Zero(t, meta.TotalSupply.Sign())

	require.NoError(t, mgr.SetTotalSupply("TKN", big.NewInt(10)))
	meta, err = mgr.Token("TKN")
	require.NoError(t, err)
	require.Equal(t, int64(10), meta.TotalSupply.Int64())
}

func TestSetBalanceRequiresRegisteredToken(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.Error(t, mgr.SetBalance(testAddress(1), "NOPE", big.NewInt(1)))
	require.NoError(t, mgr.RegisterToken("MATIC", "Matic", 18, [20]byte{}))
	require.Error(t, mgr.SetBalance(testAddress(1), "MATIC", big.NewInt(-1)))

	bal, err := mgr.Balance(testAddress(9), "MATIC")
	require.NoError(t, err)
	require.Zero(t, bal.Sign())
}

func TestEscrowRecordRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	_, ok, err := mgr.EscrowGet()
	require.NoError(t, err)
	require.False(t, ok)

	seller, buyer, token := testAddress(0x11), testAddress(0x22), testAddress(0x33)
	record := &escrow.Escrow{
		Seller:          seller,
		Buyer:           buyer,
		Token:           token,
		Address:         escrow.DeriveAddress(seller, buyer, token),
		Phase:           escrow.PhaseVesting,
		Offer:           escrow.Offer{TokenAmount: big.NewInt(100_000), NativeAmount: big.NewInt(40)},
		PaidOut:         big.NewInt(40),
		DepositedTokens: big.NewInt(100_000),
		FirstClaimAt:    1_000,
		SecondClaimAt:   2_000,
		FirstClaimed:    true,
		CreatedAt:       500,
		DeliveredAt:     600,
	}
	require.NoError(t, mgr.EscrowPut(record))
	require.NoError(t, mgr.Commit())

	loaded, ok, err := NewManager(db).EscrowGet()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.Address, loaded.Address)
	require.Equal(t, escrow.PhaseVesting, loaded.Phase)
	require.Equal(t, 0, loaded.Offer.TokenAmount.Cmp(big.NewInt(100_000)))
	require.Equal(t, 0, loaded.PaidOut.Cmp(big.NewInt(40)))
	require.Zero(t, loaded.EscrowedValue.Sign())
	require.Equal(t, int64(2_000), loaded.SecondClaimAt)
	require.True(t, loaded.FirstClaimed)
	require.False(t, loaded.SecondClaimed)
}

func TestEscrowPutRejectsInvalidRecord(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	err := mgr.EscrowPut(&escrow.Escrow{Seller: testAddress(1), Buyer: testAddress(1), Token: testAddress(2)})
	require.Error(t, err)
	require.Zero(t, mgr.Dirty())
}

func TestEventLog(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	for i, typ := range []string{"a", "b", "c"} {
		seq, err := mgr.AppendEvent(&types.Event{Type: typ, Attributes: map[string]string{"i": string(rune('0' + i)), "z": "last"}}, int64(100+i))
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), seq)
	}
	require.NoError(t, mgr.Commit())

	reader := NewManager(db)
	all, err := reader.Events(0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "a", all[0].Event.Type)
	require.Equal(t, "0", all[0].Event.Attributes["i"])
	require.Equal(t, "last", all[2].Event.Attributes["z"])
	require.Equal(t, int64(102), all[2].Timestamp)

	page, err := reader.Events(1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(2), page[0].Sequence)

	none, err := reader.Events(3, 10)
	require.NoError(t, err)
	require.Empty(t, none)

	require.Len(t, all[0].Hash, 64)
	require.NotEqual(t, all[0].Hash, all[1].Hash)
}

func TestEventLogDetectsTampering(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	for _, typ := range []string{"a", "b"} {
		_, err := mgr.AppendEvent(&types.Event{Type: typ, Attributes: map[string]string{"k": "v"}}, 1)
		require.NoError(t, err)
	}
	require.NoError(t, mgr.Commit())

	raw, err := db.Get(eventEntryKey(2))
	require.NoError(t, err)
	var stored storedEvent
	require.NoError(t, rlp.DecodeBytes(raw, &stored))
	stored.Attributes[0].Value = "forged"
	forged, err := rlp.EncodeToBytes(&stored)
	require.NoError(t, err)
	require.NoError(t, db.Put(eventEntryKey(2), forged))

	_, err = NewManager(db).Events(0, 0)
	require.Error(t, err)
}

func TestEnsureStateVersion(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, EnsureStateVersion(db))

	version, ok, err := NewManager(db).StateVersion()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateVersion, version)
	require.NoError(t, EnsureStateVersion(db))

	mgr := NewManager(db)
	require.NoError(t, mgr.SetStateVersion(StateVersion+1))
	require.NoError(t, mgr.Commit())
	require.ErrorIs(t, EnsureStateVersion(db), ErrStateVersionMismatch)
}

func TestKVRequiresKey(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.Error(t, mgr.KVPut(nil, uint64(1)))
	_, err := mgr.KVGet(nil, new(uint64))
	require.Error(t, err)

	require.NoError(t, mgr.KVPut([]byte("k"), uint64(7)))
	var out uint64
	ok, err := mgr.KVGet([]byte("k"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), out)
}
