package genesis

import (
	"errors"
	"fmt"
	"time"

	"tokenescrow/core/events"
	"tokenescrow/core/state"
	"tokenescrow/native/bank"
	"tokenescrow/native/escrow"
	"tokenescrow/native/token"
	"tokenescrow/storage"
)

// ErrAlreadyApplied is returned when the database has already been provisioned.
var ErrAlreadyApplied = errors.New("genesis: already applied")

// Apply provisions an empty database: it registers both ledgers, seeds the
// allocations and deploys the escrow. Everything is committed in one batch.
func Apply(db storage.Database, spec *Spec, now time.Time) (*escrow.Escrow, error) {
	if spec == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	manager := state.NewManager(db)
	if _, applied, err := manager.GenesisApplied(); err != nil {
		return nil, err
	} else if applied {
		return nil, ErrAlreadyApplied
	}

	if err := manager.RegisterToken(spec.Token.Symbol, spec.Token.Name, spec.Token.Decimals, spec.tokenAddr); err != nil {
		return nil, fmt.Errorf("register token %q: %w", spec.Token.Symbol, err)
	}
	if err := manager.RegisterToken(spec.Native.Symbol, spec.Native.Name, spec.Native.Decimals, [20]byte{}); err != nil {
		return nil, fmt.Errorf("register native %q: %w", spec.Native.Symbol, err)
	}

	recorder := &events.Recorder{}
	tokens := token.NewLedger(manager, spec.Token.Symbol)
	tokens.SetEmitter(recorder)
	native := bank.NewLedger(manager, spec.Native.Symbol)
	native.SetEmitter(recorder)

	if spec.supply.Sign() > 0 {
		if err := tokens.Mint(spec.seller, spec.supply); err != nil {
			return nil, fmt.Errorf("mint test token supply: %w", err)
		}
	}
	for i := range spec.Alloc {
		alloc := &spec.Alloc[i]
		if alloc.token.Sign() > 0 {
			if err := tokens.Mint(alloc.addr, alloc.token); err != nil {
				return nil, fmt.Errorf("alloc[%d] token: %w", i, err)
			}
		}
		if alloc.native.Sign() > 0 {
			if err := native.Credit(alloc.addr, alloc.native); err != nil {
				return nil, fmt.Errorf("alloc[%d] native: %w", i, err)
			}
		}
	}

	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetTokenLedger(tokens)
	engine.SetNativeLedger(native)
	engine.SetEmitter(recorder)
	engine.SetNowFunc(func() int64 { return now.Unix() })
	deployed, err := engine.Deploy(spec.seller, spec.buyer, spec.tokenAddr)
	if err != nil {
		return nil, err
	}

	for _, evt := range recorder.Events() {
		if _, err := manager.AppendEvent(evt, now.Unix()); err != nil {
			return nil, err
		}
	}
	if err := manager.MarkGenesisApplied(state.GenesisRecord{
		Network:      spec.Network,
		TokenSymbol:  tokens.Symbol(),
		NativeSymbol: native.Symbol(),
	}); err != nil {
		return nil, err
	}
	if err := manager.Commit(); err != nil {
		return nil, err
	}
	return deployed, nil
}
