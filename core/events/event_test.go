package events

import (
	"math/big"
	"testing"

	"tokenescrow/crypto"
)

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func TestRecorderKeepsOrderAndRendersPayload(t *testing.T) {
	var rec Recorder
	from := [20]byte{0x01}
	to := [20]byte{0x02}
	rec.Emit(TokenTransfer{Token: "tkn", From: from, To: to, Amount: big.NewInt(5)})
	rec.Emit(bareEvent{})

	got := rec.Events()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != TypeTokenTransfer {
		t.Fatalf("unexpected first event type %q", got[0].Type)
	}
	if got[0].Attributes["token"] != "TKN" {
		t.Fatalf("token attribute not normalized: %q", got[0].Attributes["token"])
	}
	if got[0].Attributes["from"] != crypto.FromRaw(crypto.AccountPrefix, from).String() {
		t.Fatalf("unexpected from attribute %q", got[0].Attributes["from"])
	}
	if got[0].Attributes["amount"] != "5" {
		t.Fatalf("unexpected amount %q", got[0].Attributes["amount"])
	}
	if got[1].Type != "bare" || len(got[1].Attributes) != 0 {
		t.Fatalf("unexpected bare event %+v", got[1])
	}

	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Fatalf("reset did not clear recorder")
	}
}

func TestNativeTransferNilAmount(t *testing.T) {
	evt := NativeTransfer{Asset: "matic"}.Event()
	if evt.Attributes["amount"] != "0" {
		t.Fatalf("expected zero amount, got %q", evt.Attributes["amount"])
	}
	if evt.Attributes["asset"] != "MATIC" {
		t.Fatalf("unexpected asset %q", evt.Attributes["asset"])
	}
}
