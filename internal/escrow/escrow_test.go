package escrow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

func TestCustodyAddress_Deterministic(t *testing.T) {
	program := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	a := CustodyAddress(program, "btc-100k")
	b := CustodyAddress(program, "btc-100k")
	if a != b {
		t.Fatalf("derivation is not deterministic: %s vs %s", a.Hex(), b.Hex())
	}
	if a == CustodyAddress(program, "eth-10k") {
		t.Fatal("different markets must have different custody")
	}
	if a == CustodyAddress(common.Address{}, "btc-100k") {
		t.Fatal("different programs must have different custody")
	}
}

func TestNewDeriver(t *testing.T) {
	if _, err := NewDeriver("not-an-address"); err == nil {
		t.Fatal("expected error for invalid program address")
	}
	d, err := NewDeriver("")
	if err != nil {
		t.Fatalf("empty program: %v", err)
	}
	if d.Program() != (common.Address{}) {
		t.Fatalf("expected zero program, got %s", d.Program().Hex())
	}
}

func TestLedger_DebitCredit(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(Deriver{})
	if err := l.Fund("alice", 100); err != nil {
		t.Fatalf("Fund: %v", err)
	}

	if err := l.Debit(ctx, "alice", 101); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if bal, _ := l.Balance(ctx, "alice"); bal != 100 {
		t.Fatalf("failed debit must not change balance, got %d", bal)
	}

	if err := l.Debit(ctx, "alice", 60); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if err := l.Credit(ctx, "bob", 60); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if bal, _ := l.Balance(ctx, "alice"); bal != 40 {
		t.Fatalf("alice: expected 40, got %d", bal)
	}
	if bal, _ := l.Balance(ctx, "bob"); bal != 60 {
		t.Fatalf("bob: expected 60, got %d", bal)
	}
}

func TestLedger_TransferAuthorizedByMarket(t *testing.T) {
	ctx := context.Background()
	d := Deriver{}
	l := NewLedger(d)
	custody := d.Custody("btc-100k")
	if err := l.Fund(custody, 500); err != nil {
		t.Fatalf("Fund: %v", err)
	}

	// Another market's custody cannot be drained under this market's authority.
	if err := l.TransferAuthorizedByMarket(ctx, "eth-10k", custody, "alice", 10); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := l.TransferAuthorizedByMarket(ctx, "btc-100k", custody, "alice", 501); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Address case must not matter.
	if err := l.TransferAuthorizedByMarket(ctx, "btc-100k", strings.ToLower(custody), "alice", 200); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if bal, _ := l.Balance(ctx, custody); bal != 300 {
		t.Fatalf("custody: expected 300, got %d", bal)
	}
	if bal, _ := l.Balance(ctx, "alice"); bal != 200 {
		t.Fatalf("alice: expected 200, got %d", bal)
	}
}
