package economy

import (
	"context"
	"sync"
	"testing"
)

func TestLedger_CreditDebit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")

	env.give(t, a, "wood", 10)
	if q := env.quantity(t, a, "wood"); q != 10 {
		t.Fatalf("quantity=%v want 10", q)
	}

	out, err := env.ledger.Debit(ctx, a, "wood", 4)
	if err != nil || !out.OK {
		t.Fatalf("debit: out=%+v err=%v", out, err)
	}
	if q := env.quantity(t, a, "wood"); q != 6 {
		t.Fatalf("quantity=%v want 6", q)
	}
}

func TestLedger_DebitInsufficient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	env.give(t, a, "wood", 3)

	out, err := env.ledger.Debit(ctx, a, "wood", 5)
	if err != nil {
		t.Fatalf("debit err: %v", err)
	}
	if out.OK || out.Reason != ReasonInsufficientResource {
		t.Fatalf("out=%+v want insufficient_resource", out)
	}
	// Balance unchanged.
	if q := env.quantity(t, a, "wood"); q != 3 {
		t.Fatalf("quantity=%v want 3", q)
	}
}

func TestLedger_CreditShortfallReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")

	out, err := env.ledger.Debit(ctx, a, CreditType, 5)
	if err != nil {
		t.Fatalf("debit err: %v", err)
	}
	if out.OK || out.Reason != ReasonInsufficientCredits {
		t.Fatalf("out=%+v want insufficient_credits", out)
	}
}

func TestLedger_InvalidAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")

	for _, amount := range []float64{0, -1} {
		out, err := env.ledger.Credit(ctx, a, "wood", amount)
		if err != nil {
			t.Fatalf("credit err: %v", err)
		}
		if out.OK || out.Reason != ReasonInvalidAmount {
			t.Fatalf("credit %v: out=%+v want invalid_amount", amount, out)
		}
	}
}

func TestLedger_FreezeBlocksSpending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	env.give(t, a, "wheat", 10)

	if out, err := env.ledger.Freeze(ctx, a, "wheat", 7); err != nil || !out.OK {
		t.Fatalf("freeze: out=%+v err=%v", out, err)
	}

	// Only 3 available now.
	out, err := env.ledger.Debit(ctx, a, "wheat", 5)
	if err != nil {
		t.Fatalf("debit err: %v", err)
	}
	if out.OK {
		t.Fatalf("debit against frozen stock should fail, got %+v", out)
	}

	// Quantity still includes the frozen part.
	e := env.entry(t, a, "wheat")
	if e.Quantity != 10 || e.Frozen != 7 || e.Available() != 3 {
		t.Fatalf("entry=%+v want quantity 10 frozen 7", e)
	}

	if out, err := env.ledger.Unfreeze(ctx, a, "wheat", 7); err != nil || !out.OK {
		t.Fatalf("unfreeze: out=%+v err=%v", out, err)
	}
	if out, err := env.ledger.Debit(ctx, a, "wheat", 5); err != nil || !out.OK {
		t.Fatalf("debit after unfreeze: out=%+v err=%v", out, err)
	}
}

func TestLedger_TransferAtomic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	b := env.newAgent(t, "bob")
	env.give(t, a, "stone", 8)

	out, err := env.ledger.Transfer(ctx, a, b, "stone", 5)
	if err != nil || !out.OK {
		t.Fatalf("transfer: out=%+v err=%v", out, err)
	}
	if q := env.quantity(t, a, "stone"); q != 3 {
		t.Fatalf("sender quantity=%v want 3", q)
	}
	if q := env.quantity(t, b, "stone"); q != 5 {
		t.Fatalf("receiver quantity=%v want 5", q)
	}

	// Failed transfer moves nothing.
	out, err = env.ledger.Transfer(ctx, a, b, "stone", 100)
	if err != nil {
		t.Fatalf("transfer err: %v", err)
	}
	if out.OK {
		t.Fatalf("oversized transfer should fail")
	}
	if q := env.quantity(t, a, "stone"); q != 3 {
		t.Fatalf("sender quantity=%v want 3 after failed transfer", q)
	}
	if q := env.quantity(t, b, "stone"); q != 5 {
		t.Fatalf("receiver quantity=%v want 5 after failed transfer", q)
	}

	if got := len(env.recorder.Named("resource_transferred")); got != 1 {
		t.Fatalf("resource_transferred events=%d want 1", got)
	}
}

// Ten concurrent debits of 10 against a balance of 50: exactly five
// succeed and the balance never goes negative.
func TestLedger_ConcurrentDebits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	env.give(t, a, CreditType, 50)

	var wg sync.WaitGroup
	results := make([]Outcome, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := env.ledger.Debit(ctx, a, CreditType, 10)
			if err != nil {
				t.Errorf("debit %d: %v", i, err)
				return
			}
			results[i] = out
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, out := range results {
		if out.OK {
			succeeded++
		}
	}
	if succeeded != 5 {
		t.Fatalf("succeeded=%d want 5", succeeded)
	}
	if q := env.quantity(t, a, CreditType); q != 0 {
		t.Fatalf("quantity=%v want 0", q)
	}
}

func TestLedger_SetQuantityClampsFrozen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	env.give(t, a, "wood", 10)
	if out, err := env.ledger.Freeze(ctx, a, "wood", 8); err != nil || !out.OK {
		t.Fatalf("freeze: out=%+v err=%v", out, err)
	}

	if err := env.ledger.SetQuantity(ctx, a, "wood", 5); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	e := env.entry(t, a, "wood")
	if e.Quantity != 5 || e.Frozen != 5 {
		t.Fatalf("entry=%+v want quantity 5 frozen 5", e)
	}
}
