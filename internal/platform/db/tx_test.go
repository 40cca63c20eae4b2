package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct{ pgx.Tx }

func TestTxFromContext(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}

	tx := fakeTx{}
	ctx := WithTx(context.Background(), tx)
	if got := TxFromContext(ctx); got != tx {
		t.Errorf("expected stored tx, got %v", got)
	}
}

func TestTransactor_ReusesExistingTx(t *testing.T) {
	tr := NewTransactor(nil)
	outer := WithTx(context.Background(), fakeTx{})

	called := false
	err := tr.InTx(outer, func(ctx context.Context) error {
		called = true
		if TxFromContext(ctx) == nil {
			t.Error("expected tx on inner context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("fn was not called")
	}

	want := errors.New("boom")
	if err := tr.InTx(outer, func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("expected fn error, got %v", err)
	}
}
