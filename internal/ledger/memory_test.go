package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryStore_OneWalletPerOwner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	owner := uuid.NewString()

	w, err := s.CreateWallet(ctx, owner)
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if w.Balance != 0 {
		t.Fatalf("expected zero starting balance, got %d", w.Balance)
	}

	if _, err := s.CreateWallet(ctx, owner); !errors.Is(err, ErrWalletExists) {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}

	byOwner, err := s.WalletByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("wallet by owner: %v", err)
	}
	if byOwner.ID != w.ID {
		t.Fatalf("expected wallet %s, got %s", w.ID, byOwner.ID)
	}
}

func TestMemoryStore_InTxRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	w, err := s.CreateWallet(ctx, uuid.NewString())
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	SeedBalance(s, w.ID, 1_000)

	boom := errors.New("boom")
	err = s.InTx(ctx, func(tx Tx) error {
		if err := tx.SetBalance(ctx, w.ID, 500); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(ctx, w.ID, KindDebit, 500); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	after, err := s.Wallet(ctx, w.ID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if after.Balance != 1_000 {
		t.Fatalf("expected balance restored to 1000, got %d", after.Balance)
	}
	txs, total, err := s.Transactions(ctx, w.ID, 0, 10)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 0 || total != 0 {
		t.Fatalf("expected no transactions after rollback, got %d (total %d)", len(txs), total)
	}
}

func TestMemoryStore_ConcurrentUnitsOfWorkConserveTotal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, _ := s.CreateWallet(ctx, uuid.NewString())
	b, _ := s.CreateWallet(ctx, uuid.NewString())
	SeedBalance(s, a.ID, 100_000)

	const workers = 10
	const amount = int64(500)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.InTx(ctx, func(tx Tx) error {
				from, err := tx.WalletForUpdate(ctx, a.ID)
				if err != nil {
					return err
				}
				to, err := tx.WalletForUpdate(ctx, b.ID)
				if err != nil {
					return err
				}
				if from.Balance < amount {
					return ErrInsufficientFunds
				}
				if err := tx.SetBalance(ctx, from.ID, from.Balance-amount); err != nil {
					return err
				}
				return tx.SetBalance(ctx, to.ID, to.Balance+amount)
			})
			if err != nil {
				t.Errorf("unit of work %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	fromAfter, _ := s.Wallet(ctx, a.ID)
	toAfter, _ := s.Wallet(ctx, b.ID)
	if fromAfter.Balance+toAfter.Balance != 100_000 {
		t.Fatalf("total not conserved, got %d", fromAfter.Balance+toAfter.Balance)
	}
	if toAfter.Balance != workers*amount {
		t.Fatalf("expected destination balance %d, got %d", workers*amount, toAfter.Balance)
	}
}

func TestMemoryStore_TransactionsPagination(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	w, _ := s.CreateWallet(ctx, uuid.NewString())
	for i := 0; i < 5; i++ {
		err := s.InTx(ctx, func(tx Tx) error {
			_, err := tx.AppendTransaction(ctx, w.ID, KindCredit, int64(100+i))
			return err
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	page, total, err := s.Transactions(ctx, w.ID, 0, 2)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected total 5, got %d", total)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page))
	}

	tail, _, err := s.Transactions(ctx, w.ID, 4, 2)
	if err != nil {
		t.Fatalf("transactions tail: %v", err)
	}
	if len(tail) != 1 {
		t.Fatalf("expected 1 trailing item, got %d", len(tail))
	}

	empty, _, err := s.Transactions(ctx, w.ID, 10, 2)
	if err != nil {
		t.Fatalf("transactions beyond end: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %d items", len(empty))
	}
}

func TestMemoryStore_DeleteWalletRequiresOwner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	owner := uuid.NewString()
	w, _ := s.CreateWallet(ctx, owner)

	if err := s.DeleteWallet(ctx, w.ID, uuid.NewString()); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound for wrong owner, got %v", err)
	}
	if err := s.DeleteWallet(ctx, w.ID, owner); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Wallet(ctx, w.ID); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected wallet gone, got %v", err)
	}
}

func TestMemoryStore_EntriesKeepInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	w, _ := s.CreateWallet(ctx, uuid.NewString())
	balance := int64(0)
	for i := 0; i < 3; i++ {
		amount := int64(100 * (i + 1))
		err := s.InTx(ctx, func(tx Tx) error {
			_, err := tx.AppendEntry(ctx, Entry{
				WalletID:      w.ID,
				ReferenceID:   fmt.Sprintf("ref-%d", i),
				Description:   "seed",
				Amount:        amount,
				BalanceBefore: balance,
				BalanceAfter:  balance + amount,
				Kind:          KindCredit,
			})
			return err
		})
		if err != nil {
			t.Fatalf("append entry %d: %v", i, err)
		}
		balance += amount
	}

	entries, err := s.Entries(ctx, w.ID)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 0; i+1 < len(entries); i++ {
		if entries[i].BalanceAfter != entries[i+1].BalanceBefore {
			t.Fatalf("entry chain broken at %d: after=%d before=%d", i, entries[i].BalanceAfter, entries[i+1].BalanceBefore)
		}
	}
}
