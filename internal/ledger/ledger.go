package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWalletNotFound occurs when the referenced wallet does not exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrWalletExists indicates the owner already has a wallet; each owner
	// holds exactly one.
	ErrWalletExists = errors.New("wallet already exists for owner")

	// ErrInsufficientFunds occurs when the source wallet lacks available
	// balance to cover a requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

const (
	// KindDebit marks a balance decrease.
	KindDebit = "DEBIT"
	// KindCredit marks a balance increase.
	KindCredit = "CREDIT"
)

// Wallet is a stored-value account. Balance is held in minor currency units
// and never goes negative.
type Wallet struct {
	ID        string
	OwnerID   string
	Balance   int64
	CreatedAt time.Time
}

// Transaction records one side of a balance movement. Immutable once created.
type Transaction struct {
	ID        string
	WalletID  string
	Kind      string
	Amount    int64
	CreatedAt time.Time
}

// Entry is an append-only ledger record carrying the balance before and after
// one movement. For a given wallet, entries in creation order chain:
// entry[i].BalanceAfter == entry[i+1].BalanceBefore.
type Entry struct {
	ID            string
	WalletID      string
	ReferenceID   string
	Description   string
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Kind          string
	CreatedAt     time.Time
}

// Store is the transactional store of record for wallets and their history.
// All balance mutation happens inside InTx; reads outside a unit of work see
// only committed state.
type Store interface {
	CreateWallet(ctx context.Context, ownerID string) (Wallet, error)
	Wallet(ctx context.Context, id string) (Wallet, error)
	WalletByOwner(ctx context.Context, ownerID string) (Wallet, error)
	DeleteWallet(ctx context.Context, id, ownerID string) error
	Transactions(ctx context.Context, walletID string, offset, limit int) ([]Transaction, int64, error)
	Entries(ctx context.Context, walletID string) ([]Entry, error)

	// InTx runs fn inside one atomic unit of work. If fn returns an error the
	// whole unit rolls back; nothing outside fn observes intermediate state.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the write primitives scoped to one unit of work. Callers locking
// multiple wallets must acquire them in ascending wallet-id order.
type Tx interface {
	// WalletForUpdate loads a wallet under a row-level lock, serializing
	// concurrent units of work touching the same wallet.
	WalletForUpdate(ctx context.Context, id string) (Wallet, error)
	SetBalance(ctx context.Context, walletID string, balance int64) error
	AppendTransaction(ctx context.Context, walletID, kind string, amount int64) (Transaction, error)
	AppendEntry(ctx context.Context, entry Entry) (Entry, error)
}
