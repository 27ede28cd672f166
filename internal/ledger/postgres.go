package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists wallets, transactions and ledger entries in
// PostgreSQL. Transactions and entries are append-only; existing rows are
// never updated or deleted.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store implementation.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateWallet inserts a wallet with a zero balance. The unique constraint on
// owner_id enforces one wallet per owner.
func (s *PostgresStore) CreateWallet(ctx context.Context, ownerID string) (Wallet, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse owner id: %w", err)
	}

	w := Wallet{
		ID:        uuid.NewString(),
		OwnerID:   owner.String(),
		Balance:   0,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.Exec(ctx, `INSERT INTO wallets (id, owner_id, balance, created_at)
        VALUES ($1, $2, $3, $4)`, w.ID, owner, w.Balance, w.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Wallet{}, ErrWalletExists
		}
		return Wallet{}, err
	}
	return w, nil
}

// Wallet fetches a wallet by identifier.
func (s *PostgresStore) Wallet(ctx context.Context, id string) (Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx, `SELECT id, owner_id, balance, created_at
        FROM wallets WHERE id = $1`, id))
}

// WalletByOwner fetches the single wallet belonging to an owner.
func (s *PostgresStore) WalletByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx, `SELECT id, owner_id, balance, created_at
        FROM wallets WHERE owner_id = $1`, ownerID))
}

// DeleteWallet removes a wallet when it belongs to the given owner. Ledger
// history rows are retained.
func (s *PostgresStore) DeleteWallet(ctx context.Context, id, ownerID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM wallets WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Transactions lists a wallet's transactions newest first along with the
// total count for pagination.
func (s *PostgresStore) Transactions(ctx context.Context, walletID string, offset, limit int) ([]Transaction, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE wallet_id = $1`, walletID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(ctx, `SELECT id, wallet_id, kind, amount, created_at
        FROM transactions WHERE wallet_id = $1
        ORDER BY created_at DESC, id DESC
        OFFSET $2 LIMIT $3`, walletID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Kind, &t.Amount, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		txs = append(txs, t)
	}
	return txs, total, rows.Err()
}

// Entries lists a wallet's ledger entries oldest first.
func (s *PostgresStore) Entries(ctx context.Context, walletID string) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT id, wallet_id, reference_id, description, amount,
        balance_before, balance_after, kind, created_at
        FROM ledger_entries WHERE wallet_id = $1
        ORDER BY created_at ASC, id ASC`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.ReferenceID, &e.Description, &e.Amount,
			&e.BalanceBefore, &e.BalanceAfter, &e.Kind, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InTx runs fn inside one database transaction, rolling back on error.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (p *pgTx) WalletForUpdate(ctx context.Context, id string) (Wallet, error) {
	return scanWallet(p.tx.QueryRow(ctx, `SELECT id, owner_id, balance, created_at
        FROM wallets WHERE id = $1 FOR UPDATE`, id))
}

func (p *pgTx) SetBalance(ctx context.Context, walletID string, balance int64) error {
	tag, err := p.tx.Exec(ctx, `UPDATE wallets SET balance = $1 WHERE id = $2`, balance, walletID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (p *pgTx) AppendTransaction(ctx context.Context, walletID, kind string, amount int64) (Transaction, error) {
	t := Transaction{
		ID:        uuid.NewString(),
		WalletID:  walletID,
		Kind:      kind,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	_, err := p.tx.Exec(ctx, `INSERT INTO transactions (id, wallet_id, kind, amount, created_at)
        VALUES ($1, $2, $3, $4, $5)`, t.ID, t.WalletID, t.Kind, t.Amount, t.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func (p *pgTx) AppendEntry(ctx context.Context, entry Entry) (Entry, error) {
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()
	_, err := p.tx.Exec(ctx, `INSERT INTO ledger_entries (id, wallet_id, reference_id, description,
        amount, balance_before, balance_after, kind, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.WalletID, entry.ReferenceID, entry.Description,
		entry.Amount, entry.BalanceBefore, entry.BalanceAfter, entry.Kind, entry.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Balance, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	return w, nil
}
