package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu           sync.Mutex
	wallets      map[string]Wallet
	transactions map[string][]Transaction
	entries      map[string][]Entry
}

// NewMemoryStore creates a concurrency-safe in-memory store useful for unit
// tests. Units of work are serialized under one mutex and roll back via
// snapshot on error, mirroring the all-or-nothing commit of the Postgres
// implementation.
func NewMemoryStore() Store {
	return &memoryStore{
		wallets:      make(map[string]Wallet),
		transactions: make(map[string][]Transaction),
		entries:      make(map[string][]Entry),
	}
}

func (s *memoryStore) CreateWallet(_ context.Context, ownerID string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.wallets {
		if w.OwnerID == ownerID {
			return Wallet{}, ErrWalletExists
		}
	}

	w := Wallet{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Balance:   0,
		CreatedAt: time.Now().UTC(),
	}
	s.wallets[w.ID] = w
	return w, nil
}

func (s *memoryStore) Wallet(_ context.Context, id string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *memoryStore) WalletByOwner(_ context.Context, ownerID string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.OwnerID == ownerID {
			return w, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (s *memoryStore) DeleteWallet(_ context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok || w.OwnerID != ownerID {
		return ErrWalletNotFound
	}
	delete(s.wallets, id)
	return nil
}

func (s *memoryStore) Transactions(_ context.Context, walletID string, offset, limit int) ([]Transaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := append([]Transaction(nil), s.transactions[walletID]...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *memoryStore) Entries(_ context.Context, walletID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries[walletID]...), nil
}

// InTx serializes units of work under the store mutex. A snapshot of the
// mutable state is taken first; if fn fails the snapshot is restored so no
// partial mutation remains visible.
func (s *memoryStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotLocked()
	if err := fn(&memoryTx{store: s}); err != nil {
		s.restoreLocked(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	wallets      map[string]Wallet
	transactions map[string][]Transaction
	entries      map[string][]Entry
}

func (s *memoryStore) snapshotLocked() memorySnapshot {
	snap := memorySnapshot{
		wallets:      make(map[string]Wallet, len(s.wallets)),
		transactions: make(map[string][]Transaction, len(s.transactions)),
		entries:      make(map[string][]Entry, len(s.entries)),
	}
	for id, w := range s.wallets {
		snap.wallets[id] = w
	}
	for id, txs := range s.transactions {
		snap.transactions[id] = append([]Transaction(nil), txs...)
	}
	for id, entries := range s.entries {
		snap.entries[id] = append([]Entry(nil), entries...)
	}
	return snap
}

func (s *memoryStore) restoreLocked(snap memorySnapshot) {
	s.wallets = snap.wallets
	s.transactions = snap.transactions
	s.entries = snap.entries
}

// memoryTx operates under the store mutex held by InTx.
type memoryTx struct {
	store *memoryStore
}

func (t *memoryTx) WalletForUpdate(_ context.Context, id string) (Wallet, error) {
	w, ok := t.store.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (t *memoryTx) SetBalance(_ context.Context, walletID string, balance int64) error {
	w, ok := t.store.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	w.Balance = balance
	t.store.wallets[walletID] = w
	return nil
}

func (t *memoryTx) AppendTransaction(_ context.Context, walletID, kind string, amount int64) (Transaction, error) {
	tx := Transaction{
		ID:        uuid.NewString(),
		WalletID:  walletID,
		Kind:      kind,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	t.store.transactions[walletID] = append(t.store.transactions[walletID], tx)
	return tx, nil
}

func (t *memoryTx) AppendEntry(_ context.Context, entry Entry) (Entry, error) {
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()
	t.store.entries[entry.WalletID] = append(t.store.entries[entry.WalletID], entry)
	return entry, nil
}
