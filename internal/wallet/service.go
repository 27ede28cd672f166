package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kobopay/kobo_pay/internal/apperr"
	"github.com/kobopay/kobo_pay/internal/cache"
	"github.com/kobopay/kobo_pay/internal/idempotency"
	"github.com/kobopay/kobo_pay/internal/ledger"
	"github.com/kobopay/kobo_pay/internal/notification"
)

// Service coordinates all wallet balance mutation: wallet-to-wallet transfers
// and privileged credits. It is the only writer of balance state and the only
// writer of the balance cache, so the write-through invariant lives in one
// place.
type Service struct {
	store    ledger.Store
	cache    *cache.BalanceCache
	dedup    *idempotency.Deduplicator
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService builds a wallet service. The cache and notifier are optional;
// the store, deduplicator and logger are not.
func NewService(store ledger.Store, balances *cache.BalanceCache, dedup *idempotency.Deduplicator, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{store: store, cache: balances, dedup: dedup, notifier: notifier, logger: logger}
}

// TransferInput captures the data needed to move funds between wallets.
type TransferInput struct {
	FromWalletID     string
	ToWalletID       string
	Amount           int64
	RequestingUserID string
	IdempotencyKey   string
}

// TransferResult carries both wallets as committed. It is stored verbatim
// under the idempotency key so replays return the identical outcome.
type TransferResult struct {
	From ledger.Wallet `json:"from"`
	To   ledger.Wallet `json:"to"`
}

// Transfer atomically debits the source wallet and credits the destination,
// appending the matched DEBIT/CREDIT transactions and ledger entries in one
// unit of work. Replays within the idempotency window return the stored
// result without executing again.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if input.Amount <= 0 {
		return TransferResult{}, apperr.Validation("amount must be positive")
	}
	if input.IdempotencyKey == "" {
		return TransferResult{}, apperr.Validation("idempotency key is required")
	}
	if input.FromWalletID == input.ToWalletID {
		return TransferResult{}, apperr.Validation("cannot transfer to the same wallet")
	}
	if s.dedup == nil {
		return TransferResult{}, apperr.Internal(errors.New("idempotency store unavailable"))
	}

	reservation, err := s.dedup.Reserve(ctx, input.IdempotencyKey)
	if err != nil {
		return TransferResult{}, apperr.Internal(err)
	}
	switch reservation.Status {
	case idempotency.StatusDone:
		var cached TransferResult
		if err := json.Unmarshal(reservation.Result, &cached); err != nil {
			return TransferResult{}, apperr.Internal(fmt.Errorf("decode stored transfer result: %w", err))
		}
		return cached, nil
	case idempotency.StatusInProgress:
		return TransferResult{}, apperr.Conflict("a transfer with this idempotency key is already processing")
	}

	var result TransferResult
	err = s.store.InTx(ctx, func(tx ledger.Tx) error {
		// Lock in ascending wallet-id order so two opposite-direction
		// transfers over the same pair cannot deadlock.
		firstID, secondID := input.FromWalletID, input.ToWalletID
		if secondID < firstID {
			firstID, secondID = secondID, firstID
		}

		locked := make(map[string]ledger.Wallet, 2)
		for _, id := range []string{firstID, secondID} {
			w, err := tx.WalletForUpdate(ctx, id)
			if err != nil {
				if errors.Is(err, ledger.ErrWalletNotFound) {
					return apperr.NotFound("wallet not found")
				}
				return err
			}
			locked[id] = w
		}

		from := locked[input.FromWalletID]
		to := locked[input.ToWalletID]

		// Preconditions are re-validated here, under the row locks; earlier
		// reads may be stale by the time the unit of work runs.
		if from.OwnerID != input.RequestingUserID {
			return apperr.Authorization("you can only transfer from your own wallet")
		}
		if from.Balance < input.Amount {
			return apperr.Conflict("insufficient balance")
		}

		fromBefore := from.Balance
		toBefore := to.Balance
		from.Balance -= input.Amount
		to.Balance += input.Amount

		if err := tx.SetBalance(ctx, from.ID, from.Balance); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, to.ID, to.Balance); err != nil {
			return err
		}

		debit, err := tx.AppendTransaction(ctx, from.ID, ledger.KindDebit, input.Amount)
		if err != nil {
			return err
		}
		credit, err := tx.AppendTransaction(ctx, to.ID, ledger.KindCredit, input.Amount)
		if err != nil {
			return err
		}

		if _, err := tx.AppendEntry(ctx, ledger.Entry{
			WalletID:      from.ID,
			ReferenceID:   debit.ID,
			Description:   fmt.Sprintf("Transfer to wallet %s", to.ID),
			Amount:        input.Amount,
			BalanceBefore: fromBefore,
			BalanceAfter:  from.Balance,
			Kind:          ledger.KindDebit,
		}); err != nil {
			return err
		}
		if _, err := tx.AppendEntry(ctx, ledger.Entry{
			WalletID:      to.ID,
			ReferenceID:   credit.ID,
			Description:   fmt.Sprintf("Transfer from wallet %s", from.ID),
			Amount:        input.Amount,
			BalanceBefore: toBefore,
			BalanceAfter:  to.Balance,
			Kind:          ledger.KindCredit,
		}); err != nil {
			return err
		}

		result = TransferResult{From: from, To: to}
		return nil
	})
	if err != nil {
		// Drop the reservation so the client retry can execute.
		if relErr := s.dedup.Release(ctx, input.IdempotencyKey); relErr != nil {
			s.logger.Warn("release idempotency reservation", "key", input.IdempotencyKey, "error", relErr)
		}
		return TransferResult{}, domainOrInternal(err)
	}

	s.writeThrough(ctx, result.From)
	s.writeThrough(ctx, result.To)

	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("encode transfer result", "error", err)
	} else if err := s.dedup.Commit(ctx, input.IdempotencyKey, payload); err != nil {
		// The reservation marker remains until the window expires; replays in
		// that span are refused rather than re-executed.
		s.logger.Warn("commit idempotency result", "key", input.IdempotencyKey, "error", err)
	}

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindTransferReceived,
			Destination: result.To.OwnerID,
			Body:        fmt.Sprintf("You received %d from wallet %s", input.Amount, result.From.ID),
		})
	}

	return result, nil
}

// Credit increases a wallet balance by amount, recording one CREDIT
// transaction and one ledger entry whose description is reason verbatim.
// Privilege is enforced by the caller's access-control layer before this
// call.
func (s *Service) Credit(ctx context.Context, walletID string, amount int64, reason string) (ledger.Wallet, error) {
	if amount <= 0 {
		return ledger.Wallet{}, apperr.Validation("amount must be positive")
	}

	var credited ledger.Wallet
	err := s.store.InTx(ctx, func(tx ledger.Tx) error {
		w, err := tx.WalletForUpdate(ctx, walletID)
		if err != nil {
			if errors.Is(err, ledger.ErrWalletNotFound) {
				return apperr.NotFound("wallet not found")
			}
			return err
		}

		before := w.Balance
		w.Balance += amount
		if err := tx.SetBalance(ctx, w.ID, w.Balance); err != nil {
			return err
		}

		credit, err := tx.AppendTransaction(ctx, w.ID, ledger.KindCredit, amount)
		if err != nil {
			return err
		}
		if _, err := tx.AppendEntry(ctx, ledger.Entry{
			WalletID:      w.ID,
			ReferenceID:   credit.ID,
			Description:   reason,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  w.Balance,
			Kind:          ledger.KindCredit,
		}); err != nil {
			return err
		}

		credited = w
		return nil
	})
	if err != nil {
		return ledger.Wallet{}, domainOrInternal(err)
	}

	s.writeThrough(ctx, credited)

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindWalletCredited,
			Destination: credited.OwnerID,
			Body:        fmt.Sprintf("Your wallet was credited with %d: %s", amount, reason),
		})
	}

	return credited, nil
}

// Balance serves a wallet balance, read-through: a cache hit answers without
// touching the store (ownership checked against the cached owner); a miss
// reads the store of record and populates the cache.
func (s *Service) Balance(ctx context.Context, walletID, userID string) (int64, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, walletID)
		if err != nil {
			s.logger.Warn("balance cache read", "wallet_id", walletID, "error", err)
		} else if ok {
			if cached.OwnerID != userID {
				return 0, apperr.Authorization("unauthorized wallet access")
			}
			return cached.Amount, nil
		}
	}

	w, err := s.store.Wallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return 0, apperr.NotFound("wallet not found")
		}
		return 0, apperr.Internal(err)
	}
	if w.OwnerID != userID {
		return 0, apperr.Authorization("unauthorized wallet access")
	}

	s.writeThrough(ctx, w)
	return w.Balance, nil
}

// Pagination describes the page served alongside a transaction list.
type Pagination struct {
	Total       int64 `json:"total"`
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalPages  int64 `json:"totalPages"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
}

// TransactionPage is a paginated slice of a wallet's transaction history,
// newest first.
type TransactionPage struct {
	Transactions []ledger.Transaction
	Pagination   Pagination
}

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// Transactions lists a wallet's transactions for its owner.
func (s *Service) Transactions(ctx context.Context, walletID, userID string, page, limit int) (TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	w, err := s.store.Wallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return TransactionPage{}, apperr.NotFound("wallet not found")
		}
		return TransactionPage{}, apperr.Internal(err)
	}
	if w.OwnerID != userID {
		return TransactionPage{}, apperr.Authorization("unauthorized wallet access")
	}

	offset := (page - 1) * limit
	txs, total, err := s.store.Transactions(ctx, walletID, offset, limit)
	if err != nil {
		return TransactionPage{}, apperr.Internal(err)
	}

	totalPages := total / int64(limit)
	if total%int64(limit) > 0 {
		totalPages++
	}

	return TransactionPage{
		Transactions: txs,
		Pagination: Pagination{
			Total:       total,
			Page:        page,
			Limit:       limit,
			TotalPages:  totalPages,
			HasNextPage: int64(page) < totalPages,
			HasPrevPage: page > 1,
		},
	}, nil
}

// Create provisions the single wallet for an owner.
func (s *Service) Create(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	w, err := s.store.CreateWallet(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletExists) {
			return ledger.Wallet{}, apperr.Conflict("wallet already exists for this user")
		}
		return ledger.Wallet{}, apperr.Internal(err)
	}
	return w, nil
}

// GetByOwner fetches the caller's wallet.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	w, err := s.store.WalletByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return ledger.Wallet{}, apperr.NotFound("wallet not found")
		}
		return ledger.Wallet{}, apperr.Internal(err)
	}
	return w, nil
}

// Get fetches a wallet by id without an ownership check; callers guard access.
func (s *Service) Get(ctx context.Context, walletID string) (ledger.Wallet, error) {
	w, err := s.store.Wallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return ledger.Wallet{}, apperr.NotFound("wallet not found")
		}
		return ledger.Wallet{}, apperr.Internal(err)
	}
	return w, nil
}

// Delete removes the owner's wallet and drops its cache entry. Ledger history
// is retained.
func (s *Service) Delete(ctx context.Context, walletID, userID string) error {
	if err := s.store.DeleteWallet(ctx, walletID, userID); err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return apperr.NotFound("wallet not found or unauthorized")
		}
		return apperr.Internal(err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, walletID); err != nil {
			s.logger.Warn("invalidate balance cache", "wallet_id", walletID, "error", err)
		}
	}
	return nil
}

// writeThrough refreshes the balance cache after a committed mutation. Cache
// failures are logged, never surfaced: the store already holds the truth and
// the entry TTL bounds any staleness.
func (s *Service) writeThrough(ctx context.Context, w ledger.Wallet) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, w.ID, cache.Balance{OwnerID: w.OwnerID, Amount: w.Balance}); err != nil {
		s.logger.Warn("balance cache write-through", "wallet_id", w.ID, "error", err)
	}
}

func domainOrInternal(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e
	}
	return apperr.Internal(err)
}
