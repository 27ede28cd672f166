package wallet

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kobopay/kobo_pay/internal/apperr"
	"github.com/kobopay/kobo_pay/internal/ledger"
)

// Handler exposes wallet HTTP endpoints over the service.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type walletResponse struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

func toWalletResponse(w ledger.Wallet) walletResponse {
	return walletResponse{
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		Balance:   w.Balance,
		CreatedAt: w.CreatedAt,
	}
}

// Create provisions a wallet for the authenticated caller.
func (h *Handler) Create(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	w, err := h.service.Create(c.UserContext(), uid)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toWalletResponse(w))
}

// Me returns the caller's wallet with its current balance.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	w, err := h.service.GetByOwner(c.UserContext(), uid)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(w))
}

// Balance returns the wallet balance for its owner.
func (h *Handler) Balance(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	walletID := c.Params("walletId")

	amount, err := h.service.Balance(c.UserContext(), walletID, uid)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": walletID,
		"balance":   amount,
	})
}

// Transactions lists the wallet's transaction history, newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	walletID := c.Params("walletId")
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "10"))

	result, err := h.service.Transactions(c.UserContext(), walletID, uid, page, limit)
	if err != nil {
		return h.mapError(c, err)
	}

	items := make([]fiber.Map, 0, len(result.Transactions))
	for _, t := range result.Transactions {
		items = append(items, fiber.Map{
			"id":         t.ID,
			"wallet_id":  t.WalletID,
			"kind":       t.Kind,
			"amount":     t.Amount,
			"created_at": t.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"transactions": items,
		"pagination":   result.Pagination,
	})
}

// Delete removes the caller's wallet. Ledger history is retained.
func (h *Handler) Delete(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	walletID := c.Params("walletId")

	if err := h.service.Delete(c.UserContext(), walletID, uid); err != nil {
		return h.mapError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "wallet deleted"})
}

type transferRequest struct {
	FromWalletID string `json:"from_wallet_id"`
	ToWalletID   string `json:"to_wallet_id"`
	Amount       int64  `json:"amount"`
}

// Transfer moves funds between two wallets. The Idempotency-Key header is
// mandatory; replays within the window return the stored result.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)

	result, err := h.service.Transfer(c.UserContext(), TransferInput{
		FromWalletID:     req.FromWalletID,
		ToWalletID:       req.ToWalletID,
		Amount:           req.Amount,
		RequestingUserID: uid,
		IdempotencyKey:   c.Get("Idempotency-Key"),
	})
	if err != nil {
		return h.mapError(c, err)
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"from": toWalletResponse(result.From),
		"to":   toWalletResponse(result.To),
	})
}

type creditRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// Credit applies a privileged single-sided balance increase. The admin gate
// runs before this handler.
func (h *Handler) Credit(c *fiber.Ctx) error {
	var req creditRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	walletID := c.Params("walletId")

	w, err := h.service.Credit(c.UserContext(), walletID, req.Amount, req.Reason)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(w))
}

// mapError translates the domain taxonomy to HTTP statuses. Internal detail
// stays in the logs; callers get a generic message.
func (h *Handler) mapError(c *fiber.Ctx, err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case apperr.KindNotFound:
		return fiber.NewError(http.StatusNotFound, err.Error())
	case apperr.KindAuthorization:
		return fiber.NewError(http.StatusForbidden, err.Error())
	case apperr.KindConflict:
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		h.logger.Error("wallet request failed", "path", c.Path(), "error", err)
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
