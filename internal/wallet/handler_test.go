package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kobopay/kobo_pay/internal/cache"
	"github.com/kobopay/kobo_pay/internal/idempotency"
	"github.com/kobopay/kobo_pay/internal/ledger"
	"github.com/kobopay/kobo_pay/internal/logging"
	"github.com/kobopay/kobo_pay/internal/middleware"
)

func setupApp(t *testing.T) (*fiber.App, ledger.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := ledger.NewMemoryStore()
	svc := NewService(store,
		cache.NewBalanceCache(client, time.Minute),
		idempotency.New(client, 5*time.Minute),
		nil, logging.Discard())
	h := NewHandler(svc, logging.Discard())

	app := fiber.New()
	api := app.Group("/api/v1", middleware.Identity())
	api.Post("/wallets", h.Create)
	api.Get("/wallets/:walletId/balance", h.Balance)
	api.Post("/wallets/:walletId/credit", middleware.RequireAdmin(), h.Credit)
	api.Post("/transfers", h.Transfer)

	return app, store
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	decoded := map[string]any{}
	_ = json.Unmarshal(payload, &decoded)
	return resp.StatusCode, decoded
}

func TestHandlerRequiresIdentity(t *testing.T) {
	app, _ := setupApp(t)
	status, _ := doJSON(t, app, fiber.MethodPost, "/api/v1/wallets", "{}", nil)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestHandlerTransferFlow(t *testing.T) {
	app, store := setupApp(t)

	userA := uuid.NewString()
	userB := uuid.NewString()
	a, _ := store.CreateWallet(context.Background(), userA)
	b, _ := store.CreateWallet(context.Background(), userB)
	ledger.SeedBalance(store, a.ID, 100)

	body := fmt.Sprintf(`{"from_wallet_id":%q,"to_wallet_id":%q,"amount":30}`, a.ID, b.ID)

	// Missing Idempotency-Key is a validation failure.
	status, _ := doJSON(t, app, fiber.MethodPost, "/api/v1/transfers", body, map[string]string{
		"X-User-ID": userA,
	})
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency key, got %d", status)
	}

	status, resp := doJSON(t, app, fiber.MethodPost, "/api/v1/transfers", body, map[string]string{
		"X-User-ID":       userA,
		"Idempotency-Key": "k1",
	})
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", status, resp)
	}
	from, _ := resp["from"].(map[string]any)
	if from["balance"].(float64) != 70 {
		t.Fatalf("expected source balance 70, got %v", from["balance"])
	}

	// Replay returns the same outcome.
	status, replay := doJSON(t, app, fiber.MethodPost, "/api/v1/transfers", body, map[string]string{
		"X-User-ID":       userA,
		"Idempotency-Key": "k1",
	})
	if status != fiber.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", status)
	}
	replayFrom, _ := replay["from"].(map[string]any)
	if replayFrom["balance"].(float64) != 70 {
		t.Fatalf("expected replayed balance 70, got %v", replayFrom["balance"])
	}
}

func TestHandlerBalanceAuthorization(t *testing.T) {
	app, store := setupApp(t)

	owner := uuid.NewString()
	w, _ := store.CreateWallet(context.Background(), owner)
	ledger.SeedBalance(store, w.ID, 250)

	status, resp := doJSON(t, app, fiber.MethodGet, "/api/v1/wallets/"+w.ID+"/balance", "", map[string]string{
		"X-User-ID": owner,
	})
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp["balance"].(float64) != 250 {
		t.Fatalf("expected balance 250, got %v", resp["balance"])
	}

	status, _ = doJSON(t, app, fiber.MethodGet, "/api/v1/wallets/"+w.ID+"/balance", "", map[string]string{
		"X-User-ID": uuid.NewString(),
	})
	if status != fiber.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d", status)
	}
}

func TestHandlerCreditRequiresAdmin(t *testing.T) {
	app, store := setupApp(t)

	owner := uuid.NewString()
	w, _ := store.CreateWallet(context.Background(), owner)

	status, _ := doJSON(t, app, fiber.MethodPost, "/api/v1/wallets/"+w.ID+"/credit",
		`{"amount":25,"reason":"promo"}`, map[string]string{
			"X-User-ID": uuid.NewString(),
		})
	if status != fiber.StatusForbidden {
		t.Fatalf("expected 403 without admin role, got %d", status)
	}

	status, resp := doJSON(t, app, fiber.MethodPost, "/api/v1/wallets/"+w.ID+"/credit",
		`{"amount":25,"reason":"promo"}`, map[string]string{
			"X-User-ID":   uuid.NewString(),
			"X-User-Role": middleware.RoleAdmin,
		})
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", status, resp)
	}
	if resp["balance"].(float64) != 25 {
		t.Fatalf("expected balance 25, got %v", resp["balance"])
	}
}
