package ledger

// SeedBalance is a test helper that sets a wallet balance directly when using
// the in-memory store. It bypasses the ledger, so tests asserting entry
// continuity should fund wallets through the credit path instead.
func SeedBalance(s Store, walletID string, amount int64) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if w, exists := mem.wallets[walletID]; exists {
			w.Balance = amount
			mem.wallets[walletID] = w
		}
	}
}
