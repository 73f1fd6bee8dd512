package domain

import (
	"strings"
	"sync"
)

// sessionWallet is the per-session wallet status handed to the workflow.
// Connection itself happens in the reporter's wallet; the session only
// records the outcome and counts the prompts it asked for.
type sessionWallet struct {
	mu      sync.Mutex
	address string
	prompts int
}

func (w *sessionWallet) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.address != ""
}

func (w *sessionWallet) Address() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.address
}

func (w *sessionWallet) RequestConnect() {
	w.mu.Lock()
	w.prompts++
	w.mu.Unlock()
}

func (w *sessionWallet) connect(address string) {
	w.mu.Lock()
	w.address = strings.TrimSpace(address)
	w.mu.Unlock()
}

func (w *sessionWallet) disconnect() {
	w.mu.Lock()
	w.address = ""
	w.mu.Unlock()
}

func (w *sessionWallet) view() Wallet {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Wallet{
		Connected:      w.address != "",
		Address:        w.address,
		ConnectPrompts: w.prompts,
	}
}
