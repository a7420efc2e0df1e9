package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/DougAnderson444/ArweaveWalletConnector/internal/config"
)

// sessionState pins the identity presented to a wallet across CLI
// invocations, so the wallet's connected-apps view sees one returning app
// instead of a new one per command.
type sessionState struct {
	Wallet  string `json:"wallet"`
	Session string `json:"session"`
	SavedAt string `json:"savedAt"`
}

func sessionPath(cfg *config.RuntimeConfig) string {
	return filepath.Join(cfg.StateDir, "session.json")
}

// loadSession fills cfg.Session from the state file when neither env nor
// flag set one. A stored session is only reused against the wallet it was
// minted for.
func loadSession(cfg *config.RuntimeConfig) {
	if cfg.Session != "" {
		return
	}
	data, err := os.ReadFile(sessionPath(cfg))
	if err != nil {
		return
	}
	var st sessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return
	}
	if st.Wallet != cfg.WalletURL || st.Session == "" {
		return
	}
	cfg.Session = st.Session
}

func saveSession(cfg *config.RuntimeConfig, session string) {
	st := sessionState{
		Wallet:  cfg.WalletURL,
		Session: session,
		SavedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		slog.Error("save session: mkdir", "err", err)
		return
	}
	if err := os.WriteFile(sessionPath(cfg), data, 0644); err != nil {
		slog.Error("save session: write", "err", err)
	}
}
