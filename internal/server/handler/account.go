package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/parimarket/internal/amount"
	"github.com/alanyoungcy/parimarket/internal/domain"
)

// AccountService is the subset of the service layer the account endpoints use.
type AccountService interface {
	ListParticipantPositions(ctx context.Context, participant string, opts domain.ListOpts) ([]domain.Position, error)
	Balance(ctx context.Context, account string) (uint64, error)
}

// AccountHandler serves per-account read endpoints.
type AccountHandler struct {
	accounts AccountService
	present  presenter
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, decimals int32, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		present:  presenter{decimals: decimals, now: time.Now},
		logger:   logger,
	}
}

// GetBalance returns an escrow balance.
// GET /api/accounts/{account}/balance
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := pathParam(r, "account")
	b, err := h.accounts.Balance(r.Context(), account)
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account,
		"balance": amount.Format(b),
		"display": amount.Display(b, h.present.decimals),
	})
}

// ListPositions returns the positions an account holds across markets.
// GET /api/accounts/{account}/positions?limit=50&offset=0
func (h *AccountHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.accounts.ListParticipantPositions(r.Context(), pathParam(r, "account"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list account positions", err)
		return
	}
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, h.present.position(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}
