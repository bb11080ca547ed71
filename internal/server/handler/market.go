package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/parimarket/internal/amount"
	"github.com/alanyoungcy/parimarket/internal/domain"
	"github.com/alanyoungcy/parimarket/internal/server/middleware"
	"github.com/alanyoungcy/parimarket/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, caller, name string, expiresAt time.Time) (domain.Market, error)
	PlaceBet(ctx context.Context, caller, name string, amount uint64, side domain.Side) (domain.Market, domain.Position, error)
	SettleMarket(ctx context.Context, caller, name string, outcome domain.Side) (domain.Market, error)
	ClaimWinnings(ctx context.Context, caller, name string) (domain.Position, uint64, error)

	GetMarket(ctx context.Context, name string) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	CountMarkets(ctx context.Context) (int64, error)
	ListPositions(ctx context.Context, name string) ([]service.PositionView, error)
	GetPosition(ctx context.Context, name, participant string) (service.PositionView, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	present presenter
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. decimals scales display amounts.
func NewMarketHandler(markets MarketService, decimals int32, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		present: presenter{decimals: decimals, now: time.Now},
		logger:  logger,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketResponse `json:"markets"`
	Total   int64            `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListMarkets returns markets newest first with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	total, err := h.markets.CountMarkets(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "count markets", err)
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: h.present.markets(markets),
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by name.
// GET /api/markets/{name}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := h.markets.GetMarket(r.Context(), pathParam(r, "name"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, h.present.market(market))
}

type createMarketRequest struct {
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateMarket opens a market owned by the caller.
// POST /api/markets {"name": "...", "expires_at": "2026-01-01T00:00:00Z"}
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.ExpiresAt.IsZero() {
		writeError(w, http.StatusBadRequest, "BadRequest", "name and expires_at are required")
		return
	}

	market, err := h.markets.CreateMarket(r.Context(), middleware.PrincipalFrom(r.Context()), req.Name, req.ExpiresAt)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.present.market(market))
}

// wireAmount accepts a base-unit amount as a JSON string or bare number.
type wireAmount struct {
	value uint64
	set   bool
}

func (a *wireAmount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	v, err := amount.Parse(s)
	if err != nil {
		return err
	}
	a.value, a.set = v, true
	return nil
}

type placeBetRequest struct {
	Amount wireAmount `json:"amount"`
	// Display is a human amount such as "1.5", used when Amount is absent.
	Display string          `json:"display_amount"`
	Side    json.RawMessage `json:"side"`
}

type placeBetResponse struct {
	Market   marketResponse   `json:"market"`
	Position positionResponse `json:"position"`
}

// PlaceBet escrows the caller's stake on a side.
// POST /api/markets/{name}/bets {"amount": "100", "side": "yes"}
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		code := "BadRequest"
		if errors.Is(err, domain.ErrInvalidAmount) {
			code = domain.ErrorCode(domain.ErrInvalidAmount)
		}
		writeError(w, http.StatusBadRequest, code, "invalid request body: "+err.Error())
		return
	}

	value := req.Amount.value
	if !req.Amount.set {
		if req.Display == "" {
			writeError(w, http.StatusBadRequest, "BadRequest", "amount is required")
			return
		}
		v, err := amount.FromDisplay(req.Display, h.present.decimals)
		if err != nil {
			writeError(w, http.StatusBadRequest, domain.ErrorCode(err), err.Error())
			return
		}
		value = v
	}

	side, err := parseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrorCode(domain.ErrInvalidSide), "side must be yes or no")
		return
	}

	market, pos, err := h.markets.PlaceBet(r.Context(), middleware.PrincipalFrom(r.Context()), pathParam(r, "name"), value, side)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusOK, placeBetResponse{
		Market:   h.present.market(market),
		Position: h.present.position(pos),
	})
}

type settleRequest struct {
	Outcome json.RawMessage `json:"outcome"`
}

// Settle resolves a market. Only its creator may call it.
// POST /api/markets/{name}/settle {"outcome": "yes"}
func (h *MarketHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid request body: "+err.Error())
		return
	}
	outcome, err := parseSide(req.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrorCode(domain.ErrInvalidSide), "outcome must be yes or no")
		return
	}

	market, err := h.markets.SettleMarket(r.Context(), middleware.PrincipalFrom(r.Context()), pathParam(r, "name"), outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "settle market", err)
		return
	}
	writeJSON(w, http.StatusOK, h.present.market(market))
}

type claimResponse struct {
	Paid     string           `json:"paid"`
	Display  string           `json:"display_paid"`
	Position positionResponse `json:"position"`
}

// Claim pays out the caller's winnings.
// POST /api/markets/{name}/claim
func (h *MarketHandler) Claim(w http.ResponseWriter, r *http.Request) {
	pos, paid, err := h.markets.ClaimWinnings(r.Context(), middleware.PrincipalFrom(r.Context()), pathParam(r, "name"))
	if err != nil {
		writeServiceError(w, r, h.logger, "claim winnings", err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{
		Paid:     amount.Format(paid),
		Display:  amount.Display(paid, h.present.decimals),
		Position: h.present.position(pos),
	})
}

// ListPositions returns every position in a market.
// GET /api/markets/{name}/positions
func (h *MarketHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	views, err := h.markets.ListPositions(r.Context(), pathParam(r, "name"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	out := make([]positionResponse, 0, len(views))
	for _, v := range views {
		out = append(out, h.present.positionView(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// GetPosition returns one participant's position in a market.
// GET /api/markets/{name}/positions/{participant}
func (h *MarketHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	v, err := h.markets.GetPosition(r.Context(), pathParam(r, "name"), pathParam(r, "participant"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, h.present.positionView(v))
}

// parseSide accepts "yes"/"no" strings or JSON booleans.
func parseSide(raw json.RawMessage) (domain.Side, error) {
	if len(raw) == 0 {
		return domain.SideNo, domain.ErrInvalidSide
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return domain.Side(b), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.SideNo, domain.ErrInvalidSide
	}
	return domain.ParseSide(s)
}
