// Package notify fans market notifications out to chat channels. Delivery
// is best effort and filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/parimarket/internal/amount"
	"github.com/alanyoungcy/parimarket/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders, forwarding only
// the event types it was configured with.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	decimals int32
	logger   *slog.Logger
}

// NewNotifier creates a Notifier for senders. An empty events list allows
// every event type. decimals scales amounts in rendered messages.
func NewNotifier(senders []Sender, events []string, decimals int32, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		decimals: decimals,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends a notification if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyMarketEvent renders ev and sends it through Notify.
func (n *Notifier) NotifyMarketEvent(ctx context.Context, ev domain.MarketEvent) error {
	title, message := n.render(ev)
	return n.Notify(ctx, string(ev.Type), title, message)
}

func (n *Notifier) render(ev domain.MarketEvent) (string, string) {
	pool := fmt.Sprintf("pool %s (yes %s / no %s)",
		amount.Display(ev.YesTotal+ev.NoTotal, n.decimals),
		amount.Display(ev.YesTotal, n.decimals),
		amount.Display(ev.NoTotal, n.decimals),
	)
	switch ev.Type {
	case domain.EventMarketCreated:
		return "Market created", fmt.Sprintf("%s opened by %s", ev.Market, ev.Participant)
	case domain.EventBetPlaced:
		return "Bet placed", fmt.Sprintf("%s bet %s on %s in %s, %s",
			ev.Participant, amount.Display(ev.Amount, n.decimals), sideLabel(ev.Side), ev.Market, pool)
	case domain.EventMarketSettled:
		return "Market settled", fmt.Sprintf("%s resolved %s, %s",
			ev.Market, strings.ToUpper(sideLabel(ev.Side)), pool)
	case domain.EventWinningsClaimed:
		return "Winnings claimed", fmt.Sprintf("%s claimed %s from %s",
			ev.Participant, amount.Display(ev.Amount, n.decimals), ev.Market)
	}
	return string(ev.Type), ev.Market
}

func sideLabel(s *domain.Side) string {
	if s == nil {
		return "?"
	}
	return s.String()
}

// dispatch delivers to every sender. One failing sender does not stop the
// others; all failures are joined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
