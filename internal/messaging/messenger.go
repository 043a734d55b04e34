package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/NudgePipe/internal/metrics"
	"github.com/BTreeMap/NudgePipe/internal/models"
)

const choicesFooter = "Reply with a number."

// ChoiceMemory keeps the last offered choices per user so a numeric reply
// can be mapped back to its token.
type ChoiceMemory struct {
	mu      sync.RWMutex
	choices map[string][]models.Choice
}

// NewChoiceMemory creates an empty ChoiceMemory.
func NewChoiceMemory() *ChoiceMemory {
	return &ChoiceMemory{choices: make(map[string][]models.Choice)}
}

// Remember replaces the user's offered choices. Empty lists are ignored so
// plain text replies do not invalidate earlier options.
func (m *ChoiceMemory) Remember(userID string, choices []models.Choice) {
	if len(choices) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.choices[userID] = append([]models.Choice(nil), choices...)
}

// Resolve maps a 1-based number to the remembered token.
func (m *ChoiceMemory) Resolve(userID, text string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	choices := m.choices[userID]
	if n < 1 || n > len(choices) {
		return "", false
	}
	return choices[n-1].Token, true
}

// RenderReply formats a reply as plain text with a numbered choice list.
func RenderReply(reply models.Reply) string {
	if len(reply.Choices) == 0 {
		return reply.Text
	}
	var b strings.Builder
	b.WriteString(reply.Text)
	b.WriteString("\n")
	for i, c := range reply.Choices {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.Label)
	}
	b.WriteString("\n\n")
	b.WriteString(choicesFooter)
	return b.String()
}

// Messenger delivers replies through a Service. It is the single long-lived
// outbound path shared by inbound handling and timer ticks.
type Messenger struct {
	svc     Service
	choices *ChoiceMemory
	metrics *metrics.Metrics
}

// NewMessenger wraps svc. m may be nil.
func NewMessenger(svc Service, m *metrics.Metrics) *Messenger {
	return &Messenger{svc: svc, choices: NewChoiceMemory(), metrics: m}
}

// Service returns the underlying transport.
func (m *Messenger) Service() Service {
	return m.svc
}

// Choices returns the choice memory used to resolve numeric replies.
func (m *Messenger) Choices() *ChoiceMemory {
	return m.choices
}

// Deliver renders and sends a reply. Send errors wrap models.ErrTransportFailure.
func (m *Messenger) Deliver(ctx context.Context, userID string, reply models.Reply) error {
	if reply.IsEmpty() {
		return nil
	}
	to, err := m.svc.ValidateAndCanonicalizeRecipient(userID)
	if err != nil {
		m.metrics.SendFailure()
		return fmt.Errorf("%w: invalid recipient %q: %w", models.ErrTransportFailure, userID, err)
	}
	if err := m.svc.SendMessage(ctx, to, RenderReply(reply)); err != nil {
		m.metrics.SendFailure()
		slog.Error("Messenger.Deliver: send failed", "userID", userID, "error", err)
		return fmt.Errorf("%w: %w", models.ErrTransportFailure, err)
	}
	m.choices.Remember(userID, reply.Choices)
	m.metrics.MessageSent()
	slog.Debug("Messenger.Deliver: sent", "userID", userID, "choices", len(reply.Choices))
	return nil
}
