package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/models"
	"github.com/BTreeMap/NudgePipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// eventSource is implemented by clients that can stream whatsmeow events.
type eventSource interface {
	AddEventHandler(handler func(evt interface{}))
}

// WhatsAppService implements Service on top of a whatsmeow client.
type WhatsAppService struct {
	client    whatsapp.Sender
	events    eventSource
	receipts  chan models.Receipt
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool
}

// NewWhatsAppService wraps client. Event handling is enabled when the client
// also streams events, which the mock does not.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
	if src, ok := client.(eventSource); ok {
		s.events = src
	}
	slog.Debug("NewWhatsAppService: created", "events", s.events != nil)
	return s
}

// ValidateAndCanonicalizeRecipient returns the phone number as digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.events == nil {
		slog.Debug("WhatsAppService.Start: no event source, inbound disabled")
		return nil
	}
	s.events.AddEventHandler(s.handleEvent)
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop closes the channels. Events arriving afterwards are dropped.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.responses)
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	canonical, err := canonicalPhone(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "to", canonical, "error", err)
		return err
	}
	s.emitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleIncomingMessage(v)
	case *events.Receipt:
		s.handleMessageReceipt(v)
	case *events.Disconnected:
		slog.Warn("WhatsAppService: disconnected from server")
	case *events.Connected:
		slog.Info("WhatsAppService: connected to server")
	}
}

// handleIncomingMessage forwards text messages from other users.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	var text string
	switch {
	case evt.Message.GetConversation() != "":
		text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		slog.Debug("WhatsAppService: ignoring non-text message", "from", evt.Info.Sender.User)
		return
	}
	s.emitResponse(models.Response{
		MessageID: string(evt.Info.ID),
		From:      evt.Info.Sender.User,
		Name:      evt.Info.PushName,
		Body:      text,
		Time:      evt.Info.Timestamp.Unix(),
	})
}

func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	s.emitReceipt(models.Receipt{To: evt.MessageSource.Sender.User, Status: status, Time: evt.Timestamp.Unix()})
}

func (s *WhatsAppService) emitResponse(resp models.Response) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService: dropping inbound message after stop", "from", resp.From)
		return
	}
	select {
	case s.responses <- resp:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService: responses channel blocked, dropping message", "from", resp.From)
	}
}

func (s *WhatsAppService) emitReceipt(r models.Receipt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Debug("WhatsAppService: receipts channel blocked, dropping receipt", "to", r.To)
	}
}
