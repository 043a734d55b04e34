package messaging

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/models"
	"github.com/BTreeMap/NudgePipe/internal/twiliowhatsapp"
)

// emptyTwiML acknowledges a webhook without an immediate reply; replies go
// out through the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements Service using the Twilio REST API for outbound
// messages and a webhook for inbound ones.
type TwilioService struct {
	client     twiliowhatsapp.Sender
	validator  *twiliowhatsapp.WebhookValidator
	webhookURL string
	receipts   chan models.Receipt
	responses  chan models.Response
	mu         sync.RWMutex
	stopped    bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhooks whose X-Twilio-Signature does not
// match publicURL, the exact URL configured in the Twilio console.
func WithSignatureValidation(v *twiliowhatsapp.WebhookValidator, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = v
		s.webhookURL = publicURL
	}
}

// NewTwilioService wraps client.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient accepts "whatsapp:+1555…" or plain
// numbers and returns digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(strings.TrimPrefix(recipient, twiliowhatsapp.ChannelPrefix))
}

// Start is a no-op; inbound messages arrive through WebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.responses)
	return nil
}

// SendMessage sends via Twilio and emits a sent receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		return err
	}
	s.emit(func() {
		select {
		case s.receipts <- models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()}:
		case <-time.After(DefaultChannelTimeout):
		}
	})
	return nil
}

func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// emit runs send while holding the read lock so Stop cannot close the
// channels underneath it.
func (s *TwilioService) emit(send func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	send()
}

// WebhookHandler handles Twilio's inbound message webhook.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("TwilioService.WebhookHandler: bad form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if s.validator != nil && s.webhookURL != "" {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(s.webhookURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("TwilioService.WebhookHandler: signature mismatch", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := r.PostForm.Get("From")
	body := r.PostForm.Get("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService.WebhookHandler: missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	resp := models.Response{
		MessageID: r.PostForm.Get("MessageSid"),
		From:      from,
		Name:      r.PostForm.Get("ProfileName"),
		Body:      body,
		Time:      time.Now().Unix(),
	}
	slog.Info("TwilioService.WebhookHandler: inbound message", "from", from, "messageSid", resp.MessageID)

	accepted := false
	s.emit(func() {
		select {
		case s.responses <- resp:
			accepted = true
		case <-time.After(DefaultChannelTimeout):
			slog.Warn("TwilioService.WebhookHandler: responses channel blocked, dropping message", "from", from)
		}
	})
	if !accepted {
		// Twilio retries on 5xx.
		http.Error(w, "Unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}
