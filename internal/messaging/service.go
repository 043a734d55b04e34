package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/models"
)

// Constants shared by the transport services.
const (
	// DefaultChannelBufferSize is the buffer size for receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds a blocked channel send before the event is dropped.
	DefaultChannelTimeout = 1 * time.Second
	// minPhoneDigits is the shortest accepted recipient.
	minPhoneDigits = 6
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable chat transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a recipient and returns the
	// form used as the user ID.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing such as event handling.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the channels.
	Stop() error

	// Receipts returns a channel of delivery receipts.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming chat messages.
	Responses() <-chan models.Response
}

// canonicalPhone strips everything but digits and checks the length.
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, minPhoneDigits)
	}
	return canonical, nil
}
