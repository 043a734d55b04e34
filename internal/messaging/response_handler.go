// Package messaging provides the chat transports and the glue between them
// and the accountability engine: outbound delivery with numbered choices and
// inbound decoding, dedup and error mapping.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/models"
	"github.com/BTreeMap/NudgePipe/internal/store"
)

const (
	// DefaultProcessTimeout bounds the handling of a single inbound message.
	DefaultProcessTimeout = 60 * time.Second

	msgGenericFailure = "⚠️ Something went wrong. Try again in a moment."
)

// Bot applies a decoded inbound action and returns the reply.
type Bot interface {
	Handle(ctx context.Context, in models.Inbound) (models.Reply, error)
}

// ResponseHandler turns incoming transport messages into bot actions and
// sends the replies back.
type ResponseHandler struct {
	bot       Bot
	messenger *Messenger
	dedup     store.DedupRepo
	timeout   time.Duration
}

// NewResponseHandler creates a handler. dedup may be nil to disable
// redelivery detection.
func NewResponseHandler(bot Bot, messenger *Messenger, dedup store.DedupRepo) *ResponseHandler {
	return &ResponseHandler{
		bot:       bot,
		messenger: messenger,
		dedup:     dedup,
		timeout:   DefaultProcessTimeout,
	}
}

// Decode resolves raw text for a user: slash command, then a number picking
// one of the last offered choices, then a raw choice token, then free text.
func (rh *ResponseHandler) Decode(userID, body string) models.Action {
	if a, ok := models.ParseCommand(body); ok {
		return a
	}
	if token, ok := rh.messenger.Choices().Resolve(userID, body); ok {
		if a, err := models.ParseToken(token); err == nil {
			return a
		}
		slog.Warn("ResponseHandler.Decode: remembered token did not parse", "userID", userID, "token", token)
	}
	return models.Decode(body)
}

// ProcessResponse handles one incoming message end to end.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, resp models.Response) error {
	userID, err := rh.messenger.Service().ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		slog.Error("ResponseHandler.ProcessResponse: invalid sender", "from", resp.From, "error", err)
		return fmt.Errorf("invalid sender: %w", err)
	}

	if resp.MessageID != "" && rh.dedup != nil && rh.alreadyAnswered(resp.MessageID, userID) {
		slog.Info("ResponseHandler.ProcessResponse: duplicate message dropped", "messageID", resp.MessageID, "userID", userID)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, rh.timeout)
	defer cancel()

	action := rh.Decode(userID, resp.Body)
	slog.Debug("ResponseHandler.ProcessResponse: decoded", "userID", userID, "kind", action.Kind)
	reply, err := rh.bot.Handle(ctx, models.Inbound{UserID: userID, Name: resp.Name, Action: action})
	if err != nil {
		msg, ok := models.UserMessage(err)
		if !ok {
			slog.Error("ResponseHandler.ProcessResponse: bot failed", "userID", userID, "kind", action.Kind, "error", err)
			msg = msgGenericFailure
		}
		reply = models.TextReply(msg)
	}

	if err := rh.messenger.Deliver(ctx, userID, reply); err != nil {
		return fmt.Errorf("failed to deliver reply: %w", err)
	}
	if resp.MessageID != "" && rh.dedup != nil {
		if err := rh.dedup.MarkProcessed(resp.MessageID); err != nil {
			slog.Warn("ResponseHandler.ProcessResponse: mark processed failed", "messageID", resp.MessageID, "error", err)
		}
	}
	return nil
}

// alreadyAnswered records messageID and reports whether an earlier delivery
// of it was answered. A redelivery whose first attempt never got a reply out
// is handled again. Dedup store errors let the message through.
func (rh *ResponseHandler) alreadyAnswered(messageID, userID string) bool {
	fresh, err := rh.dedup.RecordInbound(messageID, userID)
	if err != nil {
		slog.Warn("ResponseHandler.alreadyAnswered: dedup record failed, processing anyway", "messageID", messageID, "error", err)
		return false
	}
	if fresh {
		return false
	}
	done, err := rh.dedup.IsProcessed(messageID)
	if err != nil {
		slog.Warn("ResponseHandler.alreadyAnswered: processed check failed, processing anyway", "messageID", messageID, "error", err)
		return false
	}
	if !done {
		slog.Info("ResponseHandler.alreadyAnswered: retrying unanswered message", "messageID", messageID, "userID", userID)
	}
	return done
}

// Start consumes the service's responses until ctx is done or the channel
// closes. Messages are handled one at a time in arrival order.
func (rh *ResponseHandler) Start(ctx context.Context) {
	responses := rh.messenger.Service().Responses()
	go func() {
		slog.Info("ResponseHandler.Start: listening for inbound messages")
		for {
			select {
			case <-ctx.Done():
				slog.Info("ResponseHandler.Start: stopping", "reason", ctx.Err())
				return
			case resp, ok := <-responses:
				if !ok {
					slog.Info("ResponseHandler.Start: responses channel closed")
					return
				}
				if err := rh.ProcessResponse(ctx, resp); err != nil {
					slog.Error("ResponseHandler.Start: processing failed", "from", resp.From, "error", err)
				}
			}
		}
	}()
}
