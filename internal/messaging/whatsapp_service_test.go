package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/models"
	"github.com/BTreeMap/NudgePipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
}

func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if sent := mockClient.Messages(); len(sent) != 1 || sent[0].To != "15551234567" {
		t.Errorf("client sent = %+v", sent)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "15551234567" || receipt.Status != models.MessageStatusSent {
			t.Errorf("receipt = %+v", receipt)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_SendMessage_Errors(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	ctx := context.Background()

	if err := svc.SendMessage(ctx, "123", "hi"); err == nil {
		t.Error("expected error for short number")
	}
	mockClient.Err = errors.New("not connected")
	if err := svc.SendMessage(ctx, "15551234567", "hi"); err == nil {
		t.Error("expected client error")
	}
	svc.Stop()
	if err := svc.SendMessage(ctx, "15551234567", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func textMessage(sender, id, text string, fromMe, group bool) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender:   types.NewJID(sender, types.DefaultUserServer),
				IsFromMe: fromMe,
				IsGroup:  group,
			},
			ID:        types.MessageID(id),
			PushName:  "Ana",
			Timestamp: time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: &text},
	}
}

func TestWhatsAppService_HandleIncomingMessage(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	svc.handleEvent(textMessage("15551234567", "own", "ignored", true, false))
	svc.handleEvent(textMessage("15551234567", "grp", "ignored", false, true))
	svc.handleEvent(textMessage("15551234567", "wamid.1", "/checkin", false, false))

	select {
	case resp := <-svc.Responses():
		want := models.Response{MessageID: "wamid.1", From: "15551234567", Name: "Ana", Body: "/checkin", Time: 1700000000}
		if resp != want {
			t.Errorf("response = %+v, want %+v", resp, want)
		}
	default:
		t.Fatal("expected a response")
	}
	select {
	case resp := <-svc.Responses():
		t.Errorf("unexpected extra response %+v", resp)
	default:
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if receipt, ok := <-svc.Receipts(); ok {
		t.Errorf("expected receipts channel closed, got value %v", receipt)
	}
	if response, ok := <-svc.Responses(); ok {
		t.Errorf("expected responses channel closed, got value %v", response)
	}
	// Events after stop are dropped without panicking.
	svc.handleEvent(textMessage("15551234567", "late", "hi", false, false))
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop returned error: %v", err)
	}
}
