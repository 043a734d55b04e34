package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/BTreeMap/NudgePipe/internal/models"
	"github.com/BTreeMap/NudgePipe/internal/twiliowhatsapp"
)

const testWebhookURL = "https://bot.example.com/webhooks/twilio"

func postWebhook(t *testing.T, svc *TwilioService, form url.Values, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rr := httptest.NewRecorder()
	svc.WebhookHandler(rr, req)
	return rr
}

// sign computes X-Twilio-Signature for a form POST.
func sign(token, u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(u)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func inboundForm() url.Values {
	return url.Values{
		"From":        {"whatsapp:+15551234567"},
		"Body":        {"/stats"},
		"MessageSid":  {"SM123"},
		"ProfileName": {"Ana"},
	}
}

func TestTwilioService_Webhook(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rr := postWebhook(t, svc, inboundForm(), "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("content type = %q", ct)
	}
	if rr.Body.String() != emptyTwiML {
		t.Errorf("body = %q", rr.Body.String())
	}
	select {
	case resp := <-svc.Responses():
		if resp.From != "whatsapp:+15551234567" || resp.Body != "/stats" || resp.MessageID != "SM123" || resp.Name != "Ana" {
			t.Errorf("response = %+v", resp)
		}
	default:
		t.Fatal("expected response on channel")
	}
}

func TestTwilioService_WebhookMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	for _, field := range []string{"From", "Body"} {
		form := inboundForm()
		form.Del(field)
		if rr := postWebhook(t, svc, form, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("without %s: status = %d, want 400", field, rr.Code)
		}
	}
}

func TestTwilioService_WebhookSignature(t *testing.T) {
	const token = "secret-token"
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(),
		WithSignatureValidation(twiliowhatsapp.NewWebhookValidator(token), testWebhookURL))

	if rr := postWebhook(t, svc, inboundForm(), "bogus"); rr.Code != http.StatusForbidden {
		t.Errorf("bad signature: status = %d, want 403", rr.Code)
	}
	form := inboundForm()
	if rr := postWebhook(t, svc, form, sign(token, testWebhookURL, form)); rr.Code != http.StatusOK {
		t.Errorf("good signature: status = %d, want 200", rr.Code)
	}
}

func TestTwilioService_SendMessage(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(client)
	if err := svc.SendMessage(context.Background(), "whatsapp:+15551234567", "hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(client.SentMessages) != 1 || client.SentMessages[0].To != "15551234567" {
		t.Errorf("sent = %+v", client.SentMessages)
	}
	if r := <-svc.Receipts(); r.Status != models.MessageStatusSent {
		t.Errorf("receipt = %+v", r)
	}
	svc.Stop()
	if err := svc.SendMessage(context.Background(), "15551234567", "hi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	if rr := postWebhook(t, svc, inboundForm(), ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("webhook after stop: status = %d, want 503", rr.Code)
	}
}
