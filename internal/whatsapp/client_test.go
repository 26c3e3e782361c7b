package whatsapp

import (
	"testing"
)

const sampleWebhook = `{
  "entry": [{
    "changes": [{
      "value": {
        "messages": [
          {"from": "919876543210", "id": "wamid.text", "type": "text", "text": {"body": "Raju 120 udhaar"}},
          {"from": "919876543210", "id": "wamid.audio", "type": "audio", "audio": {"id": "media-1", "mime_type": "audio/ogg"}},
          {"from": "919876543210", "id": "wamid.sticker", "type": "sticker"},
          {"from": "919876543210", "id": "wamid.image", "type": "image", "image": {"id": "media-2", "mime_type": "image/jpeg", "caption": "Raju 120"}}
        ]
      }
    }]
  }]
}`

func TestExtractMessagesFlattensPayload(test *testing.T) {
	test.Parallel()
	messages, err := ExtractMessages([]byte(sampleWebhook))
	if err != nil {
		test.Fatalf("extract: %v", err)
	}
	if len(messages) != 3 {
		test.Fatalf("expected 3 supported messages, got %d", len(messages))
	}
	if messages[0].Type != MessageText || messages[0].Text != "Raju 120 udhaar" {
		test.Fatalf("unexpected text message: %+v", messages[0])
	}
	if messages[1].Type != MessageAudio || messages[1].MediaID != "media-1" || messages[1].MimeType != "audio/ogg" {
		test.Fatalf("unexpected audio message: %+v", messages[1])
	}
	if messages[2].Type != MessageImage || messages[2].MediaID != "media-2" || messages[2].Caption != "Raju 120" {
		test.Fatalf("unexpected image message: %+v", messages[2])
	}
}

func TestExtractMessagesStatusOnlyPayload(test *testing.T) {
	test.Parallel()
	messages, err := ExtractMessages([]byte(`{"entry":[{"changes":[{"value":{"statuses":[{"status":"delivered"}]}}]}]}`))
	if err != nil {
		test.Fatalf("extract: %v", err)
	}
	if len(messages) != 0 {
		test.Fatalf("expected no messages from a status payload, got %d", len(messages))
	}
}

func TestExtractMessagesMalformedPayload(test *testing.T) {
	test.Parallel()
	if _, err := ExtractMessages([]byte("not json")); err == nil {
		test.Fatalf("expected decode error")
	}
}

func TestVerifyWebhookToken(test *testing.T) {
	test.Parallel()
	if challenge, ok := VerifyWebhookToken("secret", "subscribe", "secret", "12345"); !ok || challenge != "12345" {
		test.Fatalf("expected handshake to succeed, got %q %v", challenge, ok)
	}
	if _, ok := VerifyWebhookToken("secret", "subscribe", "wrong", "12345"); ok {
		test.Fatalf("expected token mismatch to fail")
	}
	if _, ok := VerifyWebhookToken("secret", "unsubscribe", "secret", "12345"); ok {
		test.Fatalf("expected non-subscribe mode to fail")
	}
	if _, ok := VerifyWebhookToken("", "subscribe", "", "12345"); ok {
		test.Fatalf("expected empty token to fail")
	}
}
