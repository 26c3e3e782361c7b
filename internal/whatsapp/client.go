// Package whatsapp talks to the WhatsApp Cloud API: outbound text messages,
// media retrieval, and inbound webhook payload decoding.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kiranalabs/voicekhata/pkg/khata"
)

const (
	defaultGraphBaseURL = "https://graph.facebook.com/v20.0"
	requestTimeout      = 30 * time.Second
	maxMediaBytes       = 25 << 20
)

// MessageType classifies inbound messages by payload shape.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageAudio MessageType = "audio"
	MessageImage MessageType = "image"
)

// InboundMessage is one message lifted out of a webhook payload. Caption is
// only set for images.
type InboundMessage struct {
	From      string
	MessageID string
	Type      MessageType
	Text      string
	MediaID   string
	MimeType  string
	Caption   string
}

// Client is a WhatsApp Cloud API client for one business phone number.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	accessToken   string
	phoneNumberID string
	logger        *zap.Logger
}

// NewClient validates credentials and returns a Client.
func NewClient(accessToken string, phoneNumberID string, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(accessToken) == "" || strings.TrimSpace(phoneNumberID) == "" {
		return nil, fmt.Errorf("%w: whatsapp credentials are empty", khata.ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient:    &http.Client{Timeout: requestTimeout},
		baseURL:       defaultGraphBaseURL,
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		logger:        logger,
	}, nil
}

// SendText delivers one text message to a recipient phone number.
func (client *Client) SendText(ctx context.Context, recipient string, body string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                strings.TrimPrefix(recipient, "+"),
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return khata.WrapError("whatsapp", "message", "encode", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", client.baseURL, client.phoneNumberID)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return khata.WrapError("whatsapp", "message", "request", err)
	}
	request.Header.Set("Authorization", "Bearer "+client.accessToken)
	request.Header.Set("Content-Type", "application/json")

	response, err := client.httpClient.Do(request)
	if err != nil {
		return khata.WrapError("whatsapp", "message", "send", err)
	}
	defer response.Body.Close()
	if response.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 2048))
		client.logger.Warn("message send rejected",
			zap.Int("status", response.StatusCode),
			zap.ByteString("detail", detail),
		)
		return khata.WrapError("whatsapp", "message", "send",
			fmt.Errorf("unexpected status %d", response.StatusCode))
	}
	return nil
}

// GetMediaURL resolves a media id to its short-lived download URL.
func (client *Client) GetMediaURL(ctx context.Context, mediaID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s", client.baseURL, mediaID)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", khata.WrapError("whatsapp", "media", "request", err)
	}
	request.Header.Set("Authorization", "Bearer "+client.accessToken)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return "", khata.WrapError("whatsapp", "media", "lookup", err)
	}
	defer response.Body.Close()
	if response.StatusCode >= 300 {
		return "", khata.WrapError("whatsapp", "media", "lookup",
			fmt.Errorf("unexpected status %d", response.StatusCode))
	}

	var decoded struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", khata.WrapError("whatsapp", "media", "decode", err)
	}
	if decoded.URL == "" {
		return "", khata.WrapError("whatsapp", "media", "decode", fmt.Errorf("empty media url"))
	}
	return decoded.URL, nil
}

// DownloadMedia fetches media bytes from a previously resolved URL. Downloads
// are capped to keep a hostile payload from exhausting memory.
func (client *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, khata.WrapError("whatsapp", "media", "request", err)
	}
	request.Header.Set("Authorization", "Bearer "+client.accessToken)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, khata.WrapError("whatsapp", "media", "download", err)
	}
	defer response.Body.Close()
	if response.StatusCode >= 300 {
		return nil, khata.WrapError("whatsapp", "media", "download",
			fmt.Errorf("unexpected status %d", response.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(response.Body, maxMediaBytes))
	if err != nil {
		return nil, khata.WrapError("whatsapp", "media", "read", err)
	}
	return data, nil
}

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
					ID   string `json:"id"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Audio struct {
						ID       string `json:"id"`
						MimeType string `json:"mime_type"`
					} `json:"audio"`
					Image struct {
						ID       string `json:"id"`
						MimeType string `json:"mime_type"`
						Caption  string `json:"caption"`
					} `json:"image"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ExtractMessages flattens a webhook payload into the messages it carries.
// Status-only payloads (delivery receipts) yield an empty slice, and message
// types outside text/audio/image are skipped.
func ExtractMessages(payload []byte) ([]InboundMessage, error) {
	var decoded webhookPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, khata.WrapError("whatsapp", "webhook", "decode", err)
	}
	var messages []InboundMessage
	for _, entry := range decoded.Entry {
		for _, change := range entry.Changes {
			for _, message := range change.Value.Messages {
				inbound := InboundMessage{From: message.From, MessageID: message.ID}
				switch MessageType(message.Type) {
				case MessageText:
					inbound.Type = MessageText
					inbound.Text = message.Text.Body
				case MessageAudio:
					inbound.Type = MessageAudio
					inbound.MediaID = message.Audio.ID
					inbound.MimeType = message.Audio.MimeType
				case MessageImage:
					inbound.Type = MessageImage
					inbound.MediaID = message.Image.ID
					inbound.MimeType = message.Image.MimeType
					inbound.Caption = message.Image.Caption
				default:
					continue
				}
				messages = append(messages, inbound)
			}
		}
	}
	return messages, nil
}

// VerifyWebhookToken answers the hub.challenge handshake: the challenge is
// echoed only when mode is "subscribe" and the token matches.
func VerifyWebhookToken(expectedToken string, mode string, token string, challenge string) (string, bool) {
	if mode == "subscribe" && token != "" && token == expectedToken {
		return challenge, true
	}
	return "", false
}
