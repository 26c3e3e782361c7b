package nlu

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/kiranalabs/voicekhata/pkg/khata"
)

const (
	defaultModelName = "gemini-2.0-flash"

	intentPrompt = `You are the language engine of a khata (credit ledger) assistant for small
Indian shopkeepers. Messages mix Hindi, English and Hinglish.

Analyze the message and respond with STRICT JSON only, no prose, matching:
{
  "intent": "add_udhaar|record_payment|undo_last|get_summary|get_customer_total|settle_transaction",
  "customer_name": "string or empty",
  "amount": number or null,
  "confidence": number between 0 and 1,
  "transaction_type": "CREDIT|PAYMENT|RESTOCK",
  "items": [{"name": "string", "quantity": number, "cost_price": number}]
}

Rules:
- add_udhaar: the customer took goods or money on credit.
- record_payment: the customer paid money back.
- settle_transaction: the message names products being sold or restocked.
- Never invent an amount that is not in the message.
- Keep customer names exactly as spoken, do not translate them.

Message: `

	transcribePrompt = `Transcribe this voice note exactly as spoken. The speaker mixes Hindi,
English and Hinglish. Reply with the transcription only, no commentary.`

	imagePrompt = `This is a photo sent to a khata (credit ledger) assistant, usually a
handwritten ledger page or a receipt. Extract any transaction it records and
respond with the same STRICT JSON schema:
{
  "intent": "add_udhaar|record_payment|get_summary|settle_transaction",
  "customer_name": "string or empty",
  "amount": number or null,
  "confidence": number between 0 and 1,
  "transaction_type": "CREDIT|PAYMENT|RESTOCK",
  "items": [{"name": "string", "quantity": number, "cost_price": number}]
}`
)

// Client wraps the generative model behind the three operations the bot
// needs. Every failure degrades to a zero-confidence read-only result so the
// conversational layer never mutates on a guess.
type Client struct {
	client    *genai.Client
	modelName string
	logger    *zap.Logger
}

// NewClient dials the generative API.
func NewClient(ctx context.Context, apiKey string, modelName string, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: api key is empty", khata.ErrInvalidServiceConfig)
	}
	if modelName == "" {
		modelName = defaultModelName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, khata.WrapError("nlu", "client", "dial", err)
	}
	return &Client{client: client, modelName: modelName, logger: logger}, nil
}

// Close releases the underlying connection.
func (nluClient *Client) Close() error {
	return nluClient.client.Close()
}

// ExtractIntent interprets a text message. The returned result always has a
// usable shape; extraction failure shows up as zero confidence.
func (nluClient *Client) ExtractIntent(ctx context.Context, messageText string) (IntentResult, error) {
	raw, err := nluClient.generate(ctx, genai.Text(intentPrompt+messageText))
	if err != nil {
		nluClient.logger.Warn("intent extraction failed", zap.Error(err))
		return fallbackResult(), nil
	}
	return PreferLiteralAmount(DecodeIntentJSON(raw), messageText), nil
}

// Transcribe converts a voice note to text.
func (nluClient *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	raw, err := nluClient.generate(ctx,
		genai.Text(transcribePrompt),
		genai.Blob{MIMEType: mimeType, Data: audio},
	)
	if err != nil {
		return "", khata.WrapError("nlu", "audio", "transcribe", err)
	}
	return strings.TrimSpace(raw), nil
}

// AnalyzeImage extracts a transaction from a photo. The sender's caption,
// when present, is handed to the model alongside the image.
func (nluClient *Client) AnalyzeImage(ctx context.Context, image []byte, mimeType string, caption string) (IntentResult, error) {
	prompt := imagePrompt
	if strings.TrimSpace(caption) != "" {
		prompt += "\n\nSender's caption: " + caption
	}
	raw, err := nluClient.generate(ctx,
		genai.Text(prompt),
		genai.Blob{MIMEType: mimeType, Data: image},
	)
	if err != nil {
		nluClient.logger.Warn("image analysis failed", zap.Error(err))
		return fallbackResult(), nil
	}
	return DecodeIntentJSON(raw), nil
}

func (nluClient *Client) generate(ctx context.Context, parts ...genai.Part) (string, error) {
	model := nluClient.client.GenerativeModel(nluClient.modelName)
	response, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", err
	}
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty model response")
	}
	var builder strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			builder.WriteString(string(text))
		}
	}
	return builder.String(), nil
}
