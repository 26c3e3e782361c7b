// Package bot orchestrates the conversation: it turns inbound messages into
// intents, gates every mutation behind an explicit confirmation, and renders
// replies.
package bot

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kiranalabs/voicekhata/internal/livehub"
	"github.com/kiranalabs/voicekhata/internal/nlu"
	"github.com/kiranalabs/voicekhata/internal/whatsapp"
	"github.com/kiranalabs/voicekhata/pkg/khata"
)

// DefaultConfidenceThreshold gates mutating intents: below it the bot asks
// the shopkeeper to rephrase instead of proposing a write.
const DefaultConfidenceThreshold = 0.7

// IntentExtractor is the language boundary the bot depends on.
type IntentExtractor interface {
	ExtractIntent(ctx context.Context, messageText string) (nlu.IntentResult, error)
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
	AnalyzeImage(ctx context.Context, image []byte, mimeType string, caption string) (nlu.IntentResult, error)
}

// MessageSender delivers replies.
type MessageSender interface {
	SendText(ctx context.Context, recipient string, body string) error
}

// MediaFetcher retrieves voice note and photo bytes.
type MediaFetcher interface {
	GetMediaURL(ctx context.Context, mediaID string) (string, error)
	DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error)
}

// Result is the outcome of handling one message: the reply text and, when a
// confirmation was proposed, the pending action awaiting YES/NO.
type Result struct {
	Reply           string
	PendingActionID string
}

// Bot wires the ledger services behind the conversational flow.
type Bot struct {
	resolver   *khata.Resolver
	ledger     *khata.Ledger
	pending    *khata.Pending
	settlement *khata.Settlement
	extractor  IntentExtractor
	sender     MessageSender
	media      MediaFetcher
	hub        *livehub.Hub
	logger     *zap.Logger
	threshold  float64
}

// Config collects the bot's dependencies.
type Config struct {
	Resolver            *khata.Resolver
	Ledger              *khata.Ledger
	Pending             *khata.Pending
	Settlement          *khata.Settlement
	Extractor           IntentExtractor
	Sender              MessageSender
	Media               MediaFetcher
	Hub                 *livehub.Hub
	Logger              *zap.Logger
	ConfidenceThreshold float64
}

// New validates the wiring and returns a Bot.
func New(config Config) (*Bot, error) {
	if config.Resolver == nil || config.Ledger == nil || config.Pending == nil || config.Settlement == nil {
		return nil, fmt.Errorf("%w: ledger service dependency is nil", khata.ErrInvalidServiceConfig)
	}
	if config.Extractor == nil {
		return nil, fmt.Errorf("%w: intent extractor is nil", khata.ErrInvalidServiceConfig)
	}
	if config.Sender == nil {
		return nil, fmt.Errorf("%w: message sender is nil", khata.ErrInvalidServiceConfig)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Hub == nil {
		config.Hub = livehub.New()
	}
	threshold := config.ConfidenceThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}
	return &Bot{
		resolver:   config.Resolver,
		ledger:     config.Ledger,
		pending:    config.Pending,
		settlement: config.Settlement,
		extractor:  config.Extractor,
		sender:     config.Sender,
		media:      config.Media,
		hub:        config.Hub,
		logger:     config.Logger,
		threshold:  threshold,
	}, nil
}

type entryPayload struct {
	CustomerName    string  `json:"customer_name"`
	Amount          float64 `json:"amount"`
	Transcript      string  `json:"transcript"`
	RawText         string  `json:"raw_text"`
	SourceMessageID string  `json:"source_message_id"`
}

type settleItemPayload struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	CostPrice float64 `json:"cost_price"`
}

type settlePayload struct {
	CustomerName    string              `json:"customer_name"`
	Kind            string              `json:"transaction_type"`
	Amount          float64             `json:"amount"`
	Items           []settleItemPayload `json:"items"`
	Transcript      string              `json:"transcript"`
	RawText         string              `json:"raw_text"`
	SourceMessageID string              `json:"source_message_id"`
}

// HandleInbound processes one webhook message end to end and sends the reply.
// Reply delivery failures are logged, never propagated: the webhook path must
// stay quiet toward the transport.
func (bot *Bot) HandleInbound(ctx context.Context, message whatsapp.InboundMessage) {
	shop, err := khata.NewShopKey(message.From)
	if err != nil {
		bot.logger.Warn("inbound message without usable sender", zap.Error(err))
		return
	}
	bot.publish(shop, "message_received", string(message.Type))

	var result Result
	switch message.Type {
	case whatsapp.MessageText:
		result = bot.handleText(ctx, shop, message.Text, "", message.MessageID)
	case whatsapp.MessageAudio:
		result = bot.handleVoice(ctx, shop, message)
	case whatsapp.MessageImage:
		result = bot.handleImage(ctx, shop, message)
	default:
		return
	}
	if result.Reply == "" {
		return
	}
	bot.publish(shop, "reply", result.Reply)
	if err := bot.sender.SendText(ctx, shop.String(), result.Reply); err != nil {
		bot.logger.Warn("reply delivery failed",
			zap.String("shop", shop.String()),
			zap.Error(err),
		)
	}
}

// TextCommand runs the text pipeline without transport side effects, for the
// demo surface.
func (bot *Bot) TextCommand(ctx context.Context, shop khata.ShopKey, text string) Result {
	return bot.handleText(ctx, shop, text, "", "")
}

// Confirm resolves a pending action by id with an explicit decision, for the
// demo surface. The action must belong to the given shop.
func (bot *Bot) Confirm(ctx context.Context, shop khata.ShopKey, actionID string, decision khata.Decision) Result {
	action, err := bot.pending.Get(ctx, actionID)
	if err != nil {
		return bot.infraFailure(shop, "confirm lookup", err)
	}
	if action == nil || action.ShopKey != shop.String() {
		return Result{Reply: replyNothingPending}
	}
	return bot.resolveDecision(ctx, shop, action, decision)
}

// handleText is the confirmation-first text pipeline: a YES/NO token is
// matched against the latest still-valid pending action before any language
// model call happens, so confirmations stay cheap and deterministic. While a
// confirmation is pending, every text is treated as an answer to it: anything
// that is not a YES/NO token re-asks and keeps the action pending, so a new
// message can never stack a second pending action on top of the first.
func (bot *Bot) handleText(ctx context.Context, shop khata.ShopKey, text string, transcript string, messageID string) Result {
	decision := khata.ParseDecision(text)
	action, err := bot.pending.Latest(ctx, shop)
	if err != nil {
		return bot.infraFailure(shop, "pending lookup", err)
	}
	if action != nil {
		if decision == khata.DecisionUnknown {
			return Result{Reply: replyConfirmFirst, PendingActionID: action.ActionID}
		}
		return bot.resolveDecision(ctx, shop, action, decision)
	}
	if decision != khata.DecisionUnknown {
		return Result{Reply: replyNothingPending}
	}

	intent, err := bot.extractor.ExtractIntent(ctx, text)
	if err != nil {
		return bot.infraFailure(shop, "intent extraction", err)
	}
	bot.publish(shop, "intent", string(intent.Intent))
	return bot.actOnIntent(ctx, shop, intent, khata.Provenance{
		Transcript:      transcript,
		RawText:         text,
		SourceMessageID: messageID,
	})
}

func (bot *Bot) handleVoice(ctx context.Context, shop khata.ShopKey, message whatsapp.InboundMessage) Result {
	if bot.media == nil {
		return Result{Reply: replyNotUnderstood}
	}
	audio, err := bot.fetchMedia(ctx, message.MediaID)
	if err != nil {
		return bot.infraFailure(shop, "voice download", err)
	}
	transcript, err := bot.extractor.Transcribe(ctx, audio, message.MimeType)
	if err != nil {
		return bot.infraFailure(shop, "transcription", err)
	}
	bot.publish(shop, "transcript", transcript)
	return bot.handleText(ctx, shop, transcript, transcript, message.MessageID)
}

func (bot *Bot) handleImage(ctx context.Context, shop khata.ShopKey, message whatsapp.InboundMessage) Result {
	if bot.media == nil {
		return Result{Reply: replyNotUnderstood}
	}
	image, err := bot.fetchMedia(ctx, message.MediaID)
	if err != nil {
		return bot.infraFailure(shop, "image download", err)
	}
	intent, err := bot.extractor.AnalyzeImage(ctx, image, message.MimeType, message.Caption)
	if err != nil {
		return bot.infraFailure(shop, "image analysis", err)
	}
	bot.publish(shop, "intent", string(intent.Intent))
	return bot.actOnIntent(ctx, shop, intent, khata.Provenance{
		Transcript:      message.Caption,
		RawText:         strings.TrimSpace("[image] " + message.Caption),
		SourceMessageID: message.MessageID,
	})
}

func (bot *Bot) fetchMedia(ctx context.Context, mediaID string) ([]byte, error) {
	mediaURL, err := bot.media.GetMediaURL(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	return bot.media.DownloadMedia(ctx, mediaURL)
}

// actOnIntent executes read-only intents directly and converts mutating ones
// into pending actions awaiting confirmation. Nothing in this function writes
// to the ledger.
func (bot *Bot) actOnIntent(ctx context.Context, shop khata.ShopKey, intent nlu.IntentResult, provenance khata.Provenance) Result {
	if intent.Mutating() && intent.Confidence < bot.threshold {
		return Result{Reply: replyNotUnderstood}
	}

	switch intent.Intent {
	case nlu.IntentGetSummary:
		rows, err := bot.ledger.Summary(ctx, shop)
		if err != nil {
			return bot.infraFailure(shop, "summary", err)
		}
		return Result{Reply: formatSummary(rows)}

	case nlu.IntentGetCustomerTotal:
		if intent.CustomerName == "" {
			return Result{Reply: replyNotUnderstood}
		}
		total, err := bot.ledger.CustomerTotal(ctx, shop, intent.CustomerName)
		if err != nil {
			return bot.infraFailure(shop, "customer total", err)
		}
		return Result{Reply: formatCustomerTotal(intent.CustomerName, total)}

	case nlu.IntentAddUdhaar, nlu.IntentRecordPayment:
		if intent.CustomerName == "" || intent.Amount == nil || *intent.Amount <= 0 {
			return Result{Reply: replyNotUnderstood}
		}
		actionType := khata.ActionAddUdhaar
		prompt := confirmAddUdhaar(intent.CustomerName, *intent.Amount)
		if intent.Intent == nlu.IntentRecordPayment {
			actionType = khata.ActionRecordPayment
			prompt = confirmRecordPayment(intent.CustomerName, *intent.Amount)
		}
		action, err := bot.pending.Create(ctx, shop, actionType, entryPayload{
			CustomerName:    intent.CustomerName,
			Amount:          *intent.Amount,
			Transcript:      provenance.Transcript,
			RawText:         provenance.RawText,
			SourceMessageID: provenance.SourceMessageID,
		})
		if err != nil {
			return bot.infraFailure(shop, "pending create", err)
		}
		bot.publish(shop, "pending_created", string(actionType))
		return Result{Reply: prompt, PendingActionID: action.ActionID}

	case nlu.IntentUndoLast:
		action, err := bot.pending.Create(ctx, shop, khata.ActionUndoLast, entryPayload{
			Transcript:      provenance.Transcript,
			RawText:         provenance.RawText,
			SourceMessageID: provenance.SourceMessageID,
		})
		if err != nil {
			return bot.infraFailure(shop, "pending create", err)
		}
		bot.publish(shop, "pending_created", string(khata.ActionUndoLast))
		return Result{Reply: confirmUndoLast(), PendingActionID: action.ActionID}

	case nlu.IntentSettleTransaction:
		kind := intent.Kind
		if intent.CustomerName == "" && kind != khata.KindRestock {
			return Result{Reply: replyNotUnderstood}
		}
		var amount float64
		if intent.Amount != nil {
			amount = *intent.Amount
		}
		payload := settlePayload{
			CustomerName:    intent.CustomerName,
			Kind:            string(kind),
			Amount:          amount,
			Transcript:      provenance.Transcript,
			RawText:         provenance.RawText,
			SourceMessageID: provenance.SourceMessageID,
		}
		for _, item := range intent.Items {
			payload.Items = append(payload.Items, settleItemPayload(item))
		}
		action, err := bot.pending.Create(ctx, shop, khata.ActionSettleTransaction, payload)
		if err != nil {
			return bot.infraFailure(shop, "pending create", err)
		}
		bot.publish(shop, "pending_created", string(khata.ActionSettleTransaction))
		return Result{
			Reply:           confirmSettle(intent.CustomerName, kind, amount, intent.Items),
			PendingActionID: action.ActionID,
		}
	}
	return Result{Reply: replyNotUnderstood}
}

// resolveDecision moves a pending action to its terminal status. The claim
// happens before the commit, so concurrent confirmations resolve to exactly
// one write even if that means a failed commit leaves a confirmed action with
// no ledger effect.
func (bot *Bot) resolveDecision(ctx context.Context, shop khata.ShopKey, action *khata.PendingAction, decision khata.Decision) Result {
	if decision == khata.DecisionNo {
		outcome, err := bot.pending.Cancel(ctx, action)
		if err != nil {
			return bot.infraFailure(shop, "pending cancel", err)
		}
		if outcome == khata.ClaimAlreadyResolved {
			return Result{Reply: replyAlreadyHandled}
		}
		bot.publish(shop, "cancelled", string(action.ActionType))
		return Result{Reply: replyCancelled}
	}

	outcome, err := bot.pending.Claim(ctx, action)
	if err != nil {
		return bot.infraFailure(shop, "pending claim", err)
	}
	switch outcome {
	case khata.ClaimExpired:
		return Result{Reply: replyExpired}
	case khata.ClaimAlreadyResolved:
		return Result{Reply: replyAlreadyHandled}
	}
	return bot.commit(ctx, shop, action)
}

// commit executes a claimed action. The switch is exhaustive over ActionType;
// an unknown type stored by a future version falls through to the apology.
func (bot *Bot) commit(ctx context.Context, shop khata.ShopKey, action *khata.PendingAction) Result {
	switch action.ActionType {
	case khata.ActionAddUdhaar, khata.ActionRecordPayment:
		var payload entryPayload
		if err := action.DecodePayload(&payload); err != nil {
			return bot.infraFailure(shop, "payload decode", err)
		}
		kind := khata.KindCredit
		if action.ActionType == khata.ActionRecordPayment {
			kind = khata.KindPayment
		}
		settled, err := bot.settlement.Settle(ctx, shop, khata.SettleRequest{
			CustomerName:   payload.CustomerName,
			Kind:           kind,
			AmountOverride: payload.Amount,
			Provenance: khata.Provenance{
				Transcript:      payload.Transcript,
				RawText:         payload.RawText,
				SourceMessageID: payload.SourceMessageID,
			},
		})
		if err != nil {
			return bot.infraFailure(shop, "settle", err)
		}
		bot.publish(shop, "committed", string(action.ActionType))
		return Result{Reply: formatCommitted(action.ActionType, settled.Customer.Name, math.Abs(settled.Amount), settled.NewTotal)}

	case khata.ActionUndoLast:
		entry, err := bot.ledger.UndoLast(ctx, shop)
		if err != nil {
			return bot.infraFailure(shop, "undo", err)
		}
		if entry == nil {
			return Result{Reply: formatUndoResult(nil, "")}
		}
		customerName, err := bot.ledger.CustomerNameByID(ctx, entry.CustomerID)
		if err != nil {
			customerName = entry.CustomerID
		}
		bot.publish(shop, "committed", string(khata.ActionUndoLast))
		return Result{Reply: formatUndoResult(entry, customerName)}

	case khata.ActionSettleTransaction:
		var payload settlePayload
		if err := action.DecodePayload(&payload); err != nil {
			return bot.infraFailure(shop, "payload decode", err)
		}
		items := make([]khata.TxnItem, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, khata.TxnItem(item))
		}
		settled, err := bot.settlement.Settle(ctx, shop, khata.SettleRequest{
			CustomerName:   payload.CustomerName,
			Kind:           khata.ParseTransactionKind(payload.Kind),
			AmountOverride: payload.Amount,
			Items:          items,
			Provenance: khata.Provenance{
				Transcript:      payload.Transcript,
				RawText:         payload.RawText,
				SourceMessageID: payload.SourceMessageID,
			},
		})
		if err != nil {
			return bot.infraFailure(shop, "settle", err)
		}
		if settled.Status == khata.TxnError && settled.Sale != nil {
			return Result{Reply: formatSaleFailure(*settled.Sale)}
		}
		bot.publish(shop, "committed", string(khata.ActionSettleTransaction))
		if settled.Kind == khata.KindRestock {
			return Result{Reply: fmt.Sprintf("✅ Stock update ho gaya: %s", describeItems(items))}
		}
		committedAs := khata.ActionAddUdhaar
		if settled.Kind == khata.KindPayment {
			committedAs = khata.ActionRecordPayment
		}
		return Result{Reply: formatCommitted(committedAs, settled.Customer.Name, math.Abs(settled.Amount), settled.NewTotal)}
	}

	bot.logger.Error("claimed action of unknown type",
		zap.String("action_id", action.ActionID),
		zap.String("action_type", action.ActionType.String()),
	)
	return Result{Reply: replyApology}
}

func (bot *Bot) infraFailure(shop khata.ShopKey, stage string, err error) Result {
	bot.logger.Error("message handling failed",
		zap.String("shop", shop.String()),
		zap.String("stage", stage),
		zap.Error(err),
	)
	bot.publish(shop, "error", stage)
	return Result{Reply: replyApology}
}

func (bot *Bot) publish(shop khata.ShopKey, kind string, detail string) {
	bot.hub.Publish(livehub.Event{
		ShopKey:   shop.String(),
		Kind:      kind,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}
