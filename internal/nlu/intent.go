package nlu

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/kiranalabs/voicekhata/pkg/khata"
)

// Intent enumerates what the shopkeeper asked for.
type Intent string

const (
	IntentAddUdhaar         Intent = "add_udhaar"
	IntentRecordPayment     Intent = "record_payment"
	IntentUndoLast          Intent = "undo_last"
	IntentGetSummary        Intent = "get_summary"
	IntentGetCustomerTotal  Intent = "get_customer_total"
	IntentSettleTransaction Intent = "settle_transaction"
)

// ParseIntent maps a model-emitted string to the closed intent set,
// defaulting to get_summary which is read-only and therefore safe.
func ParseIntent(raw string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(raw))) {
	case IntentAddUdhaar, IntentRecordPayment, IntentUndoLast,
		IntentGetSummary, IntentGetCustomerTotal, IntentSettleTransaction:
		return Intent(strings.ToLower(strings.TrimSpace(raw)))
	}
	return IntentGetSummary
}

// IntentResult is the structured interpretation of one message. Confidence
// below the caller's threshold means the result must not drive a mutation.
type IntentResult struct {
	Intent       Intent
	CustomerName string
	Amount       *float64
	Confidence   float64
	Kind         khata.TransactionKind
	Items        []khata.TxnItem
}

// Mutating reports whether acting on the intent would change stored state.
func (result IntentResult) Mutating() bool {
	switch result.Intent {
	case IntentAddUdhaar, IntentRecordPayment, IntentUndoLast, IntentSettleTransaction:
		return true
	}
	return false
}

// fallbackResult is what every extraction failure degrades to: a zero
// confidence read-only intent the orchestrator will refuse to act on.
func fallbackResult() IntentResult {
	return IntentResult{Intent: IntentGetSummary, Confidence: 0}
}

type wireItem struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	CostPrice float64 `json:"cost_price"`
}

type wireIntent struct {
	Intent       string     `json:"intent"`
	CustomerName string     `json:"customer_name"`
	Amount       *float64   `json:"amount"`
	Confidence   float64    `json:"confidence"`
	Kind         string     `json:"transaction_type"`
	Items        []wireItem `json:"items"`
}

// DecodeIntentJSON parses a model response into an IntentResult. The model
// occasionally wraps its JSON in prose or markdown fences, so everything
// outside the outermost braces is trimmed first. Any decode failure returns
// the zero-confidence fallback rather than an error.
func DecodeIntentJSON(raw string) IntentResult {
	trimmed := trimToBraces(raw)
	if trimmed == "" {
		return fallbackResult()
	}
	var wire wireIntent
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return fallbackResult()
	}
	result := IntentResult{
		Intent:       ParseIntent(wire.Intent),
		CustomerName: strings.TrimSpace(wire.CustomerName),
		Amount:       wire.Amount,
		Confidence:   wire.Confidence,
		Kind:         khata.ParseTransactionKind(wire.Kind),
	}
	for _, item := range wire.Items {
		result.Items = append(result.Items, khata.TxnItem{
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			CostPrice: item.CostPrice,
		})
	}
	return result
}

func trimToBraces(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

var literalNumberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// PreferLiteralAmount guards against the model hallucinating amounts. When
// the message contains exactly one literal number and the model's amount is
// not among the literal numbers present, the literal wins.
func PreferLiteralAmount(result IntentResult, messageText string) IntentResult {
	if result.Amount == nil {
		return result
	}
	literals := literalNumberPattern.FindAllString(messageText, -1)
	if len(literals) == 0 {
		return result
	}
	for _, literal := range literals {
		if value, err := strconv.ParseFloat(literal, 64); err == nil && value == *result.Amount {
			return result
		}
	}
	if len(literals) == 1 {
		if value, err := strconv.ParseFloat(literals[0], 64); err == nil {
			result.Amount = &value
		}
	}
	return result
}
