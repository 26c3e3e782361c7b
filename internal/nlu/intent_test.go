package nlu

import (
	"testing"
)

func TestDecodeIntentJSONPlain(test *testing.T) {
	test.Parallel()
	raw := `{"intent":"add_udhaar","customer_name":"Raju","amount":120,"confidence":0.92,"transaction_type":"CREDIT"}`
	result := DecodeIntentJSON(raw)
	if result.Intent != IntentAddUdhaar {
		test.Fatalf("unexpected intent: %s", result.Intent)
	}
	if result.CustomerName != "Raju" {
		test.Fatalf("unexpected customer: %q", result.CustomerName)
	}
	if result.Amount == nil || *result.Amount != 120 {
		test.Fatalf("unexpected amount: %v", result.Amount)
	}
	if result.Confidence != 0.92 {
		test.Fatalf("unexpected confidence: %g", result.Confidence)
	}
}

func TestDecodeIntentJSONTrimsFences(test *testing.T) {
	test.Parallel()
	raw := "Here is the analysis:\n```json\n{\"intent\":\"get_customer_total\",\"customer_name\":\"Sita\",\"confidence\":0.8}\n```"
	result := DecodeIntentJSON(raw)
	if result.Intent != IntentGetCustomerTotal || result.CustomerName != "Sita" {
		test.Fatalf("unexpected result: %+v", result)
	}
}

func TestDecodeIntentJSONFailureDegradesToSummary(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"", "no json here", "{broken", `{"intent":`} {
		result := DecodeIntentJSON(raw)
		if result.Intent != IntentGetSummary || result.Confidence != 0 {
			test.Fatalf("expected zero-confidence summary fallback for %q, got %+v", raw, result)
		}
	}
}

func TestDecodeIntentJSONItemsAndKind(test *testing.T) {
	test.Parallel()
	raw := `{"intent":"settle_transaction","customer_name":"Raju","confidence":0.85,"transaction_type":"restock","items":[{"name":" Maggi ","quantity":10,"cost_price":11}]}`
	result := DecodeIntentJSON(raw)
	if result.Intent != IntentSettleTransaction {
		test.Fatalf("unexpected intent: %s", result.Intent)
	}
	if string(result.Kind) != "RESTOCK" {
		test.Fatalf("unexpected kind: %s", result.Kind)
	}
	if len(result.Items) != 1 || result.Items[0].Name != "Maggi" || result.Items[0].Quantity != 10 {
		test.Fatalf("unexpected items: %+v", result.Items)
	}
}

func TestParseIntentDefaultsToSummary(test *testing.T) {
	test.Parallel()
	if ParseIntent("delete_everything") != IntentGetSummary {
		test.Fatalf("expected unknown intent to default to summary")
	}
	if ParseIntent(" Undo_Last ") != IntentUndoLast {
		test.Fatalf("expected case-insensitive parse")
	}
}

func TestMutatingClassification(test *testing.T) {
	test.Parallel()
	mutating := []Intent{IntentAddUdhaar, IntentRecordPayment, IntentUndoLast, IntentSettleTransaction}
	for _, intent := range mutating {
		if !(IntentResult{Intent: intent}).Mutating() {
			test.Fatalf("expected %s to be mutating", intent)
		}
	}
	readOnly := []Intent{IntentGetSummary, IntentGetCustomerTotal}
	for _, intent := range readOnly {
		if (IntentResult{Intent: intent}).Mutating() {
			test.Fatalf("expected %s to be read-only", intent)
		}
	}
}

func floatPtr(value float64) *float64 { return &value }

func TestPreferLiteralAmountOverridesHallucination(test *testing.T) {
	test.Parallel()
	result := IntentResult{Intent: IntentAddUdhaar, Amount: floatPtr(1200)}
	corrected := PreferLiteralAmount(result, "Raju ko 120 ka udhaar")
	if corrected.Amount == nil || *corrected.Amount != 120 {
		test.Fatalf("expected literal 120 to win, got %v", corrected.Amount)
	}
}

func TestPreferLiteralAmountKeepsMatchingValue(test *testing.T) {
	test.Parallel()
	result := IntentResult{Intent: IntentAddUdhaar, Amount: floatPtr(120)}
	corrected := PreferLiteralAmount(result, "Raju 120 aur Sita 50")
	if corrected.Amount == nil || *corrected.Amount != 120 {
		test.Fatalf("expected matching amount kept, got %v", corrected.Amount)
	}
}

func TestPreferLiteralAmountAmbiguousLeavesModelValue(test *testing.T) {
	test.Parallel()
	// Two literals and neither matches: there is no safe correction.
	result := IntentResult{Intent: IntentAddUdhaar, Amount: floatPtr(700)}
	corrected := PreferLiteralAmount(result, "Raju 120 aur Sita 50")
	if corrected.Amount == nil || *corrected.Amount != 700 {
		test.Fatalf("expected ambiguous case untouched, got %v", corrected.Amount)
	}
}

func TestPreferLiteralAmountNoNumbersInText(test *testing.T) {
	test.Parallel()
	result := IntentResult{Intent: IntentAddUdhaar, Amount: floatPtr(120)}
	corrected := PreferLiteralAmount(result, "Raju ko sau rupay udhaar")
	if corrected.Amount == nil || *corrected.Amount != 120 {
		test.Fatalf("expected amount kept when text has no digits, got %v", corrected.Amount)
	}
}
