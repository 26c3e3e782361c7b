package bot

import (
	"fmt"
	"math"
	"strings"

	"github.com/kiranalabs/voicekhata/pkg/khata"
)

// formatMoney renders rupees without decimals when the amount is whole,
// otherwise with two.
func formatMoney(amount float64) string {
	rounded := math.Abs(amount)
	if rounded == math.Trunc(rounded) {
		return fmt.Sprintf("₹%.0f", rounded)
	}
	return fmt.Sprintf("₹%.2f", rounded)
}

func confirmAddUdhaar(customerName string, amount float64) string {
	return fmt.Sprintf("%s ke naam %s udhaar likh dun? (yes/no)", customerName, formatMoney(amount))
}

func confirmRecordPayment(customerName string, amount float64) string {
	return fmt.Sprintf("%s ne %s wapas diye, likh dun? (yes/no)", customerName, formatMoney(amount))
}

func confirmUndoLast() string {
	return "Aakhri entry hatani hai? (yes/no)"
}

func confirmSettle(customerName string, kind khata.TransactionKind, amount float64, items []khata.TxnItem) string {
	if kind == khata.KindRestock {
		return fmt.Sprintf("Stock mein %s add karun? (yes/no)", describeItems(items))
	}
	verb := "udhaar"
	if kind == khata.KindPayment {
		verb = "payment"
	}
	if len(items) > 0 {
		return fmt.Sprintf("%s: %s ka %s %s likh dun? (yes/no)", customerName, describeItems(items), formatMoney(amount), verb)
	}
	return fmt.Sprintf("%s ke naam %s %s likh dun? (yes/no)", customerName, formatMoney(amount), verb)
}

func describeItems(items []khata.TxnItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%g %s", item.Quantity, item.Name))
	}
	return strings.Join(parts, ", ")
}

// formatBalance renders a net position. Negative totals mean the shop owes
// the customer, reported as an advance.
func formatBalance(customerName string, total float64) string {
	if total < 0 {
		return fmt.Sprintf("%s ka %s advance hai.", customerName, formatMoney(total))
	}
	return fmt.Sprintf("%s ka hisaab: %s", customerName, formatMoney(total))
}

func formatSummary(rows []khata.SummaryRow) string {
	if len(rows) == 0 {
		return "Abhi koi udhaar nahi hai. Khata saaf hai! 🎉"
	}
	var builder strings.Builder
	builder.WriteString("📒 Khata summary:\n")
	for _, row := range rows {
		if row.Amount < 0 {
			builder.WriteString(fmt.Sprintf("• %s: %s (Advance)\n", row.CustomerName, formatMoney(row.Amount)))
			continue
		}
		builder.WriteString(fmt.Sprintf("• %s: %s\n", row.CustomerName, formatMoney(row.Amount)))
	}
	return strings.TrimRight(builder.String(), "\n")
}

func formatCustomerTotal(queryName string, result khata.CustomerTotalResult) string {
	if result.Status == khata.LookupNotFound {
		if len(result.Suggestions) > 0 {
			return fmt.Sprintf("%q naam ka koi customer nahi mila. Kya aapka matlab tha: %s?",
				queryName, strings.Join(result.Suggestions, ", "))
		}
		return fmt.Sprintf("%q naam ka koi customer nahi mila.", queryName)
	}
	displayName := queryName
	if len(result.Customers) > 0 {
		displayName = result.Customers[0].Customer.Name
	}
	message := formatBalance(displayName, result.Total)
	if len(result.Customers) > 1 {
		var variants []string
		for _, share := range result.Customers {
			variants = append(variants, fmt.Sprintf("%s %s", share.Customer.Name, formatMoney(share.Amount)))
		}
		message += fmt.Sprintf(" (milakar: %s)", strings.Join(variants, ", "))
	}
	return message
}

func formatSaleFailure(sale khata.SaleResult) string {
	var problems []string
	if len(sale.MissingProducts) > 0 {
		problems = append(problems, fmt.Sprintf("yeh products stock list mein nahi hain: %s",
			strings.Join(sale.MissingProducts, ", ")))
	}
	if len(sale.MissingPrices) > 0 {
		problems = append(problems, fmt.Sprintf("inka selling price set nahi hai: %s",
			strings.Join(sale.MissingPrices, ", ")))
	}
	for _, shortage := range sale.InsufficientStock {
		problems = append(problems, fmt.Sprintf("%s ka stock kam hai (sirf %g bacha, %g chahiye)",
			shortage.Name, shortage.Available, shortage.Requested))
	}
	return "Transaction nahi ho saka: " + strings.Join(problems, "; ")
}

func formatUndoResult(entry *khata.UdhaarEntry, customerName string) string {
	if entry == nil {
		return "Hatane ke liye koi entry nahi mili."
	}
	return fmt.Sprintf("Theek hai, %s ki %s wali entry hata di.", customerName, formatMoney(entry.Amount))
}

const (
	replyApology        = "Maaf kijiye, abhi kuchh gadbad ho gayi. Thodi der baad try kijiye."
	replyNotUnderstood  = "Samajh nahi aaya. Aise likhiye: \"Raju 120 udhaar\" ya \"Raju ka hisaab\"."
	replyCancelled      = "Theek hai, cancel kar diya. ❌"
	replyExpired        = "Yeh confirmation purana ho gaya hai. Dobara bhej dijiye."
	replyAlreadyHandled = "Yeh pehle hi ho chuka hai."
	replyNothingPending = "Abhi kuchh confirm karne ko nahi hai."
	replyConfirmFirst   = "Pehle pichhla confirmation poora kijiye: yes ya no."
)

func formatCommitted(action khata.ActionType, customerName string, amount float64, newTotal float64) string {
	switch action {
	case khata.ActionAddUdhaar:
		return fmt.Sprintf("✅ Likh diya! %s ke naam %s udhaar. Ab total: %s",
			customerName, formatMoney(amount), formatMoney(newTotal))
	case khata.ActionRecordPayment:
		return fmt.Sprintf("✅ Payment mil gayi! %s se %s. Ab total: %s",
			customerName, formatMoney(amount), formatMoney(newTotal))
	}
	return "✅ Ho gaya!"
}
