package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/custody/internal/property"
)

// Walk returns the entries in card order with BalanceQty and Amount
// recomputed from a zero baseline. An imported entry keeps its stored
// balance and amount, and the running totals continue from it. The input
// slice is not modified.
func Walk(entries []property.Entry) []property.Entry {
	out := make([]property.Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })

	balance := 0
	amount := decimal.Zero
	for i := range out {
		if out[i].Imported {
			balance, amount = out[i].BalanceQty, out[i].Amount
			continue
		}
		balance, amount = apply(balance, amount, out[i])
		out[i].BalanceQty = balance
		out[i].Amount = amount
	}
	return out
}

// Verify reports the first computed entry whose stored balance disagrees
// with the walk, or -1 when the card is consistent. Imported entries are
// never reported.
func Verify(entries []property.Entry) int {
	walked := Walk(entries)
	sorted := make([]property.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	for i := range walked {
		if sorted[i].Imported {
			continue
		}
		if sorted[i].BalanceQty != walked[i].BalanceQty || !sorted[i].Amount.Equal(walked[i].Amount) {
			return i
		}
	}
	return -1
}

func apply(balance int, amount decimal.Decimal, e property.Entry) (int, decimal.Decimal) {
	balance += e.ReceiptQty - e.IssueQty
	amount = amount.Add(receiptAmount(e)).Sub(e.IssueAmount)
	return balance, amount
}

func receiptAmount(e property.Entry) decimal.Decimal {
	if e.ReceiptQty == 0 {
		return decimal.Zero
	}
	return e.UnitCost.Mul(decimal.NewFromInt(int64(e.ReceiptQty)))
}

// issueAmount derives the cost removed by an issue line: the explicit amount
// when set, else the line's unit cost basis, else the running average.
func issueAmount(e property.Entry, prevBalance int, prevAmount decimal.Decimal) decimal.Decimal {
	if e.IssueQty == 0 {
		return decimal.Zero
	}
	if !e.IssueAmount.IsZero() {
		return e.IssueAmount
	}
	qty := decimal.NewFromInt(int64(e.IssueQty))
	if !e.UnitCost.IsZero() {
		return e.UnitCost.Mul(qty)
	}
	if prevBalance <= 0 {
		return decimal.Zero
	}
	avg := prevAmount.Div(decimal.NewFromInt(int64(prevBalance)))
	return avg.Mul(qty).Round(2)
}
