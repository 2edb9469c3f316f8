package credits

import (
	"time"
)

// Membership types
const (
	MembershipFree    = "free"
	MembershipMonthly = "monthly"
)

// Transaction types
const (
	TxPurchase   = "purchase"
	TxSpend      = "spend"
	TxBonus      = "bonus"
	TxRefund     = "refund"
	TxMembership = "membership"
)

// membershipStatusActive is the only backend status that yields an active
// membership; anything else (cancelled, expired, ...) maps to free.
const membershipStatusActive = "ACTIVE"

type (
	// Membership mirrors the subscription record from the backend.
	// Invariant: IsActive=false implies Type=free and nil dates.
	Membership struct {
		IsActive        bool       `json:"is_active"`
		Type            string     `json:"type"`
		ExpiresAt       *time.Time `json:"expires_at"`
		NextBillingDate *time.Time `json:"next_billing_date"`
	}

	// Transaction is a client-local, display-only log entry. The log is
	// never persisted and is not the source of truth for the balance.
	Transaction struct {
		ID       string                 `json:"id"`
		Type     string                 `json:"type"`
		Amount   float64                `json:"amount"`
		Balance  float64                `json:"balance"`
		At       time.Time              `json:"timestamp"`
		Metadata map[string]interface{} `json:"metadata,omitempty"`
	}

	// Analytics aggregates the transaction log for display.
	Analytics struct {
		TotalsByType      map[string]float64 `json:"totals_by_type"`
		MonthTotalsByType map[string]float64 `json:"month_totals_by_type"`
		Count             int                `json:"count"`
		AveragePurchase   float64            `json:"average_purchase"`
	}
)

// FreeMembership is the default, inactive record.
func FreeMembership() Membership {
	return Membership{IsActive: false, Type: MembershipFree}
}

// ComputeAnalytics derives aggregates from the transaction log. Pure: the
// same input always yields the same output and txs is never mutated.
func ComputeAnalytics(txs []Transaction, now time.Time) Analytics {
	an := Analytics{
		TotalsByType:      make(map[string]float64),
		MonthTotalsByType: make(map[string]float64),
		Count:             len(txs),
	}

	var purchaseTotal float64
	var purchaseCount int
	for _, tx := range txs {
		an.TotalsByType[tx.Type] += tx.Amount
		if tx.At.Year() == now.Year() && tx.At.Month() == now.Month() {
			an.MonthTotalsByType[tx.Type] += tx.Amount
		}
		if tx.Type == TxPurchase {
			purchaseTotal += tx.Amount
			purchaseCount++
		}
	}
	if purchaseCount > 0 {
		an.AveragePurchase = purchaseTotal / float64(purchaseCount)
	}
	return an
}
