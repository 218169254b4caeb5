package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// PO statuses in workflow order. Cancelled can be reached from any
// non-terminal state.
const (
	POStatusGenerated       = "generated"
	POStatusPendingApproval = "pending_approval"
	POStatusApproved        = "approved"
	POStatusRejected        = "rejected"
	POStatusSentToVendor    = "sent_to_vendor"
	POStatusCancelled       = "cancelled"
)

// PurchaseOrder is a generated procurement document, keyed by PONumber.
type PurchaseOrder struct {
	PONumber    string `json:"po_number"`
	VendorName  string `json:"vendor_name"`
	VendorEmail string `json:"vendor_email,omitempty"`
	TotalAmount Amount `json:"total_amount"`
	Status      string `json:"status"`
	OrderDate   string `json:"order_date,omitempty"`
	WorkflowID  string `json:"workflow_id,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Amount is a monetary value that the backend may serialize either as a JSON
// number or as a decimal string.
type Amount float64

// UnmarshalJSON implements json.Unmarshaler. Unparseable values become 0.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*a = Amount(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			*a = Amount(f)
			return nil
		}
	}
	*a = 0
	return nil
}

// String formats the amount with two decimals.
func (a Amount) String() string {
	return strconv.FormatFloat(float64(a), 'f', 2, 64)
}

// POSummary aggregates a PO listing.
type POSummary struct {
	TotalAmount     Amount         `json:"total_amount"`
	StatusBreakdown map[string]int `json:"status_breakdown"`
}

// UpdatePOStatus returns a copy of pos with every record matching poNumber set
// to status, and whether anything matched. Records are never added, so an
// unknown PO number leaves the list untouched. A record whose UpdatedAt is
// later than at already reflects a newer change and keeps its status; a zero
// at always applies.
func UpdatePOStatus(pos []PurchaseOrder, poNumber, status string, at time.Time) ([]PurchaseOrder, bool) {
	matched := false
	var out []PurchaseOrder
	for i, po := range pos {
		if po.PONumber != poNumber {
			continue
		}
		matched = true
		if po.Status == status || po.UpdatedAfter(at) {
			continue
		}
		if out == nil {
			out = make([]PurchaseOrder, len(pos))
			copy(out, pos)
		}
		out[i].Status = status
	}
	if out == nil {
		return pos, matched
	}
	return out, matched
}

// UpdatedAfter reports whether the record was updated after t. Records
// without a parseable UpdatedAt, and a zero t, report false.
func (po PurchaseOrder) UpdatedAfter(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	updated, ok := ParseTimestamp(po.UpdatedAt)
	return ok && updated.After(t)
}
