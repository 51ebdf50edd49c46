// Package property holds the custody domain model shared by the registry,
// ledger, transfer and cleanup services.
package property

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Condition describes the physical state of an item.
type Condition string

const (
	ConditionServiceable   Condition = "Serviceable"
	ConditionUnserviceable Condition = "Unserviceable"
	ConditionForRepair     Condition = "For Repair"
	ConditionLost          Condition = "Lost"
	ConditionStolen        Condition = "Stolen"
	ConditionDamaged       Condition = "Damaged"
	ConditionDestroyed     Condition = "Destroyed"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case ConditionServiceable, ConditionUnserviceable, ConditionForRepair,
		ConditionLost, ConditionStolen, ConditionDamaged, ConditionDestroyed:
		return true
	}
	return false
}

// ItemStatus is the lifecycle status of an item.
type ItemStatus string

const (
	ItemActive      ItemStatus = "Active"
	ItemTransferred ItemStatus = "Transferred"
	ItemDisposed    ItemStatus = "Disposed"
	ItemMissing     ItemStatus = "Missing"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemActive, ItemTransferred, ItemDisposed, ItemMissing:
		return true
	}
	return false
}

// AssignmentStatus flags whether an item has a custodian. Legacy rows may
// carry an empty value, which reads as Available.
type AssignmentStatus string

const (
	AssignmentAvailable AssignmentStatus = "Available"
	AssignmentAssigned  AssignmentStatus = "Assigned"
)

// Custodian identifies the person accountable for an item.
type Custodian struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Position string `json:"position,omitempty"`
}

// IsZero reports whether no custodian is set.
func (c Custodian) IsZero() bool {
	return c.ID == ""
}

// OfficeOfficer renders the label printed on ledger issue lines.
func (c Custodian) OfficeOfficer() string {
	name := strings.TrimSpace(c.Name)
	if pos := strings.TrimSpace(c.Position); pos != "" {
		return name + " (" + pos + ")"
	}
	return name
}

// Item is a semi-expendable property item.
type Item struct {
	ID                  string           `json:"id"`
	PropertyNumber      string           `json:"property_number"`
	Description         string           `json:"description"`
	Unit                string           `json:"unit"`
	Condition           Condition        `json:"condition"`
	Status              ItemStatus       `json:"status"`
	UnitCost            decimal.Decimal  `json:"unit_cost"`
	Quantity            int              `json:"quantity"`
	TotalCost           decimal.Decimal  `json:"total_cost"`
	AssignmentStatus    AssignmentStatus `json:"assignment_status"`
	Custodian           Custodian        `json:"custodian"`
	AssignedAt          *time.Time       `json:"assigned_at,omitempty"`
	EstimatedUsefulLife string           `json:"estimated_useful_life,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// IsAssigned reports whether the item is held by a custodian. Either the
// flag or a non-empty custodian reference is enough.
func (i Item) IsAssigned() bool {
	return i.AssignmentStatus == AssignmentAssigned || i.Custodian.ID != ""
}

// Available reports whether the item can be handed to a new custodian.
func (i Item) Available() bool {
	return i.Condition == ConditionServiceable && i.Status == ItemActive && !i.IsAssigned()
}

// Ref returns the reference used to match dependents of the item.
func (i Item) Ref() ItemRef {
	return ItemRef{ID: i.ID, PropertyNumber: i.PropertyNumber}
}

// RecomputeTotal refreshes TotalCost from UnitCost and Quantity.
func (i *Item) RecomputeTotal() {
	i.TotalCost = i.UnitCost.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemRef locates an item by id, falling back to its property number.
type ItemRef struct {
	ID             string `json:"item_id,omitempty"`
	PropertyNumber string `json:"property_number,omitempty"`
}

// Empty reports whether neither key is set.
func (r ItemRef) Empty() bool {
	return r.ID == "" && r.PropertyNumber == ""
}

// ItemFilter narrows item listings.
type ItemFilter struct {
	CustodianID string
	Condition   Condition
	Status      ItemStatus
	Limit       int
}

// Card is the property card header of an item.
type Card struct {
	ID             string    `json:"id"`
	ItemID         string    `json:"item_id"`
	PropertyNumber string    `json:"property_number"`
	EntityName     string    `json:"entity_name"`
	FundCluster    string    `json:"fund_cluster"`
	Description    string    `json:"description"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Entry is a single property card line.
type Entry struct {
	ID            string          `json:"id"`
	CardID        string          `json:"card_id"`
	Seq           int64           `json:"seq"`
	Date          time.Time       `json:"date"`
	Reference     string          `json:"reference"`
	ReceiptQty    int             `json:"receipt_qty"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	IssueQty      int             `json:"issue_qty"`
	IssueAmount   decimal.Decimal `json:"issue_amount"`
	IssueItemNo   string          `json:"issue_item_no,omitempty"`
	OfficeOfficer string          `json:"office_officer,omitempty"`
	BalanceQty    int             `json:"balance_qty"`
	Amount        decimal.Decimal `json:"amount"`
	Remarks       string          `json:"remarks,omitempty"`
	Imported      bool            `json:"imported"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Before reports whether e sorts before other in card order.
func (e Entry) Before(other Entry) bool {
	if !e.Date.Equal(other.Date) {
		return e.Date.Before(other.Date)
	}
	return e.Seq < other.Seq
}

// Slip is a custodian slip header.
type Slip struct {
	ID          string    `json:"id"`
	SlipNumber  string    `json:"slip_number"`
	Custodian   Custodian `json:"custodian"`
	Office      string    `json:"office,omitempty"`
	EntityName  string    `json:"entity_name"`
	FundCluster string    `json:"fund_cluster"`
	IssuedAt    time.Time `json:"issued_at"`
	IssuedBy    string    `json:"issued_by,omitempty"`
	ReceivedBy  string    `json:"received_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SlipItem is one line of a custodian slip.
type SlipItem struct {
	ID             string `json:"id"`
	SlipID         string `json:"slip_id"`
	ItemID         string `json:"item_id"`
	PropertyNumber string `json:"property_number"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	EntryID        string `json:"entry_id,omitempty"`
}

// TransferStatus is the ITR workflow state.
type TransferStatus string

const (
	TransferDraft     TransferStatus = "Draft"
	TransferIssued    TransferStatus = "Issued"
	TransferCompleted TransferStatus = "Completed"
	TransferRejected  TransferStatus = "Rejected"
)

// Normalize maps the legacy empty status to Draft.
func (s TransferStatus) Normalize() TransferStatus {
	if s == "" {
		return TransferDraft
	}
	return s
}

// Terminal reports whether no further transition is possible.
func (s TransferStatus) Terminal() bool {
	switch s.Normalize() {
	case TransferCompleted, TransferRejected:
		return true
	}
	return false
}

// Open reports whether the transfer still has pending effects.
func (s TransferStatus) Open() bool {
	return !s.Terminal()
}

// CanTransition reports whether the workflow allows moving to next.
func (s TransferStatus) CanTransition(next TransferStatus) bool {
	switch s.Normalize() {
	case TransferDraft:
		return next == TransferIssued || next == TransferRejected
	case TransferIssued:
		return next == TransferCompleted || next == TransferRejected
	}
	return false
}

// TransferType classifies the reason for a transfer.
type TransferType string

const (
	TransferDonation     TransferType = "Donation"
	TransferReassignment TransferType = "Reassignment"
	TransferRelocation   TransferType = "Relocation"
	TransferOthers       TransferType = "Others"
)

// Valid reports whether t is a known transfer type.
func (t TransferType) Valid() bool {
	switch t {
	case TransferDonation, TransferReassignment, TransferRelocation, TransferOthers:
		return true
	}
	return false
}

// Transfer is an inventory transfer report header.
type Transfer struct {
	ID             string         `json:"id"`
	TransferNumber string         `json:"transfer_number"`
	EntityName     string         `json:"entity_name"`
	FundCluster    string         `json:"fund_cluster"`
	From           Custodian      `json:"from"`
	To             Custodian      `json:"to"`
	TransferType   TransferType   `json:"transfer_type"`
	Status         TransferStatus `json:"status"`
	Reason         string         `json:"reason"`
	RequestedAt    time.Time      `json:"requested_at"`
	ApprovedAt     *time.Time     `json:"approved_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedBy      string         `json:"created_by,omitempty"`
	ApprovedBy     string         `json:"approved_by,omitempty"`
	ReceivedBy     string         `json:"received_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TransferItem is one line of a transfer.
type TransferItem struct {
	ID             string          `json:"id"`
	TransferID     string          `json:"transfer_id"`
	ItemID         string          `json:"item_id"`
	PropertyNumber string          `json:"property_number"`
	Description    string          `json:"description"`
	Quantity       int             `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	SlipItemID     string          `json:"slip_item_id,omitempty"`
	Remarks        string          `json:"remarks,omitempty"`
}

// Ref returns the item reference of the line.
func (ti TransferItem) Ref() ItemRef {
	return ItemRef{ID: ti.ItemID, PropertyNumber: ti.PropertyNumber}
}

// TransferFilter narrows transfer listings.
type TransferFilter struct {
	Status      TransferStatus
	CustodianID string
	Limit       int
}

// TransferHistory is one recorded status transition.
type TransferHistory struct {
	ID         string         `json:"id"`
	TransferID string         `json:"transfer_id"`
	FromStatus TransferStatus `json:"from_status"`
	ToStatus   TransferStatus `json:"to_status"`
	ActorID    string         `json:"actor_id,omitempty"`
	Note       string         `json:"note,omitempty"`
	At         time.Time      `json:"at"`
}
