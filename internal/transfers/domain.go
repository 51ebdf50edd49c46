package transfers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/custody/internal/property"
)

// ItemInput selects an item for a transfer. Quantity and UnitCost default
// to the item's own values.
type ItemInput struct {
	ItemID         string           `json:"item_id"`
	PropertyNumber string           `json:"property_number"`
	Quantity       int              `json:"quantity" validate:"gte=0"`
	UnitCost       *decimal.Decimal `json:"unit_cost,omitempty"`
	Remarks        string           `json:"remarks"`
}

func (i ItemInput) ref() property.ItemRef {
	return property.ItemRef{ID: i.ItemID, PropertyNumber: i.PropertyNumber}
}

// CreateInput captures a new ITR. An empty TransferNumber is generated.
type CreateInput struct {
	TransferNumber string                `json:"transfer_number" validate:"max=32"`
	EntityName     string                `json:"entity_name" validate:"required"`
	FundCluster    string                `json:"fund_cluster" validate:"required"`
	From           property.Custodian    `json:"from"`
	To             property.Custodian    `json:"to"`
	TransferType   property.TransferType `json:"transfer_type"`
	Reason         string                `json:"reason" validate:"required"`
	RequestedAt    time.Time             `json:"requested_at"`
	Items          []ItemInput           `json:"items" validate:"required,min=1,dive"`
}

// CompleteResult reports the outcome of Complete.
type CompleteResult struct {
	Transfer         property.Transfer `json:"transfer"`
	Reassigned       int               `json:"reassigned"`
	AlreadyCompleted bool              `json:"already_completed"`
}

// Detail is a transfer with its lines.
type Detail struct {
	Transfer property.Transfer       `json:"transfer"`
	Items    []property.TransferItem `json:"items"`
}
