package slips

import (
	"time"

	"github.com/odyssey-erp/custody/internal/property"
)

// LineInput selects an item for a slip. Quantity defaults to the item's.
type LineInput struct {
	ItemID         string `json:"item_id"`
	PropertyNumber string `json:"property_number"`
	Quantity       int    `json:"quantity" validate:"gte=0"`
}

func (l LineInput) ref() property.ItemRef {
	return property.ItemRef{ID: l.ItemID, PropertyNumber: l.PropertyNumber}
}

// IssueInput captures a new inventory custodian slip. An empty SlipNumber
// is generated.
type IssueInput struct {
	SlipNumber  string             `json:"slip_number" validate:"max=32"`
	Custodian   property.Custodian `json:"custodian"`
	Office      string             `json:"office"`
	EntityName  string             `json:"entity_name" validate:"required"`
	FundCluster string             `json:"fund_cluster" validate:"required"`
	IssuedAt    time.Time          `json:"issued_at"`
	IssuedBy    string             `json:"issued_by"`
	ReceivedBy  string             `json:"received_by"`
	Lines       []LineInput        `json:"lines" validate:"required,min=1,dive"`
}

// Detail is a slip with its lines and the card entries they produced.
type Detail struct {
	Slip    property.Slip       `json:"slip"`
	Lines   []property.SlipItem `json:"lines"`
	Entries []property.Entry    `json:"entries,omitempty"`
}
