package custody

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/custody/internal/property"
)

// AssignOptions tunes AssignTx.
type AssignOptions struct {
	// Reassign allows moving an item held by another custodian. Only the
	// transfer workflow sets it.
	Reassign bool
}

// IntakeInput registers a newly acquired item.
type IntakeInput struct {
	PropertyNumber      string              `json:"property_number" validate:"required,max=64"`
	Description         string              `json:"description" validate:"required"`
	Unit                string              `json:"unit" validate:"max=32"`
	Condition           property.Condition  `json:"condition"`
	Status              property.ItemStatus `json:"status"`
	UnitCost            decimal.Decimal     `json:"unit_cost"`
	Quantity            int                 `json:"quantity" validate:"gte=1"`
	EstimatedUsefulLife string              `json:"estimated_useful_life"`
	EntityName          string              `json:"entity_name"`
	FundCluster         string              `json:"fund_cluster"`
	Reference           string              `json:"reference"`
	ReceivedAt          time.Time           `json:"received_at"`
	SkipCard            bool                `json:"skip_card"`
}

// IntakeResult is the outcome of Intake.
type IntakeResult struct {
	Item  property.Item   `json:"item"`
	Card  *property.Card  `json:"card,omitempty"`
	Entry *property.Entry `json:"entry,omitempty"`
}
