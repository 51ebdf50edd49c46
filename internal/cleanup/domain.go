package cleanup

import (
	"fmt"

	"github.com/odyssey-erp/custody/internal/property"
)

// Entity names a deletable record type.
type Entity string

const (
	EntityItem     Entity = "item"
	EntityCard     Entity = "property_card"
	EntityTransfer Entity = "transfer"
	EntitySlip     Entity = "slip"
)

// ParseEntity validates an entity name from a request.
func ParseEntity(raw string) (Entity, error) {
	switch e := Entity(raw); e {
	case EntityItem, EntityCard, EntityTransfer, EntitySlip:
		return e, nil
	}
	return "", property.Invalid("entity", "unknown entity %q", raw)
}

// Options tunes Delete.
type Options struct {
	// Force scrubs dependent rows instead of refusing. It never overrides
	// active custody.
	Force bool `json:"force"`
}

// Verdict is the answer of CanDelete.
type Verdict struct {
	Entity    Entity             `json:"entity"`
	ID        string             `json:"id"`
	Allowed   bool               `json:"allowed"`
	Forceable bool               `json:"forceable"`
	Blockers  []property.Blocker `json:"blockers,omitempty"`
}

// Report describes a completed deletion.
type Report struct {
	Entity  Entity         `json:"entity"`
	ID      string         `json:"id"`
	Removed map[string]int `json:"removed"`
	Retried bool           `json:"retried"`
}

func (r *Report) add(table string, n int64) {
	if n == 0 {
		return
	}
	if r.Removed == nil {
		r.Removed = map[string]int{}
	}
	r.Removed[table] += int(n)
}

// dependents are the rows that reference one item.
type dependents struct {
	slipItems     []property.SlipItem
	cards         []property.Card
	entries       []property.Entry
	transferItems []property.TransferItem
	transfers     map[string]property.Transfer
}

func (d dependents) empty() bool {
	return len(d.slipItems) == 0 && len(d.cards) == 0 && len(d.entries) == 0 && len(d.transferItems) == 0
}

func (d dependents) blockers() []property.Blocker {
	var out []property.Blocker
	for _, si := range d.slipItems {
		out = append(out, property.Blocker{Kind: "custodian_slip_item", ID: si.ID, Reason: fmt.Sprintf("listed on custodian slip line for %s", si.PropertyNumber)})
	}
	for _, ti := range d.transferItems {
		reason := "listed on a transfer"
		if t, ok := d.transfers[ti.TransferID]; ok {
			reason = fmt.Sprintf("listed on transfer %s (%s)", t.TransferNumber, t.Status.Normalize())
		}
		out = append(out, property.Blocker{Kind: "transfer_item", ID: ti.ID, Reason: reason})
	}
	for _, c := range d.cards {
		n := 0
		for _, en := range d.entries {
			if en.CardID == c.ID {
				n++
			}
		}
		out = append(out, property.Blocker{Kind: "property_card", ID: c.ID, Reason: fmt.Sprintf("property card with %d entries", n)})
	}
	return out
}

func (d dependents) ids() (slipItems, entries, transferItems []string) {
	for _, si := range d.slipItems {
		slipItems = append(slipItems, si.ID)
	}
	for _, en := range d.entries {
		entries = append(entries, en.ID)
	}
	for _, ti := range d.transferItems {
		transferItems = append(transferItems, ti.ID)
	}
	return slipItems, entries, transferItems
}
