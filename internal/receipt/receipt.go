// Package receipt holds the receipt domain model and the service and HTTP
// surface around it.
package receipt

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a receipt does not exist.
	ErrNotFound = errors.New("receipt not found")

	// ErrUnauthorized is returned when the caller does not own the requested
	// receipt. No partial data is returned alongside it.
	ErrUnauthorized = errors.New("not authorized to access this receipt")

	// ErrItemNotFound is returned when an item id does not address a line on
	// the receipt. Ids start at 1; 0 is never a valid item.
	ErrItemNotFound = errors.New("item not found")

	// ErrUnassignedItems blocks finalize while any item lacks an assignee.
	ErrUnassignedItems = errors.New("every item needs at least one assignee")

	// ErrPersistence wraps failures of the persistence gateway. Local state
	// is preserved so the user can retry without data loss.
	ErrPersistence = errors.New("persistence gateway failure")
)

// Item is a single line on a receipt. Price may be negative for discount
// lines. Assignees lists the group members splitting this item.
type Item struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	Price     float64  `json:"price"`
	Assignees []string `json:"assignees,omitempty"`
}

// SplitDetail is one member's finalized owed amount.
type SplitDetail struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// Receipt represents one bill with its items, totals and split state.
// Subtotal is always the sum of item prices and Total is always
// subtotal + tax + tip; every mutation recomputes both before returning.
// SplitDetails is absent until the split has been finalized and is
// overwritten on each finalize.
type Receipt struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id,omitempty"`
	Items        []Item        `json:"items"`
	Members      []string      `json:"members,omitempty"`
	Subtotal     float64       `json:"subtotal"`
	Tax          float64       `json:"tax"`
	Tip          float64       `json:"tip"`
	Total        float64       `json:"total"`
	ImagePath    string        `json:"image_path,omitempty"`
	ContentType  string        `json:"content_type,omitempty"`
	SplitDetails []SplitDetail `json:"split_details,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ItemPatch is a partial item edit; nil fields are left unchanged.
type ItemPatch struct {
	Name  *string
	Price *float64
}

func (r *Receipt) recompute() {
	var subtotal float64
	for _, item := range r.Items {
		subtotal += item.Price
	}
	r.Subtotal = subtotal
	r.Total = subtotal + r.Tax + r.Tip
}

// AddItem appends a new line item and returns it. The new id is one past the
// highest existing id, so ids never repeat within a receipt even after
// removals.
func (r *Receipt) AddItem(name string, price float64) Item {
	maxID := 0
	for _, item := range r.Items {
		if item.ID > maxID {
			maxID = item.ID
		}
	}
	item := Item{ID: maxID + 1, Name: name, Price: price}
	r.Items = append(r.Items, item)
	r.recompute()
	return item
}

// EditItem applies a partial edit to the item with the given id. Tax and tip
// are receipt-level adjustments with their own operations; they are not
// addressable through an item id.
func (r *Receipt) EditItem(id int, patch ItemPatch) error {
	if id <= 0 {
		return ErrItemNotFound
	}
	for i := range r.Items {
		if r.Items[i].ID != id {
			continue
		}
		if patch.Name != nil {
			r.Items[i].Name = *patch.Name
		}
		if patch.Price != nil {
			r.Items[i].Price = *patch.Price
		}
		r.recompute()
		return nil
	}
	return ErrItemNotFound
}

// RemoveItem deletes the item with the given id.
func (r *Receipt) RemoveItem(id int) error {
	for i := range r.Items {
		if r.Items[i].ID == id {
			r.Items = append(r.Items[:i], r.Items[i+1:]...)
			r.recompute()
			return nil
		}
	}
	return ErrItemNotFound
}

// SetTax sets the receipt-level tax amount.
func (r *Receipt) SetTax(amount float64) {
	r.Tax = amount
	r.recompute()
}

// SetTip sets the receipt-level tip amount.
func (r *Receipt) SetTip(amount float64) {
	r.Tip = amount
	r.recompute()
}

// ItemIDs returns the ids of all items in receipt order.
func (r *Receipt) ItemIDs() []int {
	ids := make([]int, len(r.Items))
	for i, item := range r.Items {
		ids[i] = item.ID
	}
	return ids
}

// Finalized reports whether a split result has been computed and stamped
// onto this receipt.
func (r *Receipt) Finalized() bool {
	return len(r.SplitDetails) > 0
}
