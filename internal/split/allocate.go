package split

// Item is the minimal view of a receipt line the allocator needs. Price may be
// negative for discount lines.
type Item struct {
	ID        int
	Name      string
	Price     float64
	Assignees []string
}

// MemberShare is one member's computed share of a receipt.
type MemberShare struct {
	Name     string  `json:"name"`
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Tip      float64 `json:"tip"`
	Amount   float64 `json:"amount"`
}

// Allocate computes how much each member owes: each item's price is divided
// evenly among its assignees, then tax and tip are distributed in proportion
// to each member's share of the subtotal.
//
// An item with no assignees contributes to nobody. When subtotal is zero the
// tax/tip proportion is undefined and both shares are zero. All arithmetic is
// full-precision float64; rounding happens only at the presentation layer, so
// calling Allocate twice on unchanged inputs yields identical results.
//
// When every item has at least one assignee, the amounts sum to
// subtotal + tax + tip up to floating-point epsilon.
func Allocate(items []Item, subtotal, tax, tip float64, members []string) []MemberShare {
	itemShares := make(map[string]float64, len(members))
	for _, item := range items {
		k := len(item.Assignees)
		if k == 0 {
			continue
		}
		perAssignee := item.Price / float64(k)
		for _, name := range item.Assignees {
			itemShares[name] += perAssignee
		}
	}

	shares := make([]MemberShare, 0, len(members))
	for _, name := range members {
		share := MemberShare{Name: name, Subtotal: itemShares[name]}
		if subtotal != 0 {
			share.Tax = (share.Subtotal / subtotal) * tax
			share.Tip = (share.Subtotal / subtotal) * tip
		}
		share.Amount = share.Subtotal + share.Tax + share.Tip
		shares = append(shares, share)
	}
	return shares
}
