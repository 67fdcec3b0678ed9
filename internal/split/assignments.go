// Package split tracks who shares which receipt items and computes each
// member's owed amount.
package split

import "errors"

// MemberLimit is the maximum number of group members on a single receipt.
const MemberLimit = 10

var (
	// ErrDuplicateMember is returned when adding or renaming to a name that
	// already exists. Names match case-sensitively.
	ErrDuplicateMember = errors.New("member already exists")

	// ErrMemberLimit is returned when adding a member would exceed MemberLimit.
	ErrMemberLimit = errors.New("member limit reached")

	// ErrUnknownMember is returned when an operation references a member that
	// is not in the group.
	ErrUnknownMember = errors.New("unknown member")
)

// Assignments is the many-to-many relation between group members and item ids.
// It keeps the member list in insertion order and a per-member set of item ids,
// so toggle and rename stay O(1).
type Assignments struct {
	members  []string
	byMember map[string]map[int]struct{}
}

// NewAssignments returns an empty assignment relation.
func NewAssignments() *Assignments {
	return &Assignments{
		byMember: make(map[string]map[int]struct{}),
	}
}

// AddMember adds a new member with no assigned items.
func (a *Assignments) AddMember(name string) error {
	if _, ok := a.byMember[name]; ok {
		return ErrDuplicateMember
	}
	if len(a.members) >= MemberLimit {
		return ErrMemberLimit
	}
	a.members = append(a.members, name)
	a.byMember[name] = make(map[int]struct{})
	return nil
}

// RemoveMember deletes a member and discards all of their assignments. Items
// only that member was splitting become unassigned; nothing is reassigned.
// Removing a member that does not exist is a no-op.
func (a *Assignments) RemoveMember(name string) {
	if _, ok := a.byMember[name]; !ok {
		return
	}
	delete(a.byMember, name)
	for i, m := range a.members {
		if m == name {
			a.members = append(a.members[:i], a.members[i+1:]...)
			break
		}
	}
}

// RenameMember moves a member's assignment set to a new name in one step,
// keeping the member's position in the group order. There is no intermediate
// state where both or neither name holds the set.
func (a *Assignments) RenameMember(oldName, newName string) error {
	if _, ok := a.byMember[newName]; ok {
		return ErrDuplicateMember
	}
	set, ok := a.byMember[oldName]
	if !ok {
		return ErrUnknownMember
	}
	a.byMember[newName] = set
	delete(a.byMember, oldName)
	for i, m := range a.members {
		if m == oldName {
			a.members[i] = newName
			break
		}
	}
	return nil
}

// Toggle flips whether the member is splitting the given item.
func (a *Assignments) Toggle(itemID int, member string) error {
	set, ok := a.byMember[member]
	if !ok {
		return ErrUnknownMember
	}
	if _, assigned := set[itemID]; assigned {
		delete(set, itemID)
	} else {
		set[itemID] = struct{}{}
	}
	return nil
}

// Has reports whether the member is splitting the given item.
func (a *Assignments) Has(itemID int, member string) bool {
	_, ok := a.byMember[member][itemID]
	return ok
}

// SetAll is the member-column "select all / clear all" toggle: if the member is
// not yet assigned to every given item it assigns all of them, otherwise it
// clears all of them. Equivalent to toggling each item whose current state
// differs from the target.
func (a *Assignments) SetAll(member string, itemIDs []int) error {
	set, ok := a.byMember[member]
	if !ok {
		return ErrUnknownMember
	}
	selectAll := false
	for _, id := range itemIDs {
		if _, assigned := set[id]; !assigned {
			selectAll = true
			break
		}
	}
	for _, id := range itemIDs {
		_, assigned := set[id]
		if assigned != selectAll {
			a.Toggle(id, member)
		}
	}
	return nil
}

// SetAllForItem is the item-row "everyone shares this" toggle: if any member is
// missing from the item it assigns every member, otherwise it clears them all.
func (a *Assignments) SetAllForItem(itemID int) {
	selectAll := false
	for _, m := range a.members {
		if !a.Has(itemID, m) {
			selectAll = true
			break
		}
	}
	for _, m := range a.members {
		if a.Has(itemID, m) != selectAll {
			a.Toggle(itemID, m)
		}
	}
}

// Members returns the group members in insertion order.
func (a *Assignments) Members() []string {
	out := make([]string, len(a.members))
	copy(out, a.members)
	return out
}

// AssigneesFor returns the members splitting the given item, in group order.
func (a *Assignments) AssigneesFor(itemID int) []string {
	var out []string
	for _, m := range a.members {
		if a.Has(itemID, m) {
			out = append(out, m)
		}
	}
	return out
}

// CanFinalize reports whether every given item has at least one assignee. It
// is recomputed from the current relation on every call, never cached.
func (a *Assignments) CanFinalize(itemIDs []int) bool {
	for _, id := range itemIDs {
		assigned := false
		for _, m := range a.members {
			if a.Has(id, m) {
				assigned = true
				break
			}
		}
		if !assigned {
			return false
		}
	}
	return true
}
