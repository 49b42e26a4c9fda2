package ajocache

import "fmt"

/*
Canonical cache keys for ajo ledger views.

Key derivation must be deterministic: the component that fetched a value
and the component that busts it after a mutation both compute the key
independently, so both go through these helpers. The shapes line up with
the tag vocabulary in the invalidation package.
*/

// GroupKey addresses the full group record (config, members, state).
func GroupKey(groupID uint64) string { return fmt.Sprintf("group:%d", groupID) }

// GroupStatusKey addresses the fast-moving status view of a group:
// current cycle, who has contributed, next payout recipient.
func GroupStatusKey(groupID uint64) string { return fmt.Sprintf("group:%d:status", groupID) }

// GroupMembersKey addresses the member roster of a group.
func GroupMembersKey(groupID uint64) string { return fmt.Sprintf("group:%d:members", groupID) }

// CycleKey addresses one cycle's aggregate: contributions received,
// penalties applied, payout execution.
func CycleKey(groupID uint64, cycle uint32) string {
	return fmt.Sprintf("group:%d:cycle:%d", groupID, cycle)
}

// ContributionKey addresses one member's contribution record in a cycle.
func ContributionKey(groupID uint64, cycle uint32, member string) string {
	return fmt.Sprintf("group:%d:cycle:%d:contribution:%s", groupID, cycle, member)
}

// PayoutKey addresses the payout record of a cycle.
func PayoutKey(groupID uint64, cycle uint32) string {
	return fmt.Sprintf("group:%d:cycle:%d:payout", groupID, cycle)
}

// GroupMetadataKey addresses the mutable display metadata of a group.
func GroupMetadataKey(groupID uint64) string { return fmt.Sprintf("group:%d:metadata", groupID) }

// PenaltiesKey addresses the accumulated penalties of one member in a
// group.
func PenaltiesKey(groupID uint64, member string) string {
	return fmt.Sprintf("group:%d:penalties:%s", groupID, member)
}

// RefundKey addresses the refund request state of a group (votes,
// execution).
func RefundKey(groupID uint64) string { return fmt.Sprintf("group:%d:refund", groupID) }

// GroupsListKey addresses the global list of groups shown on the
// discovery screen.
const GroupsListKey = "groups:list"

// MemberGroupsKey addresses the list of groups one address belongs to.
func MemberGroupsKey(addr string) string { return "member:" + addr + ":groups" }

// MemberKey addresses the profile view of one member address.
func MemberKey(addr string) string { return "member:" + addr }
