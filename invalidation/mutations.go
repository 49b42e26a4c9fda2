package invalidation

import "fmt"

/*
Tag vocabulary for the ajo contract.

Every cached view of a group carries the group tag; list views and
aggregates carry their own tags on top. The helpers below encode which
tags each confirmed mutation makes stale, so the UI layer calls one
function per mutation instead of hand-maintaining tag lists at every
call site.
*/

// TagGroup labels every view of a single group.
func TagGroup(groupID uint64) string { return fmt.Sprintf("group:%d", groupID) }

// TagGroupList labels list views that enumerate groups.
const TagGroupList = "groups:list"

// TagMember labels views scoped to one member address.
func TagMember(addr string) string { return "member:" + addr }

// TagCycle labels per-cycle aggregates (contribution status, penalty pool).
func TagCycle(groupID uint64, cycle uint32) string {
	return fmt.Sprintf("group:%d:cycle:%d", groupID, cycle)
}

// TagsForJoin returns the tags made stale when a member joins a group:
// the group itself, the member's own views, and any group list.
func TagsForJoin(groupID uint64, member string) []string {
	return []string{TagGroup(groupID), TagMember(member), TagGroupList}
}

// TagsForContribution covers a confirmed contribute call: the group
// status view, the contributing member, and the current cycle aggregate.
func TagsForContribution(groupID uint64, cycle uint32, member string) []string {
	return []string{TagGroup(groupID), TagCycle(groupID, cycle), TagMember(member)}
}

// TagsForPayout covers execute_payout, which advances the cycle: both the
// finished cycle and the group as a whole change.
func TagsForPayout(groupID uint64, cycle uint32, recipient string) []string {
	return []string{TagGroup(groupID), TagCycle(groupID, cycle), TagMember(recipient), TagGroupList}
}

// TagsForCancellation covers cancel_group and the whole refund flow
// (request, vote, execute): every view of the group plus the lists.
func TagsForCancellation(groupID uint64) []string {
	return []string{TagGroup(groupID), TagGroupList}
}

// TagsForMetadata covers set_group_metadata.
func TagsForMetadata(groupID uint64) []string {
	return []string{TagGroup(groupID)}
}
