package registry

import "sort"

// RPCSubscriptionOrder is an Open Question spec.md leaves unresolved: when
// more than one RPC subscription matches the same RPC/action, which one's
// callback wins the synchronous rendezvous? We resolve it as
// (priority desc, subscription id asc) — highest-priority subscriber
// wins, ties broken by whoever subscribed first. This mirrors the
// tie-break spec.md §4.6 already states for operational MERGE conflicts
// ("last write wins unless MERGE"), generalized to a total order so RPC
// dispatch is deterministic instead of picking an arbitrary match.
func RPCSubscriptionOrder(subs []Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].Priority != subs[j].Priority {
			return subs[i].Priority > subs[j].Priority
		}
		return subs[i].SubID < subs[j].SubID
	})
}

// SelectRPCSubscription returns the winning subscription for an RPC/action
// dispatch among the module's (already filtered to matching-xpath) RPC
// subscriptions, or false if none match.
func SelectRPCSubscription(matching []Subscription) (Subscription, bool) {
	if len(matching) == 0 {
		return Subscription{}, false
	}
	ordered := append([]Subscription(nil), matching...)
	RPCSubscriptionOrder(ordered)
	return ordered[0], true
}
