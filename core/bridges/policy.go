package bridges

// BusyPolicy decides what happens to a trigger event that reaches a Stream
// stage while the route is already generating. The event has already passed
// through every Filter and Map stage of the route, whatever the policy.
type BusyPolicy int

const (
	// Drop ignores the trigger; the active generation keeps running.
	Drop BusyPolicy = iota
	// QueueLatest remembers the newest trigger and starts it once the active
	// generation reaches a terminal state.
	QueueLatest
	// Replace cancels the active generation and starts a new one.
	Replace
)

func (p BusyPolicy) String() string {
	switch p {
	case Drop:
		return "drop"
	case QueueLatest:
		return "queue_latest"
	case Replace:
		return "replace"
	default:
		return "unknown"
	}
}

// ParseBusyPolicy parses the String form of a policy.
func ParseBusyPolicy(s string) (BusyPolicy, bool) {
	for _, policy := range []BusyPolicy{Drop, QueueLatest, Replace} {
		if policy.String() == s {
			return policy, true
		}
	}
	return Drop, false
}
