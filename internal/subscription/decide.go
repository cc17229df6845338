package subscription

// Action is what a new subscription request should do given existing rows.
type Action int

const (
	ActionCreate Action = iota
	ActionReactivate
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionReactivate:
		return "reactivate"
	case ActionReject:
		return "reject"
	}
	return "unknown"
}

// Decision carries the row a Reactivate or Reject refers to.
type Decision struct {
	Action   Action
	Existing *Subscriber
}

// Decide picks the action for a subscription request from the rows already
// stored for the same normalized email. An active row wins over inactive
// ones; with only inactive rows the first one is reactivated.
func Decide(existing []Subscriber) Decision {
	var inactive *Subscriber
	for i := range existing {
		s := existing[i]
		if s.IsActive {
			return Decision{Action: ActionReject, Existing: &s}
		}
		if inactive == nil {
			inactive = &s
		}
	}
	if inactive != nil {
		return Decision{Action: ActionReactivate, Existing: inactive}
	}
	return Decision{Action: ActionCreate}
}
