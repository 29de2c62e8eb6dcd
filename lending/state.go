package lending

// =============================================================================
// REQUEST STATUS - The borrow request state machine
// =============================================================================
//
//   pending  --approve-->      approved
//   pending  --reject-->       rejected
//   approved --start_loan-->   borrowed
//   borrowed --return-->       returned
//
// rejected and returned are terminal. Every other (status, event) pair is
// refused by Transition; callers never compare statuses by hand.

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusBorrowed Status = "borrowed"
	StatusReturned Status = "returned"
)

// Statuses lists every request status in lifecycle order.
var Statuses = []Status{StatusPending, StatusApproved, StatusRejected, StatusBorrowed, StatusReturned}

func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool { return s == StatusRejected || s == StatusReturned }

// HoldsStock reports whether a request in this status has units taken
// out of quantity_available.
func (s Status) HoldsStock() bool { return s == StatusApproved || s == StatusBorrowed }

// Event is something an operator does to a request.
type Event string

const (
	EventApprove   Event = "approve"
	EventReject    Event = "reject"
	EventStartLoan Event = "start_loan"
	EventReturn    Event = "return"
)

type edge struct {
	from  Status
	event Event
}

var transitions = map[edge]Status{
	{StatusPending, EventApprove}:    StatusApproved,
	{StatusPending, EventReject}:     StatusRejected,
	{StatusApproved, EventStartLoan}: StatusBorrowed,
	{StatusBorrowed, EventReturn}:    StatusReturned,
}

// Transition returns the status reached from `from` on ev.
// Illegal pairs return a *TransitionError.
func Transition(from Status, ev Event) (Status, error) {
	next, ok := transitions[edge{from, ev}]
	if !ok {
		return from, &TransitionError{From: from, Event: ev}
	}
	return next, nil
}

// Allowed lists the events accepted from a status.
func Allowed(from Status) []Event {
	var events []Event
	for _, ev := range []Event{EventApprove, EventReject, EventStartLoan, EventReturn} {
		if _, ok := transitions[edge{from, ev}]; ok {
			events = append(events, ev)
		}
	}
	return events
}
