package hedge

// TicketState is the broker reported state of an order ticket.
type TicketState string

const (
	StateFilled     TicketState = "FILLED"
	StatePtlCancel  TicketState = "PTLCANCEL"
	StateOverfilled TicketState = "OVERFILLED"
	StateRejected   TicketState = "REJECTED"
	StateError      TicketState = "ERROR"
	StateFailed     TicketState = "FAILED"
	StateCancelled  TicketState = "CANCELLED"

	StateAccepted   TicketState = "ACCEPTED"
	StateNew        TicketState = "NEW"
	StatePartial    TicketState = "PARTIAL"
	StateWorking    TicketState = "WORKING"
	StateQueued     TicketState = "QUEUED"
	StatePending    TicketState = "PENDING"
	StatePendAuth   TicketState = "PENDAUTH"
	StatePendCancel TicketState = "PENDCANCEL"
	StatePendFunds  TicketState = "PENDFUNDS"
	StateStaged     TicketState = "STAGED"
	StateWaiting    TicketState = "WAITING"
	StatePaused     TicketState = "PAUSED"
	StateBooked     TicketState = "BOOKED"
)

type StateClass int

const (
	ClassPending StateClass = iota
	ClassSuccess
	ClassWarning
	ClassFailure
)

func (c StateClass) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassWarning:
		return "warning"
	case ClassFailure:
		return "failure"
	default:
		return "pending"
	}
}

// Class maps a state onto its terminal class. Unknown states are pending.
func (s TicketState) Class() StateClass {
	switch s {
	case StateFilled, StatePtlCancel:
		return ClassSuccess
	case StateOverfilled:
		return ClassWarning
	case StateRejected, StateError, StateFailed, StateCancelled:
		return ClassFailure
	default:
		return ClassPending
	}
}

func (s TicketState) Terminal() bool {
	return s.Class() != ClassPending
}
