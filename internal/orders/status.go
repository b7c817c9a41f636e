package orders

import "time"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCreated   Status = "CREATED"
	StatusPaid      Status = "PAID"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusCreated: true, StatusFailed: true, StatusCancelled: true},
	StatusCreated:   {StatusPaid: true, StatusFailed: true, StatusCancelled: true},
	StatusPaid:      {StatusCancelled: true},
	StatusFailed:    {},
	StatusCancelled: {},
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal statuses are cached longer.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusCancelled
}

func ttlFor(o Order) time.Duration {
	if o.Status.Terminal() {
		return TTLTerminal
	}
	return TTLTransient
}

const (
	TTLTransient = 30 * time.Minute
	TTLTerminal  = 60 * time.Minute
)
