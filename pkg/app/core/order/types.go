package order

import "strings"

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(s)) {
	case Buy:
		return Buy, true
	case Sell:
		return Sell, true
	}
	return "", false
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Type string

const (
	Market    Type = "MARKET"
	Limit     Type = "LIMIT"
	Stop      Type = "STOP"
	StopLimit Type = "STOP_LIMIT"
)

func ParseType(s string) (Type, bool) {
	switch Type(strings.ToUpper(s)) {
	case Market:
		return Market, true
	case Limit:
		return Limit, true
	case Stop:
		return Stop, true
	case StopLimit:
		return StopLimit, true
	}
	return "", false
}

// RequiresPrice reports whether the order type must carry a limit price.
func (t Type) RequiresPrice() bool { return t == Limit || t == StopLimit }

// RequiresStopPrice reports whether the order type must carry a trigger price.
func (t Type) RequiresStopPrice() bool { return t == Stop || t == StopLimit }

type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

func ParseTimeInForce(s string) (TimeInForce, bool) {
	if s == "" {
		return GTC, true
	}
	switch TimeInForce(strings.ToUpper(s)) {
	case GTC:
		return GTC, true
	case IOC:
		return IOC, true
	case FOK:
		return FOK, true
	}
	return "", false
}

type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
)

// transitions encodes the lifecycle state machine. Absent keys are
// terminal states.
var transitions = map[Status][]Status{
	StatusNew:             {StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusRejected},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCanceled},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}
