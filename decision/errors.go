package decision

import (
	"errors"
	"fmt"
)

// ErrNotReachable is logged (and recorded via metrics.CountDropped) when a
// prefix has no candidate origin reachable from this node in any area.
var ErrNotReachable = errors.New("decision: prefix not reachable")

// ErrInvalidLabel flags an MPLS label outside the valid range.
var ErrInvalidLabel = errors.New("decision: invalid mpls label")

// ErrIncompatibleForwardingType flags a prefix whose forwarding algorithm
// needs label support its forwarding type doesn't provide (KSP2 without
// SR-MPLS).
var ErrIncompatibleForwardingType = errors.New("decision: incompatible forwarding type")

type invalidArgument struct {
	Op  string
	Msg string
}

func (e *invalidArgument) Error() string {
	return fmt.Sprintf("decision: %s: %s", e.Op, e.Msg)
}

func newInvalidArgument(op, format string, args ...any) error {
	return &invalidArgument{Op: op, Msg: fmt.Sprintf(format, args...)}
}
