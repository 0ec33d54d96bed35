package kvstore

import (
	"errors"
	"fmt"
)

// ErrUnknownPeer is returned by operations addressed to a peer id the
// KvStoreDb has no record of.
var ErrUnknownPeer = errors.New("kvstore: unknown peer")

// ErrPeerApiError flags a transport-level failure from a peer RPC. It is
// transient: it trips the peer FSM back to IDLE for a retry.
var ErrPeerApiError = errors.New("kvstore: peer api error")

type invalidArgument struct {
	Op  string
	Msg string
}

func (e *invalidArgument) Error() string {
	return fmt.Sprintf("kvstore: %s: %s", e.Op, e.Msg)
}

func newInvalidArgument(op, format string, args ...any) error {
	return &invalidArgument{Op: op, Msg: fmt.Sprintf(format, args...)}
}
