package topology

import (
	"fmt"
	"net/netip"

	"github.com/cespare/xxhash/v2"
)

// Endpoint identifies one side of a Link: a (node, interface) pair.
type Endpoint struct {
	Node  string
	Iface string
}

func (e Endpoint) less(o Endpoint) bool {
	if e.Node != o.Node {
		return e.Node < o.Node
	}
	return e.Iface < o.Iface
}

// linkAttrs holds the endpoint-asymmetric attributes a Link carries for one
// of its two sides.
type linkAttrs struct {
	metric     uint32
	overloaded bool
	adjLabel   int32
	weight     int64
	nhV4       netip.Addr
	nhV6       netip.Addr
}

// Link is an undirected edge between two (node, interface) endpoints within
// a single area. Its identity is the canonical (unordered-pair) endpoint
// tuple; it is exclusively owned by one LinkState and shared by reference
// among that LinkState's internal indices — never copied.
type Link struct {
	a, b           Endpoint
	attrsA, attrsB linkAttrs
	// holdUpTtl delays a Link from reporting isUp()==true after an overload
	// clears, damping flap the same way HoldableValue would; see
	// DESIGN.md's notes on the hold-up TTL counter per link.
	holdUpTtl int
}

// NewLink constructs a Link between two endpoints in canonical order. The
// caller-supplied a/b need not already be ordered.
func NewLink(a, b Endpoint) *Link {
	l := &Link{}
	if a.less(b) {
		l.a, l.b = a, b
	} else {
		l.a, l.b = b, a
	}
	return l
}

// endpointFor returns a pointer to the attrs for node, and the other
// endpoint's attrs, or an InvalidArgument error if node is neither endpoint.
func (l *Link) endpointFor(node string) (attrs *linkAttrs, other *linkAttrs, otherEp Endpoint, err error) {
	switch node {
	case l.a.Node:
		return &l.attrsA, &l.attrsB, l.b, nil
	case l.b.Node:
		return &l.attrsB, &l.attrsA, l.a, nil
	default:
		return nil, nil, Endpoint{}, newInvalidArgument("Link", "node %q is not an endpoint of link %s", node, l.String())
	}
}

func (l *Link) mustEndpointFor(op, node string) (*linkAttrs, *linkAttrs, Endpoint) {
	attrs, other, otherEp, err := l.endpointFor(node)
	if err != nil {
		panic(&FatalError{Op: op, Err: err})
	}
	return attrs, other, otherEp
}

// Endpoints returns the link's two endpoints in canonical order.
func (l *Link) Endpoints() (Endpoint, Endpoint) {
	return l.a, l.b
}

// GetOtherNodeName returns the node name at the far end of the link from
// node.
func (l *Link) GetOtherNodeName(node string) string {
	_, _, other := l.mustEndpointFor("GetOtherNodeName", node)
	return other.Node
}

// GetIfaceFromNode returns node's local interface name for this link.
func (l *Link) GetIfaceFromNode(node string) string {
	switch node {
	case l.a.Node:
		return l.a.Iface
	case l.b.Node:
		return l.b.Iface
	default:
		panic(&FatalError{Op: "GetIfaceFromNode", Err: newInvalidArgument("GetIfaceFromNode", "node %q is not an endpoint", node)})
	}
}

func (l *Link) GetMetricFromNode(node string) uint32 {
	attrs, _, _ := l.mustEndpointFor("GetMetricFromNode", node)
	return attrs.metric
}

func (l *Link) SetMetricFromNode(node string, metric uint32) {
	attrs, _, _ := l.mustEndpointFor("SetMetricFromNode", node)
	attrs.metric = metric
}

func (l *Link) GetAdjLabelFromNode(node string) int32 {
	attrs, _, _ := l.mustEndpointFor("GetAdjLabelFromNode", node)
	return attrs.adjLabel
}

func (l *Link) SetAdjLabelFromNode(node string, label int32) {
	attrs, _, _ := l.mustEndpointFor("SetAdjLabelFromNode", node)
	attrs.adjLabel = label
}

func (l *Link) GetWeightFromNode(node string) int64 {
	attrs, _, _ := l.mustEndpointFor("GetWeightFromNode", node)
	return attrs.weight
}

func (l *Link) SetWeightFromNode(node string, weight int64) {
	attrs, _, _ := l.mustEndpointFor("SetWeightFromNode", node)
	attrs.weight = weight
}

func (l *Link) GetOverloadFromNode(node string) bool {
	attrs, _, _ := l.mustEndpointFor("GetOverloadFromNode", node)
	return attrs.overloaded
}

func (l *Link) SetOverloadFromNode(node string, overloaded bool) {
	attrs, _, _ := l.mustEndpointFor("SetOverloadFromNode", node)
	attrs.overloaded = overloaded
}

func (l *Link) GetNhV4FromNode(node string) netip.Addr {
	attrs, _, _ := l.mustEndpointFor("GetNhV4FromNode", node)
	return attrs.nhV4
}

func (l *Link) SetNhV4FromNode(node string, addr netip.Addr) {
	attrs, _, _ := l.mustEndpointFor("SetNhV4FromNode", node)
	attrs.nhV4 = addr
}

func (l *Link) GetNhV6FromNode(node string) netip.Addr {
	attrs, _, _ := l.mustEndpointFor("GetNhV6FromNode", node)
	return attrs.nhV6
}

func (l *Link) SetNhV6FromNode(node string, addr netip.Addr) {
	attrs, _, _ := l.mustEndpointFor("SetNhV6FromNode", node)
	attrs.nhV6 = addr
}

// IsUp reports whether the link can carry transit traffic: neither endpoint
// is overloaded, and no hold-up TTL is pending.
func (l *Link) IsUp() bool {
	return !l.attrsA.overloaded && !l.attrsB.overloaded && l.holdUpTtl == 0
}

// ArmHoldUp starts a hold-up TTL of ttl ticks during which IsUp reports
// false even if both endpoints are clear. A pending hold is extended to ttl
// when ttl is larger and left as it is otherwise. Used when an endpoint's
// overload flag clears, to damp a flapping link.
func (l *Link) ArmHoldUp(ttl int) {
	if ttl > l.holdUpTtl {
		l.holdUpTtl = ttl
	}
}

// DecrementHolds ticks the link's hold-up TTL once. Returns true exactly at
// the tick the hold expires (the moment IsUp may start returning true).
func (l *Link) DecrementHolds() bool {
	if l.holdUpTtl == 0 {
		return false
	}
	l.holdUpTtl--
	return l.holdUpTtl == 0
}

// Hash derives a stable digest from the canonical endpoint pair, used to
// key allLinks and to order Links deterministically.
func (l *Link) Hash() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(l.a.Node)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(l.a.Iface)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(l.b.Node)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(l.b.Iface)
	return h.Sum64()
}

// Equal compares by canonical endpoint pair — content equality, not pointer
// identity, since a Link is shared by reference among several indices.
func (l *Link) Equal(o *Link) bool {
	if l == o {
		return true
	}
	if o == nil {
		return false
	}
	return l.a == o.a && l.b == o.b
}

// Less orders Links by hash, falling back to the canonical endpoint pair
// only on a hash collision. The result is not lexicographic in the
// endpoints, but it gives every LinkState a single deterministic link
// ordering for diffing.
func (l *Link) Less(o *Link) bool {
	lh, oh := l.Hash(), o.Hash()
	if lh != oh {
		return lh < oh
	}
	if l.a != o.a {
		return l.a.less(o.a)
	}
	return l.b.less(o.b)
}

func (l *Link) String() string {
	return fmt.Sprintf("%s:%s<->%s:%s", l.a.Node, l.a.Iface, l.b.Node, l.b.Iface)
}

// DirectionalToString renders the link from fromNode's perspective:
// "fromNode:iface->otherNode:otherIface".
func (l *Link) DirectionalToString(fromNode string) string {
	_, _, other := l.mustEndpointFor("DirectionalToString", fromNode)
	return fmt.Sprintf("%s:%s->%s:%s", fromNode, l.GetIfaceFromNode(fromNode), other.Node, other.Iface)
}
