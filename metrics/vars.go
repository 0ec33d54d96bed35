// Package metrics exposes process-wide counters and histograms through
// expvar as a service-locator whose lifecycle is bound to the process.
package metrics

import (
	"expvar"

	"github.com/encodeous/metric"
)

var (
	SpfLatency        = metric.NewHistogram("1m1s")
	KspLatency        = metric.NewHistogram("1m1s")
	RibBuildLatency   = metric.NewHistogram("1m1s")
	KvMergeCount      = metric.NewCounter("10s1s")
	KvMergeRejected   = metric.NewCounter("10s1s")
	KvTtlExpiries     = metric.NewCounter("10s1s")
	FloodedPublishes  = metric.NewCounter("10s1s")
	FloodBuffered     = metric.NewCounter("10s1s")
	PeerApiErrors     = metric.NewCounter("10s1s")
	RoutesDropped     = metric.NewCounter("10s1s")
	NotReachableCount = metric.NewCounter("10s1s")
)

func init() {
	expvar.Publish("ribengine:SpfLatency (us)", SpfLatency)
	expvar.Publish("ribengine:KspLatency (us)", KspLatency)
	expvar.Publish("ribengine:RibBuildLatency (us)", RibBuildLatency)
	expvar.Publish("ribengine:KvMergeCount", KvMergeCount)
	expvar.Publish("ribengine:KvMergeRejected", KvMergeRejected)
	expvar.Publish("ribengine:KvTtlExpiries", KvTtlExpiries)
	expvar.Publish("ribengine:FloodedPublishes", FloodedPublishes)
	expvar.Publish("ribengine:FloodBuffered", FloodBuffered)
	expvar.Publish("ribengine:PeerApiErrors", PeerApiErrors)
	expvar.Publish("ribengine:RoutesDropped", RoutesDropped)
	expvar.Publish("ribengine:NotReachableCount", NotReachableCount)
}

// DroppedReason is a label for RoutesDropped's counted causes. Kept as a
// type (rather than raw strings) so call sites can't typo a reason that
// never gets dashboarded.
type DroppedReason string

const (
	ReasonNotReachable           DroppedReason = "not_reachable"
	ReasonInvalidLabel           DroppedReason = "invalid_label"
	ReasonIncompatibleForwarding DroppedReason = "incompatible_forwarding_type"
	ReasonMinNexthopNotMet       DroppedReason = "min_nexthop_not_met"
	ReasonAreaMismatch           DroppedReason = "area_mismatch"
)

// CountDropped increments the shared counter, plus a reason-specific counter
// for the reasons that get their own dashboard line. Call sites pass the
// reason so log lines and counters stay consistent; this function does not
// log itself since each call site already knows what context to attach.
func CountDropped(reason DroppedReason) {
	RoutesDropped.Add(1)
	if reason == ReasonNotReachable {
		NotReachableCount.Add(1)
	}
}
