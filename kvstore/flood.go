package kvstore

import (
	"sort"

	"github.com/nodeplane/ribengine/metrics"
	"github.com/nodeplane/ribengine/wire"
	"golang.org/x/time/rate"
)

// rateLimiter wraps golang.org/x/time/rate to cap how often a full
// Publication may flood out: bursts are allowed up to the bucket size,
// after which publications coalesce by key in floodBuffer until the next
// token is available.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(eventsPerSecond float64, burst int) *rateLimiter {
	return &rateLimiter{limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst)}
}

func (r *rateLimiter) allow() bool {
	return r.limiter.Allow()
}

// SetFloodRateLimit installs the token-bucket governing how often this node
// emits a flood to its peers. Defaults to unlimited (nil limiter) until set.
func (db *KvStoreDb) SetFloodRateLimit(eventsPerSecond float64, burst int) {
	db.floodLimiter = newRateLimiter(eventsPerSecond, burst)
}

// Flood queues pub for transmission to every INITIALIZED peer. When the
// flood rate limiter permits it, the publication goes out immediately;
// otherwise its key-values are coalesced into floodBuffer (keyed by
// FloodRootId, last-value-wins per key) and drained on the next
// DrainFloodBuffer call.
func (db *KvStoreDb) Flood(pub wire.Publication) {
	if db.floodLimiter == nil || db.floodLimiter.allow() {
		db.emitFlood(pub)
		return
	}
	root := pub.FloodRootId
	bucket, ok := db.floodBuffer[root]
	if !ok {
		bucket = make(map[string]wire.Value)
		db.floodBuffer[root] = bucket
	}
	for k, v := range pub.KeyVals {
		bucket[k] = v
	}
	metrics.FloodBuffered.Add(1)
}

// DrainFloodBuffer flushes any publications that were coalesced while the
// flood rate limiter was exhausted. Call on the area reactor's periodic
// tick once tokens are expected to be available again.
func (db *KvStoreDb) DrainFloodBuffer() {
	if len(db.floodBuffer) == 0 {
		return
	}
	roots := make([]string, 0, len(db.floodBuffer))
	for root := range db.floodBuffer {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	for _, root := range roots {
		bucket := db.floodBuffer[root]
		if len(bucket) == 0 {
			delete(db.floodBuffer, root)
			continue
		}
		if db.floodLimiter != nil && !db.floodLimiter.allow() {
			continue
		}
		delete(db.floodBuffer, root)
		db.emitFlood(wire.Publication{Area: db.area, KeyVals: bucket, FloodRootId: root, NodeIds: []string{db.nodeId}})
	}
}

// emitFlood pushes pub out to every INITIALIZED peer not already on the
// publication's visited-node list (the sender and anyone upstream of it).
// Peers still SYNCING record the changed keys instead, for the sync
// finalize leg. The actual RPC runs off-reactor (peer.go's
// sendSetKeyVals); only dispatch back onto the reactor to update
// peer/backoff state once it completes.
func (db *KvStoreDb) emitFlood(pub wire.Publication) {
	if !containsNodeId(pub.NodeIds, db.nodeId) {
		pub.NodeIds = append(append([]string(nil), pub.NodeIds...), db.nodeId)
	}
	metrics.FloodedPublishes.Add(1)
	for id, p := range db.peers {
		switch p.status {
		case PeerSyncing:
			for k := range pub.KeyVals {
				p.pendingKeys[k] = true
			}
		case PeerInitialized:
			if containsNodeId(pub.NodeIds, p.spec.NodeName) {
				continue
			}
			db.sendSetKeyVals(id, p, pub)
		}
	}
}

func containsNodeId(ids []string, id string) bool {
	for _, n := range ids {
		if n == id {
			return true
		}
	}
	return false
}
