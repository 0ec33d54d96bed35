package kvstore

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/nodeplane/ribengine/metrics"
	"github.com/nodeplane/ribengine/runtime"
	"github.com/nodeplane/ribengine/transport"
	"github.com/nodeplane/ribengine/wire"
)

// KvStoreDb is the per-area replicated KV store: a TTL-GC'd value map, peer
// FSM, flood rate limiting, and self-originated key bookkeeping. All
// exported methods assume single-threaded (reactor) access.
type KvStoreDb struct {
	area   string
	nodeId string
	log    *slog.Logger
	env    *runtime.Env

	cache *ttlcache.Cache[string, wire.Value]

	peers map[transport.PeerId]*peerEntry

	selfOriginated map[string]*selfOriginatedEntry

	floodLimiter *rateLimiter
	floodBuffer  map[string]map[string]wire.Value // floodRootId -> key -> value

	pendingExpired []string

	initialSyncDone bool
	onInitialSync   func()

	onUpdate func(wire.Publication)

	parallelSyncLimit int
}

// NewKvStoreDb allocates an empty KvStoreDb for area, owned by nodeId. env
// drives all scheduling (backoff retries, TTL ticks, flood completions) back
// onto the area's single reactor goroutine.
func NewKvStoreDb(area, nodeId string, env *runtime.Env, log *slog.Logger) *KvStoreDb {
	if log == nil {
		log = slog.Default()
	}
	db := &KvStoreDb{
		area:              area,
		nodeId:            nodeId,
		env:               env,
		log:               log,
		peers:             make(map[transport.PeerId]*peerEntry),
		selfOriginated:    make(map[string]*selfOriginatedEntry),
		floodBuffer:       make(map[string]map[string]wire.Value),
		parallelSyncLimit: 2,
	}
	db.cache = ttlcache.New[string, wire.Value](
		ttlcache.WithDisableTouchOnHit[string, wire.Value](),
	)
	db.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, wire.Value]) {
		if reason == ttlcache.EvictionReasonExpired {
			db.pendingExpired = append(db.pendingExpired, item.Key())
		}
	})
	return db
}

// OnUpdate registers the single callback invoked with every publication
// this DB produces: merges, expiries, and self-originated advertises.
func (db *KvStoreDb) OnUpdate(fn func(wire.Publication)) {
	db.onUpdate = fn
}

// OnInitialSync registers the callback fired exactly once, the first time
// every known peer reaches INITIALIZED.
func (db *KvStoreDb) OnInitialSync(fn func()) {
	db.onInitialSync = fn
}

func (db *KvStoreDb) publish(pub wire.Publication) {
	if db.onUpdate != nil {
		pub.Area = db.area
		db.onUpdate(pub)
	}
}

// Get returns the current (non-expired) value for key.
func (db *KvStoreDb) Get(key string) (wire.Value, bool) {
	item := db.cache.Get(key)
	if item == nil {
		return wire.Value{}, false
	}
	return item.Value(), true
}

// Len returns the number of live keys.
func (db *KvStoreDb) Len() int {
	return db.cache.Len()
}

// valueWins reports whether candidate strictly outranks existing under the
// (version, originatorId, hash) priority tuple.
func valueWins(candidate, existing wire.Value) bool {
	if candidate.Version != existing.Version {
		return candidate.Version > existing.Version
	}
	if candidate.OriginatorId != existing.OriginatorId {
		return candidate.OriginatorId > existing.OriginatorId
	}
	return candidate.Hash > existing.Hash
}

// valueTies reports whether candidate and existing are equal under the
// priority tuple — the case where only a ttlVersion bump can still apply.
func valueTies(candidate, existing wire.Value) bool {
	return candidate.Version == existing.Version &&
		candidate.OriginatorId == existing.OriginatorId &&
		candidate.Hash == existing.Hash
}

func valueHash(originatorId string, value []byte) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(originatorId)
	_, _ = h.Write(value)
	return h.Sum64()
}

func ttlDuration(v wire.Value) time.Duration {
	if v.Ttl <= 0 {
		return ttlcache.NoTTL
	}
	return time.Duration(v.Ttl) * time.Millisecond
}

// mergePublication merges an incoming Publication into the value map: for each
// incoming (key, value), the winning side under the priority tuple is kept;
// a tie on the tuple with a newer ttlVersion refreshes only the TTL. Returns
// the count of effective changes and, when senderId is non-empty and pub
// carries TobeUpdatedKeys, a reply Publication carrying the key-values the
// sender asked for and this node can supply (the sync protocol's third
// leg).
func (db *KvStoreDb) mergePublication(pub wire.Publication, isSelfOriginated bool, senderId string) (int, *wire.Publication) {
	changed := 0
	delta := wire.Publication{Area: db.area, KeyVals: map[string]wire.Value{}}
	// Carry the visited-node list forward so the re-flood skips the sender
	// and every node the publication already passed through.
	delta.NodeIds = append(delta.NodeIds, pub.NodeIds...)

	keys := make([]string, 0, len(pub.KeyVals))
	for k := range pub.KeyVals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := pub.KeyVals[key]
		item := db.cache.Get(key)
		if item == nil {
			db.cache.Set(key, v, ttlDuration(v))
			delta.KeyVals[key] = v
			changed++
			metrics.KvMergeCount.Add(1)
			continue
		}
		existing := item.Value()
		switch {
		case valueWins(v, existing):
			db.cache.Set(key, v, ttlDuration(v))
			delta.KeyVals[key] = v
			changed++
			metrics.KvMergeCount.Add(1)
			db.reclaimSelfOriginated(key, v)
		case valueTies(v, existing) && v.TtlVersion > existing.TtlVersion:
			refreshed := existing
			refreshed.Ttl = v.Ttl
			refreshed.TtlVersion = v.TtlVersion
			db.cache.Set(key, refreshed, ttlDuration(refreshed))
			delta.KeyVals[key] = refreshed
			changed++
			metrics.KvMergeCount.Add(1)
		default:
			metrics.KvMergeRejected.Add(1)
		}
	}

	if changed > 0 {
		db.publish(delta)
		if isSelfOriginated {
			delta.FloodRootId = db.nodeId
		}
		db.Flood(delta)
	}

	var reply *wire.Publication
	if senderId != "" && len(pub.TobeUpdatedKeys) > 0 {
		r := wire.Publication{Area: db.area, KeyVals: map[string]wire.Value{}, NodeIds: []string{db.nodeId}}
		for _, key := range pub.TobeUpdatedKeys {
			if item := db.cache.Get(key); item != nil {
				r.KeyVals[key] = item.Value()
			}
		}
		if len(r.KeyVals) > 0 {
			reply = &r
		}
	}

	return changed, reply
}

// reclaimSelfOriginated reacts to a foreign value beating a key this node
// owns: the next advertise batch re-announces our value at a version above
// the intruder's, winning the key back authoritatively.
func (db *KvStoreDb) reclaimSelfOriginated(key string, winner wire.Value) {
	e, ok := db.selfOriginated[key]
	if !ok || e.unset || winner.OriginatorId == db.nodeId {
		return
	}
	if winner.Version >= e.version {
		e.version = winner.Version + 1
		db.log.Debug("reclaiming self-originated key", "key", key, "intruder", winner.OriginatorId, "version", e.version)
	}
}

// handleGetKvStoreKeyVals answers a peer's sync request: every locally held
// key whose hash the peer doesn't already know (per params.KnownKeyValHashes),
// plus TobeUpdatedKeys naming the keys the peer's digest claims to have that
// this node doesn't recognize or holds stale.
func (db *KvStoreDb) handleGetKvStoreKeyVals(params transport.KeyValParams) wire.Publication {
	pub := wire.Publication{Area: db.area, KeyVals: map[string]wire.Value{}, NodeIds: []string{db.nodeId}}

	seen := make(map[string]bool, len(params.KnownKeyValHashes))
	for _, item := range db.cache.Items() {
		key := item.Key()
		if !keyMatchesPrefixFilter(key, params.KeyPrefixFilter) {
			continue
		}
		v := item.Value()
		seen[key] = true
		if knownHash, ok := params.KnownKeyValHashes[key]; !ok || knownHash != v.Hash {
			pub.KeyVals[key] = v
		}
	}
	for key, knownHash := range params.KnownKeyValHashes {
		if seen[key] {
			continue
		}
		if item := db.cache.Get(key); item == nil || item.Value().Hash != knownHash {
			pub.TobeUpdatedKeys = append(pub.TobeUpdatedKeys, key)
		}
	}
	sort.Strings(pub.TobeUpdatedKeys)
	return pub
}

func keyMatchesPrefixFilter(key string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if len(key) >= len(p) && key[:len(p)] == p {
			return true
		}
	}
	return false
}

// digest returns a (key -> hash) snapshot used as knownKeyValHashes on an
// outbound sync request.
func (db *KvStoreDb) digest() map[string]uint64 {
	out := make(map[string]uint64, db.cache.Len())
	for _, item := range db.cache.Items() {
		out[item.Key()] = item.Value().Hash
	}
	return out
}

// TickTtl drains expired entries discovered since the last tick and
// publishes an expiry delta. Expiry is driven by the cache's own bookkeeping
// rather than a hand-rolled (expiry,key) heap; see DESIGN.md.
func (db *KvStoreDb) TickTtl() []string {
	db.cache.DeleteExpired()
	if len(db.pendingExpired) == 0 {
		return nil
	}
	expired := db.pendingExpired
	db.pendingExpired = nil
	sort.Strings(expired)
	metrics.KvTtlExpiries.Add(float64(len(expired)))
	db.publish(wire.Publication{Area: db.area, ExpiredKeys: expired})
	return expired
}

// DumpAll returns every live key-value, for the dumpKvStoreKeys handler.
func (db *KvStoreDb) DumpAll() wire.Publication {
	pub := wire.Publication{Area: db.area, KeyVals: map[string]wire.Value{}, NodeIds: []string{db.nodeId}}
	for _, item := range db.cache.Items() {
		pub.KeyVals[item.Key()] = item.Value()
	}
	return pub
}

// DumpHashes returns every live key's hash (value omitted) for the
// dumpKvStoreHashes handler.
func (db *KvStoreDb) DumpHashes() wire.Publication {
	pub := wire.Publication{Area: db.area, KeyVals: map[string]wire.Value{}, NodeIds: []string{db.nodeId}}
	for _, item := range db.cache.Items() {
		v := item.Value()
		pub.KeyVals[item.Key()] = wire.Value{Version: v.Version, OriginatorId: v.OriginatorId, Hash: v.Hash}
	}
	return pub
}

// Counters returns a flat snapshot for operational visibility: this DB's
// key count, peer count and per-state peer breakdown, and the number of
// buffered flood roots. Process-wide metrics package counters are not
// included.
func (db *KvStoreDb) Counters() map[string]int64 {
	counts := map[string]int64{
		"kv.keys":           int64(db.cache.Len()),
		"kv.peers":          int64(len(db.peers)),
		"kv.peers.idle":     0,
		"kv.peers.syncing":  0,
		"kv.peers.init":     0,
		"kv.flood.buffered": int64(len(db.floodBuffer)),
	}
	for _, p := range db.peers {
		switch p.status {
		case PeerIdle:
			counts["kv.peers.idle"]++
		case PeerSyncing:
			counts["kv.peers.syncing"]++
		case PeerInitialized:
			counts["kv.peers.init"]++
		}
	}
	return counts
}
