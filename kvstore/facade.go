package kvstore

import (
	"log/slog"
	"sort"

	"github.com/nodeplane/ribengine/runtime"
	"github.com/nodeplane/ribengine/transport"
	"github.com/nodeplane/ribengine/wire"
)

// KvStore is the multi-area façade: one KvStoreDb per area, demultiplexing
// peer events and key-value requests by area and firing a single
// initialSyncSignalSent once every area has converged.
type KvStore struct {
	nodeId string
	log    *slog.Logger

	areas map[string]*KvStoreDb

	onceSynced   bool
	onInitialAll func()
}

// NewKvStore allocates an empty façade.
func NewKvStore(nodeId string, log *slog.Logger) *KvStore {
	if log == nil {
		log = slog.Default()
	}
	return &KvStore{nodeId: nodeId, log: log, areas: make(map[string]*KvStoreDb)}
}

// AddArea wires a new area's KvStoreDb into the façade, backed by env for
// scheduling. Returns the per-area DB so callers can also register
// OnUpdate/OnInitialSync observers directly.
func (s *KvStore) AddArea(area string, env *runtime.Env) *KvStoreDb {
	db := NewKvStoreDb(area, s.nodeId, env, s.log.With(slog.String("area", area)))
	db.OnInitialSync(func() { s.checkAllSynced() })
	s.areas[area] = db
	return db
}

// Area returns the KvStoreDb for area, if known.
func (s *KvStore) Area(area string) (*KvStoreDb, bool) {
	db, ok := s.areas[area]
	return db, ok
}

// OnInitialSyncAll registers the callback fired exactly once, the first
// time every area's DB has completed its own initial sync.
func (s *KvStore) OnInitialSyncAll(fn func()) {
	s.onInitialAll = fn
}

func (s *KvStore) checkAllSynced() {
	if s.onceSynced || s.onInitialAll == nil {
		return
	}
	for _, db := range s.areas {
		if !db.initialSyncDone {
			return
		}
	}
	s.onceSynced = true
	s.onInitialAll()
}

// AddPeer routes a peer-add event to the named area's DB.
func (s *KvStore) AddPeer(area string, id transport.PeerId, spec transport.PeerSpec, client transport.Client) error {
	db, ok := s.areas[area]
	if !ok {
		return newInvalidArgument("AddPeer", "unknown area %q", area)
	}
	db.AddPeer(id, spec, client)
	return nil
}

// DeletePeer routes a peer-delete event to the named area's DB.
func (s *KvStore) DeletePeer(area string, id transport.PeerId) error {
	db, ok := s.areas[area]
	if !ok {
		return newInvalidArgument("DeletePeer", "unknown area %q", area)
	}
	return db.DeletePeer(id)
}

// Get reads a key from a specific area.
func (s *KvStore) Get(area, key string) (wire.Value, bool) {
	db, ok := s.areas[area]
	if !ok {
		return wire.Value{}, false
	}
	return db.Get(key)
}

// Counters returns a combined view across every area, each entry prefixed
// by its area name, plus an "all." rollup of key/peer totals.
func (s *KvStore) Counters() map[string]int64 {
	out := map[string]int64{}
	var totalKeys, totalPeers int64
	areaNames := make([]string, 0, len(s.areas))
	for name := range s.areas {
		areaNames = append(areaNames, name)
	}
	sort.Strings(areaNames)
	for _, name := range areaNames {
		db := s.areas[name]
		for k, v := range db.Counters() {
			out[name+"."+k] = v
		}
		totalKeys += int64(db.Len())
		totalPeers += int64(len(db.peers))
	}
	out["all.kv.keys"] = totalKeys
	out["all.kv.peers"] = totalPeers
	return out
}

// TickTtl drains expiries across every area.
func (s *KvStore) TickTtl() {
	for _, db := range s.areas {
		db.TickTtl()
	}
}

// ScanPeers drives the peer-sync scan across every area.
func (s *KvStore) ScanPeers() {
	for _, db := range s.areas {
		db.ScanPeers()
	}
}

// DrainFloodBuffer drains coalesced floods across every area.
func (s *KvStore) DrainFloodBuffer() {
	for _, db := range s.areas {
		db.DrainFloodBuffer()
	}
}

// AdvertiseSelfOriginated runs the self-originated advertise batch across
// every area.
func (s *KvStore) AdvertiseSelfOriginated() {
	for _, db := range s.areas {
		db.AdvertiseSelfOriginated()
	}
}

// DumpAll answers the dumpKvStoreKeys handler, one Publication per area
// named in params.Areas (or every area, if empty).
func (s *KvStore) DumpAll(params transport.DumpParams) []wire.Publication {
	return s.dump(params, (*KvStoreDb).DumpAll)
}

// DumpHashes answers the dumpKvStoreHashes handler.
func (s *KvStore) DumpHashes(params transport.DumpParams) []wire.Publication {
	return s.dump(params, (*KvStoreDb).DumpHashes)
}

func (s *KvStore) dump(params transport.DumpParams, fn func(*KvStoreDb) wire.Publication) []wire.Publication {
	names := params.Areas
	if len(names) == 0 {
		names = make([]string, 0, len(s.areas))
		for name := range s.areas {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	out := make([]wire.Publication, 0, len(names))
	for _, name := range names {
		db, ok := s.areas[name]
		if !ok {
			continue
		}
		pub := fn(db)
		if len(params.KeyPrefixFilter) > 0 {
			filtered := make(map[string]wire.Value, len(pub.KeyVals))
			for k, v := range pub.KeyVals {
				if keyMatchesPrefixFilter(k, params.KeyPrefixFilter) {
					filtered[k] = v
				}
			}
			pub.KeyVals = filtered
		}
		out = append(out, pub)
	}
	return out
}
