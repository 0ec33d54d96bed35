package kvstore

import (
	"bytes"
	"time"

	"github.com/nodeplane/ribengine/wire"
)

// defaultSelfTtl is long enough that a missed refresh cycle doesn't expire
// the key, short enough that a dead originator's keys eventually disappear.
const defaultSelfTtl = 5 * time.Minute

// PersistSelfOriginatedKey creates or updates a key this node owns. If the
// value is unchanged from what's already tracked, this is a no-op (no
// version churn); otherwise the version is bumped above both this node's
// last-tracked version and whatever version is currently observed in the
// merged KV map (so a key an intruder advertised at a higher version is
// reclaimed authoritatively) and the key is queued for the next throttled
// advertise batch.
func (db *KvStoreDb) PersistSelfOriginatedKey(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultSelfTtl
	}
	existing, ok := db.selfOriginated[key]
	if ok && !existing.unset && bytes.Equal(existing.value, value) {
		return
	}
	version := uint64(1)
	if ok && existing.version+1 > version {
		version = existing.version + 1
	}
	if observed, ok := db.Get(key); ok && observed.Version+1 > version {
		version = observed.Version + 1
	}
	db.selfOriginated[key] = &selfOriginatedEntry{
		value:   value,
		version: version,
		ttl:     ttl,
	}
}

// SetSelfOriginatedKey stores a value for a key this node owns at an
// explicit version. version 0 means "one above whatever is currently
// observed in the merged map"; a non-zero version is used as given and may
// lose the merge to a higher one already present.
func (db *KvStoreDb) SetSelfOriginatedKey(key string, value []byte, version uint64, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultSelfTtl
	}
	if version == 0 {
		version = 1
		if observed, ok := db.Get(key); ok {
			version = observed.Version + 1
		}
	}
	db.selfOriginated[key] = &selfOriginatedEntry{
		value:   value,
		version: version,
		ttl:     ttl,
	}
}

// UnsetSelfOriginatedKey advertises value one final time for key, then
// stops refreshing it; the final value expires naturally via TTL.
func (db *KvStoreDb) UnsetSelfOriginatedKey(key string, value []byte) {
	e, ok := db.selfOriginated[key]
	if !ok {
		return
	}
	e.value = value
	e.version++
	e.unset = true
}

// EraseSelfOriginatedKey stops refreshing key without setting a new value —
// nothing further is advertised, and whatever was last published expires
// naturally via its TTL.
func (db *KvStoreDb) EraseSelfOriginatedKey(key string) {
	delete(db.selfOriginated, key)
}

// AdvertiseSelfOriginated builds and merges a Publication for every
// self-originated key due for (re)advertisement, then forgets unset
// entries that just went out for the last time. Call on the area reactor's
// periodic tick — this throttled batch replaces advertising each key the
// instant it changes.
func (db *KvStoreDb) AdvertiseSelfOriginated() {
	if len(db.selfOriginated) == 0 {
		return
	}
	pub := wire.Publication{Area: db.area, KeyVals: map[string]wire.Value{}, NodeIds: []string{db.nodeId}}
	var toForget []string

	for key, e := range db.selfOriginated {
		v := wire.Value{
			Version:      e.version,
			OriginatorId: db.nodeId,
			Value:        e.value,
			Ttl:          e.ttl.Milliseconds(),
			TtlVersion:   e.ttlVersion,
		}
		v.Hash = valueHash(v.OriginatorId, v.Value)
		pub.KeyVals[key] = v

		e.ttlVersion++
		if e.unset {
			toForget = append(toForget, key)
		}
	}

	db.mergePublication(pub, true, "")

	for _, key := range toForget {
		delete(db.selfOriginated, key)
	}
}
