// Package daemon wires every other package into one running node: one
// reactor per configured area plus a decision-stage reactor that owns every
// area's LinkState and PrefixState, so cross-area interaction happens only
// by message passing onto that reactor. Process lifecycle (signal
// handling), CLI flags, and transport/TLS dial mechanics stay with
// cmd/ribengine and an injected PeerDialer — this package only owns the
// in-process wiring.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nodeplane/ribengine/config"
	"github.com/nodeplane/ribengine/decision"
	"github.com/nodeplane/ribengine/kvstore"
	"github.com/nodeplane/ribengine/prefix"
	"github.com/nodeplane/ribengine/runtime"
	"github.com/nodeplane/ribengine/topology"
	"github.com/nodeplane/ribengine/transport"
	"github.com/nodeplane/ribengine/wire"
)

// dispatchQueueDepth is the buffer size of each reactor's dispatch channel.
const dispatchQueueDepth = 128

// PeerDialer connects to a configured peer, producing the transport.Client
// kvstore issues RPCs through. Dial/TLS/framing mechanics are an external
// collaborator's concern; a production binary supplies a real PeerDialer,
// tests supply a fake one.
type PeerDialer func(spec transport.PeerSpec) (transport.Client, error)

// AdjacencyDecoder turns an inbound KV publication's raw value bytes into
// domain objects to ingest. Wire serialization is treated as an abstract
// codec, not modeled byte-for-byte, so decoding is left to an injected
// collaborator; a Daemon with none configured still runs, it just never
// learns adjacency/prefix state from its peers' floods (only from locally
// configured static prefixes).
type AdjacencyDecoder interface {
	DecodeAdjacencyDatabase(key string, value []byte) (wire.AdjacencyDatabase, bool, error)
	DecodePrefixEntry(key string, value []byte) (*prefix.Entry, bool, error)
}

// RouteUpdateFunc receives every RIB delta the decision stage computes.
// Programming a forwarding plane from these deltas is left to a downstream
// agent; this is the seam it would subscribe through.
type RouteUpdateFunc func(decision.RouteDbDelta)

// Daemon owns one Env per configured area, the KvStore façade, each area's
// LinkState/PrefixState, and the decision stage's SpfSolver/DecisionRouteDb.
type Daemon struct {
	cfg *config.NodeConfig
	log *slog.Logger

	dialer  PeerDialer
	decoder AdjacencyDecoder

	decisionEnv *runtime.Env
	areaEnvs    map[string]*runtime.Env

	kv           *kvstore.KvStore
	linkStates   map[string]*topology.LinkState
	prefixStates map[string]*prefix.State

	solver  *decision.SpfSolver
	routeDb *decision.DecisionRouteDb

	onRouteUpdate RouteUpdateFunc
}

// New builds a Daemon from a validated config. It does not start any
// reactor goroutine or dial any peer; call Run for that.
func New(cfg *config.NodeConfig, log *slog.Logger, dialer PeerDialer, decoder AdjacencyDecoder) (*Daemon, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("daemon: invalid config: %w", err)
	}

	ctx := context.Background()
	d := &Daemon{
		cfg:          cfg,
		log:          log,
		dialer:       dialer,
		decoder:      decoder,
		decisionEnv:  runtime.NewEnv(ctx, runtime.Area("decision"), log, dispatchQueueDepth),
		areaEnvs:     make(map[string]*runtime.Env),
		kv:           kvstore.NewKvStore(cfg.Id, log),
		linkStates:   make(map[string]*topology.LinkState),
		prefixStates: make(map[string]*prefix.State),
		solver:       decision.NewSpfSolver(cfg.Id, log),
		routeDb:      decision.NewDecisionRouteDb(),
	}

	for _, area := range cfg.Areas {
		env := runtime.NewEnv(ctx, runtime.Area(area.Name), log, dispatchQueueDepth)
		d.areaEnvs[area.Name] = env
		d.linkStates[area.Name] = topology.NewLinkState(area.Name, log)
		d.prefixStates[area.Name] = prefix.NewState(area.Name)

		db := d.kv.AddArea(area.Name, env)
		if area.FloodRate > 0 {
			db.SetFloodRateLimit(area.FloodRate, area.FloodBurst)
		}
		db.OnUpdate(d.onKvUpdate(area.Name))
	}

	for _, p := range cfg.Prefixes {
		pfx, err := netip.ParsePrefix(p.Prefix)
		if err != nil {
			return nil, fmt.Errorf("daemon: static prefix %q: %w", p.Prefix, err)
		}
		if _, ok := d.prefixStates[p.Area]; !ok {
			return nil, fmt.Errorf("daemon: static prefix %q: area %q not configured", p.Prefix, p.Area)
		}
		entry := &decision.RibUnicastEntry{
			Prefix:                pfx,
			BestArea:              p.Area,
			LocalPrefixConsidered: true,
		}
		if p.NextHop != "" {
			addr, err := netip.ParseAddr(p.NextHop)
			if err != nil {
				return nil, fmt.Errorf("daemon: static prefix %q: next hop: %w", p.Prefix, err)
			}
			entry.NextHops = []decision.NextHop{{Addr: addr, Weight: 1, Area: p.Area}}
		}
		d.solver.UpdateStaticUnicastRoute(entry)
	}

	return d, nil
}

// OnRouteUpdate registers the callback fired with every RIB delta computed
// after a recompute. Call before Run.
func (d *Daemon) OnRouteUpdate(fn RouteUpdateFunc) {
	d.onRouteUpdate = fn
}

// Run starts every area's reactor plus the decision reactor, dials every
// configured peer via the injected PeerDialer, and returns once everything
// is running. Callers stop the Daemon with Stop.
func (d *Daemon) Run() error {
	go d.decisionEnv.Run()
	for name, env := range d.areaEnvs {
		go env.Run()
		d.log.Info("area reactor started", "area", name)
	}

	for _, area := range d.cfg.Areas {
		for _, peerCfg := range area.Peers {
			if err := d.connectPeer(area.Name, peerCfg); err != nil {
				return fmt.Errorf("daemon: connect peer %q in area %q: %w", peerCfg.NodeName, area.Name, err)
			}
		}
	}

	d.decisionEnv.RepeatTask(d.tickAndRecompute, 1*time.Second)
	for _, env := range d.areaEnvs {
		env.RepeatTask(d.scanAndTick(env.Area), 1*time.Second)
	}
	return nil
}

// IngestAdjacencyDatabase applies a locally-probed or decoded adjacency
// database to area's LinkState and recomputes the RIB. This is the entry
// point a link-probing collaborator calls directly, distinct from
// onKvUpdate's KV-flood path. Every area's LinkState/PrefixState is owned by
// the decision reactor, not the area's own reactor, so cross-area BuildRib
// reads never race a concurrent area-local mutation.
func (d *Daemon) IngestAdjacencyDatabase(area string, adjDb wire.AdjacencyDatabase) error {
	if _, ok := d.linkStates[area]; !ok {
		return fmt.Errorf("daemon: area %q not configured", area)
	}
	_, err := d.decisionEnv.DispatchWait(func() (any, error) {
		if _, err := d.linkStates[area].UpdateAdjacencyDatabase(adjDb); err != nil {
			return nil, err
		}
		return nil, d.recompute()
	})
	return err
}

// AdvertisePrefix records a prefix advertisement in area's PrefixState and
// recomputes the RIB.
func (d *Daemon) AdvertisePrefix(area string, entry *prefix.Entry) error {
	if _, ok := d.prefixStates[area]; !ok {
		return fmt.Errorf("daemon: area %q not configured", area)
	}
	_, err := d.decisionEnv.DispatchWait(func() (any, error) {
		if _, err := d.prefixStates[area].Advertise(entry); err != nil {
			return nil, err
		}
		return nil, d.recompute()
	})
	return err
}

// Stop cancels every reactor's context.
func (d *Daemon) Stop(cause error) {
	d.decisionEnv.Stop(cause)
	for _, env := range d.areaEnvs {
		env.Stop(cause)
	}
}

func (d *Daemon) connectPeer(area string, peerCfg config.PeerConfig) error {
	if d.dialer == nil {
		return fmt.Errorf("no PeerDialer configured")
	}
	spec := transport.PeerSpec{NodeName: peerCfg.NodeName, Area: area, Address: peerCfg.Address}
	client, err := d.dialer(spec)
	if err != nil {
		return err
	}
	db, ok := d.kv.Area(area)
	if !ok {
		return fmt.Errorf("area %q has no KvStoreDb", area)
	}
	id := uuid.New()
	env := d.areaEnvs[area]
	env.Dispatch(func() error {
		db.AddPeer(id, spec, client)
		return nil
	})
	return nil
}

func (d *Daemon) scanAndTick(area runtime.Area) func() error {
	return func() error {
		db, ok := d.kv.Area(string(area))
		if !ok {
			return nil
		}
		db.ScanPeers()
		db.TickTtl()
		db.DrainFloodBuffer()
		db.AdvertiseSelfOriginated()
		return nil
	}
}

// onKvUpdate returns the per-area KvStoreDb.OnUpdate callback. It runs on
// that area's own reactor goroutine (mergePublication calls it inline), so
// the decode+ingest work is handed to the decision reactor via Dispatch
// rather than touching d.linkStates/d.prefixStates here directly — those
// maps are owned by the decision reactor (see IngestAdjacencyDatabase).
func (d *Daemon) onKvUpdate(area string) func(wire.Publication) {
	return func(pub wire.Publication) {
		if d.decoder == nil {
			d.scheduleRecompute()
			return
		}
		d.decisionEnv.Dispatch(func() error {
			d.ingestPublication(area, pub)
			return d.recompute()
		})
	}
}

// ingestPublication decodes and applies every changed key in pub. Must run
// on the decision reactor (d.linkStates/d.prefixStates are its state).
func (d *Daemon) ingestPublication(area string, pub wire.Publication) {
	ls := d.linkStates[area]
	ps := d.prefixStates[area]

	keys := make([]string, 0, len(pub.KeyVals))
	for k := range pub.KeyVals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := pub.KeyVals[key]
		if adjDb, ok, err := d.decoder.DecodeAdjacencyDatabase(key, v.Value); err != nil {
			d.log.Warn("failed to decode adjacency database", "area", area, "key", key, "error", err)
		} else if ok {
			if _, err := ls.UpdateAdjacencyDatabase(adjDb); err != nil {
				d.log.Warn("failed to ingest adjacency database", "area", area, "key", key, "error", err)
			}
			continue
		}
		if entry, ok, err := d.decoder.DecodePrefixEntry(key, v.Value); err != nil {
			d.log.Warn("failed to decode prefix entry", "area", area, "key", key, "error", err)
		} else if ok {
			if _, err := ps.Advertise(entry); err != nil {
				d.log.Warn("failed to ingest prefix entry", "area", area, "key", key, "error", err)
			}
		}
	}

	for _, node := range pub.ExpiredKeys {
		ls.DeleteAdjacencyDatabase(node)
	}
}

func (d *Daemon) scheduleRecompute() {
	d.decisionEnv.Dispatch(d.recompute)
}

// tickAndRecompute is the decision reactor's periodic task: advance every
// area's link/node hold TTLs one tick, then rebuild the RIB — an expired
// hold flips isUp/overload state, and the recompute right after picks that
// up.
func (d *Daemon) tickAndRecompute() error {
	for _, ls := range d.linkStates {
		ls.DecrementHolds()
	}
	return d.recompute()
}

// recompute rebuilds the RIB across every area and hands the delta to
// onRouteUpdate.
func (d *Daemon) recompute() error {
	newDb := d.solver.BuildRib(d.linkStates, d.prefixStates)
	delta := d.routeDb.CalculateUpdate(newDb)
	if delta.Empty() {
		return nil
	}
	d.routeDb.Update(newDb)
	if d.onRouteUpdate != nil {
		d.onRouteUpdate(delta)
	}
	return nil
}

// LinkState returns the named area's LSDB, if configured.
func (d *Daemon) LinkState(area string) (*topology.LinkState, bool) {
	ls, ok := d.linkStates[area]
	return ls, ok
}

// PrefixState returns the named area's prefix store, if configured.
func (d *Daemon) PrefixState(area string) (*prefix.State, bool) {
	ps, ok := d.prefixStates[area]
	return ps, ok
}

// CurrentRib returns the last committed RouteDb.
func (d *Daemon) CurrentRib() *decision.RouteDb {
	return d.routeDb.Current()
}

// Recompute synchronously rebuilds the RIB on the decision reactor and
// returns the resulting delta. Exported for tests and for callers that want
// to force a recompute outside the periodic RepeatTask (e.g. after a bulk
// config reload).
func (d *Daemon) Recompute() decision.RouteDbDelta {
	res, _ := d.decisionEnv.DispatchWait(func() (any, error) {
		newDb := d.solver.BuildRib(d.linkStates, d.prefixStates)
		delta := d.routeDb.CalculateUpdate(newDb)
		d.routeDb.Update(newDb)
		return delta, nil
	})
	delta, _ := res.(decision.RouteDbDelta)
	return delta
}

// Counters returns a flat snapshot combining every area's KvStoreDb
// counters.
func (d *Daemon) Counters() map[string]int64 {
	return d.kv.Counters()
}
