package netenforce

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ibsfleet/controller/internal/config"
	"github.com/ibsfleet/controller/internal/logging"
	"github.com/ibsfleet/controller/internal/policy"
	"github.com/ibsfleet/controller/internal/registry"
)

// defaultClassID is the HTB catch-all class every unmatched packet falls into.
const defaultClassID = 99

// htbPrioTable is the closed qualitative-to-HTB-prio mapping.
var htbPrioTable = map[string]int{
	"critical": 0,
	"high":     1,
	"medium":   4,
	"low":      7,
	"default":  4,
}

// Status is the structured snapshot returned by GetStatus for one interface.
type Status struct {
	Iface        string
	QdiscShow    string
	ClassShow    string
	FilterShow   string
	ActivePolicy map[string]PolicySnapshot
}

// PolicySnapshot is a read-only view of one device's active-policy record.
type PolicySnapshot struct {
	Type      string
	Params    map[string]string
	AppliedAt time.Time
}

// Enforcer maintains, per managed interface, an HTB tree — root 1:, an
// umbrella class 1:1 at the link ceiling, per-device classes 1:<classid>
// with optional netem children, and a 1:99 catch-all — and reconciles it
// against applied Policies. All public operations are serialized behind a
// single mutex; the enforcer is the sole writer of tc state.
type Enforcer struct {
	runner Runner
	reg    *registry.Registry
	cfg    config.NetworkConfig
	logger *logging.Logger

	mu            sync.Mutex
	records       map[string]*activeRecord        // device_id -> record
	filterHandles map[string]string               // device_id -> kernel filter handle
	rootReady     map[string]bool                 // iface -> root qdisc brought up
	breakers      map[string]*ifaceCircuitBreaker // iface -> breaker
}

// NewEnforcer returns an Enforcer driving runner over the devices in reg.
func NewEnforcer(runner Runner, reg *registry.Registry, cfg config.NetworkConfig, logger *logging.Logger) *Enforcer {
	return &Enforcer{
		runner:        runner,
		reg:           reg,
		cfg:           cfg,
		logger:        logger,
		records:       map[string]*activeRecord{},
		filterHandles: map[string]string{},
		rootReady:     map[string]bool{},
		breakers:      map[string]*ifaceCircuitBreaker{},
	}
}

func (e *Enforcer) breaker(iface string) *ifaceCircuitBreaker {
	cb, ok := e.breakers[iface]
	if !ok {
		cb = newIfaceCircuitBreaker(iface)
		e.breakers[iface] = cb
	}
	return cb
}

// Apply dispatches policy p to the device it targets. It returns false
// (never an error) on any failure; enforcement failures never propagate
// as process failures.
func (e *Enforcer) Apply(ctx context.Context, p policy.Policy) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	dev, ok := e.reg.Get(p.TargetDevice)
	if !ok {
		e.logger.WithField("device", p.TargetDevice).Warn("apply: target device not in registry")
		return false
	}

	cb := e.breaker(dev.Iface)
	ok2 := true
	err := cb.call(func() error {
		if err := e.ensureRootQdiscLocked(ctx, dev.Iface); err != nil {
			return err
		}

		switch p.Type {
		case policy.TypeBandwidthLimit:
			return e.applyBandwidthLocked(ctx, dev, p)
		case policy.TypeLatencyControl:
			return e.applyLatencyLocked(ctx, dev, p)
		case policy.TypeTrafficShaping, policy.TypeRoutingPriority:
			return e.applyPriorityLocked(ctx, dev, p)
		default:
			ok2 = false
			e.logger.WithField("policy_type", string(p.Type)).Warn("apply: unknown policy type")
			return nil
		}
	})
	if err != nil {
		e.logger.WithError(err).WithField("device", p.TargetDevice).Error("apply failed")
		return false
	}
	return ok2
}

// ensureRootQdiscLocked brings up the HTB root, the umbrella and default
// classes, and every registered device's class and filter on iface the
// first time it is touched, so per-device stats exist before any intent
// arrives. Callers must hold e.mu.
func (e *Enforcer) ensureRootQdiscLocked(ctx context.Context, iface string) error {
	if e.rootReady[iface] {
		return nil
	}

	show, _, _ := e.runner.Run(ctx, "qdisc", "show", "dev", iface)
	if !strings.Contains(show, "htb 1:") {
		if err := e.runOkFail(ctx, []string{"qdisc", "replace", "dev", iface, "root", "handle", "1:", "htb", "default", fmt.Sprintf("%d", defaultClassID)}); err != nil {
			return fmt.Errorf("ensure_root_qdisc: %w", err)
		}
		linkRate := e.cfg.LinkRate
		if err := e.changeOrAdd(ctx,
			[]string{"class", "change", "dev", iface, "parent", "1:", "classid", "1:1", "htb", "rate", linkRate, "ceil", linkRate},
			[]string{"class", "add", "dev", iface, "parent", "1:", "classid", "1:1", "htb", "rate", linkRate, "ceil", linkRate},
		); err != nil {
			return fmt.Errorf("ensure_root_qdisc: link class: %w", err)
		}
		devDefault := e.cfg.DeviceDefaultRate
		if err := e.changeOrAdd(ctx,
			[]string{"class", "change", "dev", iface, "parent", "1:1", "classid", fmt.Sprintf("1:%d", defaultClassID), "htb", "rate", devDefault, "ceil", linkRate},
			[]string{"class", "add", "dev", iface, "parent", "1:1", "classid", fmt.Sprintf("1:%d", defaultClassID), "htb", "rate", devDefault, "ceil", linkRate},
		); err != nil {
			return fmt.Errorf("ensure_root_qdisc: default class: %w", err)
		}
	}

	for _, dev := range e.reg.All() {
		if dev.Iface != iface {
			continue
		}
		if err := e.ensureClassLocked(ctx, iface, dev.ClassID, e.cfg.DeviceDefaultRate, e.cfg.LinkRate, "1600b", htbPrioTable["default"]); err != nil {
			return fmt.Errorf("ensure_root_qdisc: device class %s: %w", dev.DeviceID, err)
		}
		if err := e.ensureFilterLocked(ctx, iface, dev.ClassID, dev.IP); err != nil {
			return fmt.Errorf("ensure_root_qdisc: device filter %s: %w", dev.DeviceID, err)
		}
	}

	e.rootReady[iface] = true
	return nil
}

func (e *Enforcer) ensureClassLocked(ctx context.Context, iface string, classid int, rate, ceil, burst string, prio int) error {
	classidStr := fmt.Sprintf("1:%d", classid)
	return e.changeOrAdd(ctx,
		[]string{"class", "change", "dev", iface, "parent", "1:1", "classid", classidStr, "htb",
			"rate", rate, "ceil", ceil, "burst", burst, "prio", fmt.Sprintf("%d", prio)},
		[]string{"class", "add", "dev", iface, "parent", "1:1", "classid", classidStr, "htb",
			"rate", rate, "ceil", ceil, "burst", burst, "prio", fmt.Sprintf("%d", prio)},
	)
}

// ensureFilterLocked adds a u32 filter for ip -> classid if one doesn't
// already exist, scanning the current filter list for either the
// dotted-quad or hex form of ip so repeated applies never stack filters.
func (e *Enforcer) ensureFilterLocked(ctx context.Context, iface string, classid int, ip string) error {
	show, _, _ := e.runner.Run(ctx, "filter", "show", "dev", iface)
	if filterExistsForIP(show, ip) {
		e.rememberFilterHandle(show, ip)
		return nil
	}

	args := []string{"filter", "add", "dev", iface, "parent", "1:0", "protocol", "ip", "prio", "1",
		"u32", "match", "ip", "dst", ip + "/32", "flowid", fmt.Sprintf("1:%d", classid)}
	if err := e.runOkFail(ctx, args); err != nil {
		return err
	}

	show2, _, _ := e.runner.Run(ctx, "filter", "show", "dev", iface)
	e.rememberFilterHandle(show2, ip)
	return nil
}

func (e *Enforcer) rememberFilterHandle(filterShowOutput, ip string) {
	byIP := ParseFilterHandlesByIP(filterShowOutput)
	if info, ok := byIP[ip]; ok {
		for dev, existingIP := range e.deviceIPIndex() {
			if existingIP == ip {
				e.filterHandles[dev] = info.Handle
			}
		}
	}
}

func (e *Enforcer) deviceIPIndex() map[string]string {
	out := map[string]string{}
	for _, d := range e.reg.All() {
		out[d.DeviceID] = d.IP
	}
	return out
}

func (e *Enforcer) applyBandwidthLocked(ctx context.Context, dev registry.Entry, p policy.Policy) error {
	rate := p.Param("rate")
	ceil := p.Param("ceil")
	burst := p.Param("burst")
	if burst == "" {
		burst = "1600b"
	}
	if err := e.ensureClassLocked(ctx, dev.Iface, dev.ClassID, rate, ceil, burst, htbPrioTable["default"]); err != nil {
		return err
	}
	if err := e.ensureFilterLocked(ctx, dev.Iface, dev.ClassID, dev.IP); err != nil {
		return err
	}
	e.recordLocked(dev.DeviceID, string(p.Type), p.Params)
	return nil
}

func (e *Enforcer) applyLatencyLocked(ctx context.Context, dev registry.Entry, p policy.Policy) error {
	prior := e.records[dev.DeviceID]
	rate, ceil := e.cfg.DeviceDefaultRate, e.cfg.LinkRate
	if prior != nil {
		if r, ok := prior.Params["rate"]; ok {
			rate = r
		}
		if c, ok := prior.Params["ceil"]; ok {
			ceil = c
		}
	}
	if err := e.ensureClassLocked(ctx, dev.Iface, dev.ClassID, rate, ceil, "1600b", htbPrioTable["default"]); err != nil {
		return err
	}
	if err := e.ensureFilterLocked(ctx, dev.Iface, dev.ClassID, dev.IP); err != nil {
		return err
	}

	handle := fmt.Sprintf("%d:", dev.ClassID)
	_ = e.runOkFail(ctx, []string{"qdisc", "del", "dev", dev.Iface, "parent", fmt.Sprintf("1:%d", dev.ClassID), "handle", handle, "netem"})

	netemArgs := []string{"qdisc", "add", "dev", dev.Iface, "parent", fmt.Sprintf("1:%d", dev.ClassID), "handle", handle, "netem", "delay", p.Param("delay")}
	if jitter := p.Param("jitter"); jitter != "" {
		netemArgs = append(netemArgs, jitter)
	}
	if loss := p.Param("loss"); loss != "" {
		netemArgs = append(netemArgs, "loss", loss)
	}
	if err := e.runOkFail(ctx, netemArgs); err != nil {
		return err
	}

	e.recordLocked(dev.DeviceID, string(p.Type), p.Params)
	return nil
}

func (e *Enforcer) applyPriorityLocked(ctx context.Context, dev registry.Entry, p policy.Policy) error {
	rate, ceil := p.Param("rate"), p.Param("ceil")
	if prior := e.records[dev.DeviceID]; prior != nil {
		if rate == "" {
			rate = prior.Params["rate"]
		}
		if ceil == "" {
			ceil = prior.Params["ceil"]
		}
	}
	if rate == "" {
		rate = e.cfg.DeviceDefaultRate
	}
	if ceil == "" {
		ceil = e.cfg.LinkRate
	}

	level := p.Param("level")
	prio, ok := htbPrioTable[level]
	if !ok {
		prio = htbPrioTable["default"]
	}

	if err := e.ensureClassLocked(ctx, dev.Iface, dev.ClassID, rate, ceil, "32k", prio); err != nil {
		return err
	}
	if err := e.ensureFilterLocked(ctx, dev.Iface, dev.ClassID, dev.IP); err != nil {
		return err
	}

	e.recordLocked(dev.DeviceID, string(p.Type), p.Params)
	return nil
}

// recordLocked merges params into device's active-policy record. Callers
// must hold e.mu.
func (e *Enforcer) recordLocked(deviceID, policyType string, params map[string]string) {
	prior := e.records[deviceID]
	var priorParams map[string]string
	if prior != nil {
		priorParams = prior.Params
	}
	e.records[deviceID] = &activeRecord{
		Type:      policyType,
		Params:    mergeParams(priorParams, params),
		AppliedAt: time.Now(),
	}
}

// ClearDevice removes netem, filter (by kernel handle if known, falling
// back to a fresh scan otherwise), and class for deviceID, then forgets its
// active-policy record.
func (e *Enforcer) ClearDevice(ctx context.Context, deviceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	dev, ok := e.reg.Get(deviceID)
	if !ok {
		return false
	}

	handle := fmt.Sprintf("%d:", dev.ClassID)
	_ = e.runOkFail(ctx, []string{"qdisc", "del", "dev", dev.Iface, "parent", fmt.Sprintf("1:%d", dev.ClassID), "handle", handle, "netem"})

	if fh, ok := e.filterHandles[deviceID]; ok {
		_ = e.runOkFail(ctx, []string{"filter", "del", "dev", dev.Iface, "parent", "1:0", "prio", "1", "handle", fh, "u32"})
		delete(e.filterHandles, deviceID)
	} else {
		show, _, _ := e.runner.Run(ctx, "filter", "show", "dev", dev.Iface)
		if info, ok := ParseFilterHandlesByIP(show)[dev.IP]; ok {
			_ = e.runOkFail(ctx, []string{"filter", "del", "dev", dev.Iface, "parent", "1:0", "prio", "1", "handle", info.Handle, "u32"})
		}
	}

	_ = e.runOkFail(ctx, []string{"class", "del", "dev", dev.Iface, "classid", fmt.Sprintf("1:%d", dev.ClassID)})

	delete(e.records, deviceID)
	return true
}

// ClearAll deletes the root qdisc on every managed interface.
func (e *Enforcer) ClearAll(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok := true
	for _, iface := range e.reg.Interfaces() {
		if err := e.runOkFail(ctx, []string{"qdisc", "del", "dev", iface, "root", "handle", "1:", "htb"}); err != nil {
			e.logger.WithError(err).WithField("iface", iface).Error("clear_all failed")
			ok = false
			continue
		}
		e.rootReady[iface] = false
	}
	e.records = map[string]*activeRecord{}
	e.filterHandles = map[string]string{}
	return ok
}

// GetStatus returns raw tc output plus the active-policy snapshot for
// every managed interface. Each interface's three `tc show` invocations run
// in sequence; the interfaces are independent reads, so they are gathered
// concurrently via errgroup.
func (e *Enforcer) GetStatus(ctx context.Context) []Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	ifaces := e.reg.Interfaces()
	out := make([]Status, len(ifaces))

	g, gctx := errgroup.WithContext(ctx)
	for i, iface := range ifaces {
		i, iface := i, iface
		g.Go(func() error {
			qdisc, _, _ := e.runner.Run(gctx, "qdisc", "show", "dev", iface)
			class, _, _ := e.runner.Run(gctx, "class", "show", "dev", iface)
			filter, _, _ := e.runner.Run(gctx, "filter", "show", "dev", iface)

			snap := map[string]PolicySnapshot{}
			for dev, rec := range e.records {
				entry, ok := e.reg.Get(dev)
				if !ok || entry.Iface != iface {
					continue
				}
				snap[dev] = PolicySnapshot{Type: rec.Type, Params: rec.Params, AppliedAt: rec.AppliedAt}
			}

			out[i] = Status{
				Iface: iface, QdiscShow: qdisc, ClassShow: class, FilterShow: filter, ActivePolicy: snap,
			}
			return nil
		})
	}
	_ = g.Wait() // each goroutine swallows its own tc error into an empty show string

	return out
}

// GetActivePolicies returns a snapshot of every device's active-policy
// record, for the metrics collector's read-only use.
func (e *Enforcer) GetActivePolicies() map[string]PolicySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]PolicySnapshot, len(e.records))
	for dev, rec := range e.records {
		out[dev] = PolicySnapshot{Type: rec.Type, Params: rec.Params, AppliedAt: rec.AppliedAt}
	}
	return out
}

// CollectTCStats parses `tc -s class show` per managed interface into a
// per-device stats map. One `tc` invocation
// per interface; independent, so they run concurrently via errgroup and
// merge into out under a local mutex.
func (e *Enforcer) CollectTCStats(ctx context.Context) map[string]*ClassStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	byIface := map[string][]registry.Entry{}
	for _, dev := range e.reg.All() {
		byIface[dev.Iface] = append(byIface[dev.Iface], dev)
	}

	out := map[string]*ClassStats{}
	var outMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for iface, devices := range byIface {
		iface, devices := iface, devices
		g.Go(func() error {
			show, _, err := e.runner.Run(gctx, "-s", "class", "show", "dev", iface)
			if err != nil {
				e.logger.WithError(err).WithField("iface", iface).Warn("collect_tc_stats: class show failed")
				return nil
			}
			stats := ParseClassStats(show)
			outMu.Lock()
			defer outMu.Unlock()
			for _, dev := range devices {
				if s, ok := stats[dev.ClassID]; ok {
					out[dev.DeviceID] = s
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return out
}
