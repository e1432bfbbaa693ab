// Package dashboard owns one record store and republishes a complete
// Snapshot to its subscribers whenever the data, criteria or level change.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"vadash/internal/aggregate"
	"vadash/internal/domain"
	"vadash/internal/filter"
	"vadash/internal/geo"
	"vadash/internal/metrics"
	"vadash/internal/records"
	"vadash/internal/scale"
)

const DefaultSmallSampleThreshold = 50

// Options carries the per-deployment differences between dashboards.
type Options struct {
	CombineMode          filter.Mode
	GeoLabelMode         records.GeoLabelMode
	LabelWidth           int
	Scale                scale.Options
	SmallSampleThreshold int
	DefaultLevel         domain.Level
	CauseGroups          domain.CauseGroups
}

func DefaultOptions() Options {
	return Options{
		CombineMode:          filter.MatchAll,
		GeoLabelMode:         records.FirstToken,
		LabelWidth:           aggregate.DefaultLabelWidth,
		Scale:                scale.DefaultOptions(),
		SmallSampleThreshold: DefaultSmallSampleThreshold,
		DefaultLevel:         domain.ProvinceLevel,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.CombineMode == "" {
		o.CombineMode = d.CombineMode
	}
	if o.GeoLabelMode == "" {
		o.GeoLabelMode = d.GeoLabelMode
	}
	if o.LabelWidth == 0 {
		o.LabelWidth = d.LabelWidth
	}
	if o.DefaultLevel == "" {
		o.DefaultLevel = d.DefaultLevel
	}
	if o.Scale.Buckets == 0 && len(o.Scale.Palette) == 0 && o.Scale.Floor == 0 && o.Scale.Margin == 0 {
		o.Scale = d.Scale
	}
	return o
}

// FetchTicket identifies one fetch started with BeginFetch.
type FetchTicket struct {
	Seq uint64
}

type Controller struct {
	opts    Options
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu        sync.Mutex
	store     *records.Store
	uncoded   int
	stats     domain.UpdateStats
	allCauses []string
	features  []geo.Feature
	criteria  domain.Criteria
	level     domain.Level
	view      domain.View
	seq       uint64
	current   Snapshot
	subs      map[int]func(Snapshot)
	nextSub   int

	fetchSeq    uint64
	cancelFetch context.CancelFunc
	stale       int

	// notifyMu is taken while mu is still held and released after delivery,
	// so subscribers see snapshots one at a time in Seq order.
	notifyMu sync.Mutex
}

// New builds a controller with an empty dataset. logger and m may be nil.
func New(opts Options, logger *zap.SugaredLogger, m *metrics.Metrics) *Controller {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	opts = opts.withDefaults()
	return &Controller{
		opts:    opts,
		logger:  logger,
		metrics: m,
		store:   records.NewStore(opts.GeoLabelMode),
		level:   opts.DefaultLevel,
		subs:    make(map[int]func(Snapshot)),
	}
}

func (c *Controller) Options() Options { return c.opts }

// Load replaces the dataset, keeps the current criteria and republishes.
func (c *Controller) Load(ds domain.Dataset) {
	c.mu.Lock()
	c.loadLocked(ds)
	c.publishLocked("load")
}

func (c *Controller) loadLocked(ds domain.Dataset) {
	c.store.Load(ds.Valid)
	c.uncoded = ds.Uncoded
	c.stats = ds.UpdateStats
	c.allCauses = ds.AllCauses
}

// SetFeatures installs the boundary features used for map colouring.
func (c *Controller) SetFeatures(features []geo.Feature) {
	c.mu.Lock()
	c.features = features
	c.publishLocked("features")
}

func (c *Controller) SetCriteria(criteria domain.Criteria) {
	c.mu.Lock()
	c.criteria = criteria
	c.publishLocked("criteria")
}

func (c *Controller) SetLevel(level domain.Level) error {
	parsed, ok := domain.ParseLevel(string(level))
	if !ok {
		return fmt.Errorf("unknown level %q", level)
	}
	c.mu.Lock()
	c.level = parsed
	c.publishLocked("level")
	return nil
}

// SetView changes how the active subset is presented. An invalid view is
// rejected without publishing.
func (c *Controller) SetView(view domain.View) error {
	view, err := c.ValidateView(view)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.view = view
	c.publishLocked("view")
	return nil
}

// ValidateView normalizes factor and period spellings and checks that the
// cause group exists.
func (c *Controller) ValidateView(view domain.View) (domain.View, error) {
	factor, ok := domain.ParseFactor(string(view.Factor))
	if !ok {
		return view, fmt.Errorf("unknown factor %q", view.Factor)
	}
	period, ok := domain.ParsePeriod(string(view.Period))
	if !ok {
		return view, fmt.Errorf("unknown trend period %q", view.Period)
	}
	group := strings.ToLower(strings.TrimSpace(view.CODGroup))
	if group != "" && !strings.HasPrefix(group, domain.AllCauses) && group != domain.NeonatalGroup && !c.opts.CauseGroups.Has(group) {
		return view, fmt.Errorf("unknown cause group %q", view.CODGroup)
	}
	if view.TopN < 0 {
		return view, fmt.Errorf("top_n must not be negative")
	}
	view.Factor, view.Period, view.CODGroup = factor, period, group
	return view, nil
}

// Reset clears every criterion.
func (c *Controller) Reset() {
	c.SetCriteria(domain.Criteria{})
}

// Snapshot returns the most recently published snapshot.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Subscribe registers fn and immediately delivers the current snapshot if
// one has been published. fn runs on the publishing goroutine and must not
// call back into the controller.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	snap := c.current
	c.notifyMu.Lock()
	c.mu.Unlock()
	if snap.Seq > 0 {
		fn(snap)
	}
	c.notifyMu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Query evaluates criteria, level and view against the loaded dataset
// without touching controller state. An empty level or a zero view falls
// back to the controller's own. The result carries the current Seq.
func (c *Controller) Query(criteria domain.Criteria, level domain.Level, view domain.View) Snapshot {
	c.mu.Lock()
	in := c.inputLocked()
	seq := c.seq
	c.mu.Unlock()

	in.criteria = criteria
	if level != "" {
		in.level = level
	}
	if view != (domain.View{}) {
		in.view = view
	}
	snap, _ := evaluate(in, c.opts)
	snap.Seq = seq
	return snap
}

// BeginFetch cancels any fetch still in flight and returns a ticket plus a
// context that is cancelled when a newer fetch begins.
func (c *Controller) BeginFetch(ctx context.Context) (FetchTicket, context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelFetch != nil {
		c.cancelFetch()
	}
	c.fetchSeq++
	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancelFetch = cancel
	return FetchTicket{Seq: c.fetchSeq}, fetchCtx
}

// CompleteFetch loads ds if ticket is still the latest fetch. A superseded
// result is dropped and counted.
func (c *Controller) CompleteFetch(ticket FetchTicket, ds domain.Dataset) bool {
	c.mu.Lock()
	if ticket.Seq != c.fetchSeq {
		c.mu.Unlock()
		c.countStale(ticket)
		return false
	}
	c.releaseFetchLocked()
	c.loadLocked(ds)
	c.publishLocked("fetch")
	return true
}

// AbortFetch releases the context of a fetch that failed and reports
// whether ticket was still current. A failed fetch whose ticket was
// superseded, typically because BeginFetch cancelled it, counts as stale.
func (c *Controller) AbortFetch(ticket FetchTicket) bool {
	c.mu.Lock()
	if ticket.Seq == c.fetchSeq {
		c.releaseFetchLocked()
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()
	c.countStale(ticket)
	return false
}

func (c *Controller) countStale(ticket FetchTicket) {
	c.mu.Lock()
	c.stale++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.IncStaleFetch()
	}
	c.logger.Infof("dashboard fetch dropped stale=true ticket=%d", ticket.Seq)
}

func (c *Controller) releaseFetchLocked() {
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
}

// StaleFetches reports how many fetch results were dropped.
func (c *Controller) StaleFetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

func (c *Controller) inputLocked() input {
	causes := c.allCauses
	if len(causes) == 0 {
		causes = c.store.Causes()
	}
	return input{
		all:       c.store.All(),
		uncoded:   c.uncoded,
		stats:     c.stats,
		allCauses: causes,
		regions:   c.store.Regions(),
		features:  c.features,
		criteria:  c.criteria,
		level:     c.level,
		view:      c.view,
	}
}

// publishLocked recomputes, installs the new active flags and delivers one
// snapshot to every subscriber. It must be called with mu held and
// returns with mu released.
func (c *Controller) publishLocked(reason string) {
	start := time.Now()
	snap, filtered := evaluate(c.inputLocked(), c.opts)
	c.store.Replace(filtered)
	c.seq++
	snap.Seq = c.seq
	c.current = snap

	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	if c.metrics != nil {
		c.metrics.ObserveRecompute(start, snap.TotalVAs, snap.ActiveVAs)
	}
	c.logger.Debugf("dashboard publish reason=%s seq=%d active=%d total=%d", reason, snap.Seq, snap.ActiveVAs, snap.TotalVAs)

	for _, fn := range subs {
		fn(snap)
	}
}
