package metrics

import "github.com/prometheus/client_golang/prometheus"

// Display holds the collectors of the display orchestrator.
type Display struct {
	reconcileTotal  prometheus.Counter
	reconcileErrors prometheus.Counter
	discoveredTotal prometheus.Counter
	playbackStarts  prometheus.Counter
	playbackErrors  prometheus.Counter
	refillsTotal    prometheus.Counter
	queueLength     prometheus.Gauge
	librarySize     prometheus.Gauge
	schedulerState  *prometheus.GaugeVec
	stateNames      []string
}

// NewDisplay registers the display collectors on m's registry. states lists
// every scheduler state name; exactly one of them reads 1 at a time.
func NewDisplay(m *Metrics, states []string) *Display {
	d := &Display{
		reconcileTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecast_display_reconcile_total",
			Help: "Reconcile passes attempted",
		}),
		reconcileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecast_display_reconcile_errors_total",
			Help: "Reconcile passes that could not fetch the playlist",
		}),
		discoveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecast_display_records_discovered_total",
			Help: "Records added to the library by reconcile",
		}),
		playbackStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecast_display_playback_starts_total",
			Help: "Items handed to the playback surface",
		}),
		playbackErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecast_display_playback_errors_total",
			Help: "Items that ended with a playback error",
		}),
		refillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framecast_display_refills_total",
			Help: "Shuffled refills of the queue from the library",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "framecast_display_queue_length",
			Help: "Items waiting in the playback queue",
		}),
		librarySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "framecast_display_library_size",
			Help: "Distinct records seen by this display",
		}),
		schedulerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "framecast_display_state",
			Help: "Current scheduler state (1 for the active state)",
		}, []string{"state"}),
		stateNames: states,
	}

	m.Registry().MustRegister(
		d.reconcileTotal,
		d.reconcileErrors,
		d.discoveredTotal,
		d.playbackStarts,
		d.playbackErrors,
		d.refillsTotal,
		d.queueLength,
		d.librarySize,
		d.schedulerState,
	)
	return d
}

// ObserveReconcile records one reconcile pass.
func (d *Display) ObserveReconcile(discovered int, err error) {
	d.reconcileTotal.Inc()
	if err != nil {
		d.reconcileErrors.Inc()
		return
	}
	d.discoveredTotal.Add(float64(discovered))
}

// IncPlaybackStarts increments the playback starts counter.
func (d *Display) IncPlaybackStarts() {
	d.playbackStarts.Inc()
}

// IncPlaybackErrors increments the playback errors counter.
func (d *Display) IncPlaybackErrors() {
	d.playbackErrors.Inc()
}

// IncRefills increments the refill counter.
func (d *Display) IncRefills() {
	d.refillsTotal.Inc()
}

// SetSnapshot refreshes the queue, library and state gauges.
func (d *Display) SetSnapshot(queueLen, librarySize int, state string) {
	d.queueLength.Set(float64(queueLen))
	d.librarySize.Set(float64(librarySize))
	for _, s := range d.stateNames {
		v := 0.0
		if s == state {
			v = 1
		}
		d.schedulerState.WithLabelValues(s).Set(v)
	}
}
