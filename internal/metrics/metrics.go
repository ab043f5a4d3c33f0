// Package metrics exports modem state as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modemd/internal/journal"
	"github.com/modemd/internal/mm"
)

const namespace = "modemd"

// Metrics holds the collectors fed from modem events.
type Metrics struct {
	registry *prometheus.Registry

	state         *prometheus.GaugeVec
	registration  *prometheus.GaugeVec
	signal        *prometheus.GaugeVec
	signalRecent  *prometheus.GaugeVec
	bearers       *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
	events        *prometheus.CounterVec
	bearerChanges *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modem_state",
			Help:      "Current modem state as its numeric value (failed=-1 ... connected=11).",
		}, []string{"modem"}),
		registration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modem_registered",
			Help:      "1 when the modem is registered on its home network or roaming.",
		}, []string{"modem", "registration"}),
		signal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modem_signal_quality_percent",
			Help:      "Last signal quality reading.",
		}, []string{"modem"}),
		signalRecent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modem_signal_quality_recent",
			Help:      "1 while the signal quality reading is fresh.",
		}, []string{"modem"}),
		bearers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modem_bearers",
			Help:      "Bearers per connection status.",
		}, []string{"modem", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modem_state_transitions_total",
			Help:      "State transitions by target state.",
		}, []string{"modem", "state"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modem_events_total",
			Help:      "Modem events by type.",
		}, []string{"modem", "type"}),
		bearerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bearer_status_changes_total",
			Help:      "Bearer status changes by new status.",
		}, []string{"modem", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.state, m.registration, m.signal, m.signalRecent, m.bearers,
		m.transitions, m.events, m.bearerChanges,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Attach seeds the gauges from the current modem status and keeps them
// updated until the returned function is called.
func (m *Metrics) Attach(modem *mm.Modem) func() {
	id := modem.ID()
	st := modem.Status()
	m.state.WithLabelValues(id).Set(float64(st.State))
	m.setRegistration(id, st.Registration)
	m.setSignal(id, st.SignalQuality)
	m.refreshBearers(id, modem)

	cancel := modem.Subscribe(func(ev mm.Event) { m.observe(modem, ev) })
	return func() {
		cancel()
		m.Forget(id)
	}
}

// Forget drops every series of a modem.
func (m *Metrics) Forget(id string) {
	labels := prometheus.Labels{"modem": id}
	m.state.DeletePartialMatch(labels)
	m.registration.DeletePartialMatch(labels)
	m.signal.DeletePartialMatch(labels)
	m.signalRecent.DeletePartialMatch(labels)
	m.bearers.DeletePartialMatch(labels)
	m.transitions.DeletePartialMatch(labels)
	m.events.DeletePartialMatch(labels)
	m.bearerChanges.DeletePartialMatch(labels)
}

func (m *Metrics) observe(modem *mm.Modem, ev mm.Event) {
	id := ev.ModemID
	m.events.WithLabelValues(id, ev.Type.String()).Inc()

	switch ev.Type {
	case mm.EventStateChanged:
		m.state.WithLabelValues(id).Set(float64(ev.NewState))
		m.transitions.WithLabelValues(id, ev.NewState.String()).Inc()
	case mm.EventRegistrationChanged:
		m.setRegistration(id, ev.Registration)
	case mm.EventSignalQualityChanged:
		if ev.Signal != nil {
			m.setSignal(id, *ev.Signal)
		}
	case mm.EventBearerStatusChanged:
		m.bearerChanges.WithLabelValues(id, ev.BearerStatus.String()).Inc()
		m.refreshBearers(id, modem)
	case mm.EventBearerAdded, mm.EventBearerRemoved:
		m.refreshBearers(id, modem)
	}
}

func (m *Metrics) setRegistration(id string, reg mm.RegistrationState) {
	m.registration.DeletePartialMatch(prometheus.Labels{"modem": id})
	v := 0.0
	if reg == mm.RegistrationHome || reg == mm.RegistrationRoaming {
		v = 1
	}
	m.registration.WithLabelValues(id, reg.String()).Set(v)
}

func (m *Metrics) setSignal(id string, q mm.SignalQuality) {
	m.signal.WithLabelValues(id).Set(float64(q.Value))
	recent := 0.0
	if q.Recent {
		recent = 1
	}
	m.signalRecent.WithLabelValues(id).Set(recent)
}

var bearerStatuses = []mm.BearerStatus{
	mm.BearerDisconnected, mm.BearerDisconnecting, mm.BearerConnecting, mm.BearerConnected,
}

func (m *Metrics) refreshBearers(id string, modem *mm.Modem) {
	counts := make(map[mm.BearerStatus]int)
	for _, b := range modem.ListBearers() {
		counts[b.Status]++
	}
	for _, s := range bearerStatuses {
		m.bearers.WithLabelValues(id, s.String()).Set(float64(counts[s]))
	}
}

// RegisterJournal exports journal activity.
func (m *Metrics) RegisterJournal(j *journal.Journal) error {
	stat := func(name, help string, value func(journal.Stats) uint64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(j.Stats())) })
	}
	for _, c := range []prometheus.Collector{
		stat("recorded", "Events recorded since start.", func(s journal.Stats) uint64 { return s.Recorded }),
		stat("trimmed", "Events dropped to stay within the per-modem limit.", func(s journal.Stats) uint64 { return s.Trimmed }),
		stat("failed", "Events that could not be recorded.", func(s journal.Stats) uint64 { return s.Failed }),
		stat("entries", "Events currently held.", func(s journal.Stats) uint64 { return s.Entries }),
	} {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
