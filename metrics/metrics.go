// Package metrics exposes Prometheus counters and gauges for the
// interpreter's event loop (expansion over spec.md §4.4/§4.3, whose
// "used only for diagnostics" return codes are otherwise invisible
// outside the process). Grounded on
// quadgatefoundation-fluxor/pkg/observability/prometheus/metrics.go's
// promauto-registered collection shape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/orkestr8/statemachine"
	"github.com/orkestr8/statemachine/runtime"
)

// Recorder holds the machine's Prometheus collectors.
type Recorder struct {
	TransitionsTotal    *prometheus.CounterVec
	GuardEvalsTotal     *prometheus.CounterVec
	TimerExpirations    prometheus.Counter
	VariableNotifies    prometheus.Counter
	CurrentStateInfo    *prometheus.GaugeVec
}

// NewRecorder registers a fresh collection against registerer. Pass
// prometheus.DefaultRegisterer to wire into the global registry that
// promhttp.Handler() serves.
func NewRecorder(registerer prometheus.Registerer, machine string) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{"machine": machine}
	reg := prometheus.WrapRegistererWith(labels, registerer)

	return &Recorder{
		TransitionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "statemachine_transitions_total",
				Help: "Events dispatched, by originating state and handle result (result \"ok\" means a transition fired).",
			},
			[]string{"from", "result"},
		),
		GuardEvalsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "statemachine_guard_evaluations_total",
				Help: "Dispatched events that matched at least one guard and so reached guard evaluation, by originating state.",
			},
			[]string{"from"},
		),
		TimerExpirations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "statemachine_timer_expirations_total",
				Help: "Timer expirations dispatched to the event loop.",
			},
		),
		VariableNotifies: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "statemachine_variable_notifications_total",
				Help: "Variable-modification notifications dispatched to the event loop.",
			},
		),
		CurrentStateInfo: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "statemachine_current_state",
				Help: "1 for the state the machine currently occupies, 0 otherwise.",
			},
			[]string{"state"},
		),
	}
}

// Observe wires the recorder into a runtime.Loop's result callback. Call
// before Loop.Run.
func (r *Recorder) Observe(l *runtime.Loop, def *statemachine.Definition) {
	for _, s := range def.States() {
		r.CurrentStateInfo.WithLabelValues(s.ID).Set(0)
	}
	if init, ok := def.State(statemachine.InitStateID); ok {
		r.CurrentStateInfo.WithLabelValues(init.ID).Set(1)
	}

	l.OnResult(func(from string, kind statemachine.EventKind, id int, result runtime.Result, to string) {
		r.TransitionsTotal.WithLabelValues(from, result.String()).Inc()
		if result != runtime.ResultEventNotInGuard {
			r.GuardEvalsTotal.WithLabelValues(from).Inc()
		}
		switch kind {
		case statemachine.EventTimer:
			r.TimerExpirations.Inc()
		case statemachine.EventVariable:
			r.VariableNotifies.Inc()
		}
		if result == runtime.ResultOK && to != "" && to != from {
			r.CurrentStateInfo.WithLabelValues(from).Set(0)
			r.CurrentStateInfo.WithLabelValues(to).Set(1)
		}
	})
}
