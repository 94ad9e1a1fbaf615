// Logic related to expvar handling: reporting live stats such as session and
// topic counts. The stats updates happen in a separate go routine to avoid
// locking on main logic routines. A small Prometheus bridge exposes the same
// counters for scraping.

package main

import (
	"expvar"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaypad/relaypad/server/logs"
)

type varUpdate struct {
	// Name of the variable to update.
	varname string
	// Integer value to publish.
	count int64
	// Treat the count as an increment as opposite to the final value.
	inc bool
}

// Initialize stats reporting through expvar.
func statsInit(mux *http.ServeMux, path string) {
	if path == "" || path == "-" {
		return
	}

	mux.Handle(path, expvar.Handler())
	globals.statsUpdate = make(chan *varUpdate, 1024)

	start := time.Now()
	expvar.Publish("Uptime", expvar.Func(func() any {
		return time.Since(start).Seconds()
	}))
	expvar.Publish("NumGoroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	go statsUpdater()

	logs.Info.Printf("stats: variables exposed at '%s'", path)
}

// Initialize the Prometheus bridge: gauges mirroring the expvar counters,
// served at the given path.
func statsInitPrometheus(mux *http.ServeMux, path string) {
	if path == "" || path == "-" {
		return
	}

	promVars := map[string]string{
		"relaypad_live_topics":    "LiveTopics",
		"relaypad_total_topics":   "TotalTopics",
		"relaypad_live_sessions":  "LiveSessions",
		"relaypad_incoming_total": "IncomingMessagesWebsockTotal",
		"relaypad_outgoing_total": "OutgoingMessagesWebsockTotal",
		"relaypad_dropped_total":  "DroppedMessagesTotal",
		"relaypad_evicted_total":  "EvictedSessionsTotal",
	}
	for promName, varname := range promVars {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: promName},
			expvarIntReader(varname)))
	}
	mux.Handle(path, promhttp.Handler())

	logs.Info.Printf("stats: prometheus metrics exposed at '%s'", path)
}

func expvarIntReader(varname string) func() float64 {
	return func() float64 {
		if ev, ok := expvar.Get(varname).(*expvar.Int); ok {
			return float64(ev.Value())
		}
		return 0
	}
}

// Register integer variable. Repeated registration is a no-op so tests may
// construct more than one hub per process.
func statsRegisterInt(name string) {
	if expvar.Get(name) == nil {
		expvar.Publish(name, new(expvar.Int))
	}
}

// Async publish int variable.
func statsSet(name string, val int64) {
	if globals.statsUpdate != nil {
		select {
		case globals.statsUpdate <- &varUpdate{name, val, false}:
		default:
		}
	}
}

// Async publish an increment (decrement) to int variable.
func statsInc(name string, val int) {
	if globals.statsUpdate != nil {
		select {
		case globals.statsUpdate <- &varUpdate{name, int64(val), true}:
		default:
		}
	}
}

// Stop publishing stats.
func statsShutdown() {
	if globals.statsUpdate != nil {
		globals.statsUpdate <- nil
	}
}

// The go routine which actually publishes stats updates.
func statsUpdater() {
	for upd := range globals.statsUpdate {
		if upd == nil {
			globals.statsUpdate = nil
			// Don't care to close the channel.
			break
		}

		// Handle var update
		if ev := expvar.Get(upd.varname); ev != nil {
			// Intentional panic if the ev is not *expvar.Int.
			intvar := ev.(*expvar.Int)
			if upd.inc {
				intvar.Add(upd.count)
			} else {
				intvar.Set(upd.count)
			}
		} else {
			panic("stats: update to unknown variable " + upd.varname)
		}
	}

	logs.Info.Println("stats: shutdown")
}
