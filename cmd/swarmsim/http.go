package main

import (
	"fmt"
	"net/http"

	"followme.ai/internal/sim/driver"
	"followme.ai/internal/transport/observer"
)

func newMux(obs *observer.Server, d *driver.Driver, sinks *sinkSet) *http.ServeMux {
	runID := d.Header().RunID
	mux := http.NewServeMux()
	mux.Handle("/observer/", obs.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		p := &sinks.progress

		fmt.Fprintf(rw, "# HELP swarmsim_round Last reported round.\n")
		fmt.Fprintf(rw, "# TYPE swarmsim_round gauge\n")
		fmt.Fprintf(rw, "swarmsim_round{run=%q} %d\n", runID, p.round.Load())

		fmt.Fprintf(rw, "# HELP swarmsim_faults_total Agent execution errors reported so far.\n")
		fmt.Fprintf(rw, "# TYPE swarmsim_faults_total counter\n")
		fmt.Fprintf(rw, "swarmsim_faults_total{run=%q} %d\n", runID, p.faults.Load())

		done := 0
		if p.done.Load() {
			done = 1
		}
		fmt.Fprintf(rw, "# HELP swarmsim_finished Whether the run has finished.\n")
		fmt.Fprintf(rw, "# TYPE swarmsim_finished gauge\n")
		fmt.Fprintf(rw, "swarmsim_finished{run=%q} %d\n", runID, done)

		fmt.Fprintf(rw, "# HELP swarmsim_observer_sessions Connected observer sessions.\n")
		fmt.Fprintf(rw, "# TYPE swarmsim_observer_sessions gauge\n")
		fmt.Fprintf(rw, "swarmsim_observer_sessions %d\n", obs.Sessions())

		fmt.Fprintf(rw, "# HELP swarmsim_observer_dropped_total Rounds dropped for slow observers.\n")
		fmt.Fprintf(rw, "# TYPE swarmsim_observer_dropped_total counter\n")
		fmt.Fprintf(rw, "swarmsim_observer_dropped_total %d\n", obs.Dropped())

		if sinks.index != nil {
			st := sinks.index.Stats()
			fmt.Fprintf(rw, "# HELP swarmsim_index_queue_depth Pending index writes.\n")
			fmt.Fprintf(rw, "# TYPE swarmsim_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "swarmsim_index_queue_depth %d\n", st.QueueDepth)
			fmt.Fprintf(rw, "# HELP swarmsim_index_dropped_total Index writes dropped on a full queue.\n")
			fmt.Fprintf(rw, "# TYPE swarmsim_index_dropped_total counter\n")
			fmt.Fprintf(rw, "swarmsim_index_dropped_total{kind=%q} %d\n", "run", st.DropRunTotal)
			fmt.Fprintf(rw, "swarmsim_index_dropped_total{kind=%q} %d\n", "round", st.DropRoundTotal)
			fmt.Fprintf(rw, "swarmsim_index_dropped_total{kind=%q} %d\n", "done", st.DropDoneTotal)
		}
	})
	return mux
}
