package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"followme.ai/internal/persistence/indexdb"
	"followme.ai/internal/protocol"
	"followme.ai/internal/sim/driver"
	"followme.ai/internal/transport/natsbus"
)

// sinkSet collects the run's sinks and closes them in reverse order.
type sinkSet struct {
	sinks   []driver.RoundSink
	closers []func() error

	index    *indexdb.SQLiteIndex
	progress progress
}

func (s *sinkSet) add(sink driver.RoundSink, closer func() error) {
	s.sinks = append(s.sinks, sink)
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
}

func (s *sinkSet) list() []driver.RoundSink {
	return append([]driver.RoundSink{&s.progress}, s.sinks...)
}

func (s *sinkSet) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// openIndex adds the sqlite run index unless disabled by flag or by
// SWARMSIM_INDEX_BACKEND=none.
func openIndex(s *sinkSet, o options) error {
	if o.disableDB {
		return nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("SWARMSIM_INDEX_BACKEND")))
	switch backend {
	case "", "sqlite":
	case "none", "off", "disabled":
		return nil
	default:
		return fmt.Errorf("unsupported SWARMSIM_INDEX_BACKEND: %s", backend)
	}
	idx, err := indexdb.OpenSQLite(filepath.Join(o.dataDir, "index.db"))
	if err != nil {
		return err
	}
	s.index = idx
	s.add(idx, idx.Close)
	return nil
}

// openBus adds a NATS publisher. "embedded" starts an in-process server on a random
// local port, which is mostly useful for trying the wiring out.
func openBus(s *sinkSet, o options, logger *slog.Logger) error {
	url := strings.TrimSpace(o.natsURL)
	if url == "" {
		return nil
	}
	if url == "embedded" {
		bus, err := natsbus.New(natsbus.BusConfig{})
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func() error { bus.Close(); return nil })
		url = bus.ClientURL()
		logger.Info("embedded nats started", "url", url)
	}
	c, err := natsbus.NewClientFromURL(url)
	if err != nil {
		return err
	}
	s.add(natsbus.NewPublisher(c), func() error { c.Close(); return nil })
	return nil
}

// progress tracks the run for /metrics; the driver writes it, HTTP handlers read it.
type progress struct {
	round  atomic.Uint64
	faults atomic.Uint64
	done   atomic.Bool
}

func (p *progress) Begin(protocol.RunHeader) error { return nil }

func (p *progress) Round(m protocol.RoundMsg) error {
	p.round.Store(m.Round)
	p.faults.Add(uint64(len(m.Errors)))
	return nil
}

func (p *progress) End(protocol.DoneMsg) error {
	p.done.Store(true)
	return nil
}
