// Copyright 2025 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package metrics

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRegistry holds every metric created through this package. Expose it
// with promhttp.HandlerFor when an HTTP endpoint is wanted.
var DefaultRegistry = prometheus.NewRegistry()

var defaultSet = &set{metrics: map[string]prometheus.Collector{}}

type set struct {
	mu      sync.Mutex
	metrics map[string]prometheus.Collector
}

// GetOrCreateCounter returns registered counter with the given name
// or creates new counter if the registry doesn't contain counter with
// the given name.
//
// name must be valid Prometheus-compatible metric with possible labels.
// For instance,
//
//   - foo
//   - foo{bar="baz"}
//   - foo{bar="baz",aaa="b"}
//
// The returned counter is safe to use from concurrent goroutines.
func GetOrCreateCounter(name string) Counter {
	c, err := defaultSet.getOrCreate(name, func(opts prometheus.Opts) prometheus.Collector {
		return prometheus.NewCounter(prometheus.CounterOpts(opts))
	})
	if err != nil {
		panic(fmt.Errorf("could not get or create new counter: %w", err))
	}
	pc, ok := c.(prometheus.Counter)
	if !ok {
		panic(fmt.Errorf("metric %q is not a counter", name))
	}
	return &counter{pc}
}

// GetOrCreateGauge returns registered gauge with the given name
// or creates new gauge if the registry doesn't contain gauge with
// the given name.
//
// The returned gauge is safe to use from concurrent goroutines.
func GetOrCreateGauge(name string) Gauge {
	g, err := defaultSet.getOrCreate(name, func(opts prometheus.Opts) prometheus.Collector {
		return prometheus.NewGauge(prometheus.GaugeOpts(opts))
	})
	if err != nil {
		panic(fmt.Errorf("could not get or create new gauge: %w", err))
	}
	pg, ok := g.(prometheus.Gauge)
	if !ok {
		panic(fmt.Errorf("metric %q is not a gauge", name))
	}
	return &gauge{pg}
}

func (s *set) getOrCreate(name string, newFn func(prometheus.Opts) prometheus.Collector) (prometheus.Collector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.metrics[name]; ok {
		return c, nil
	}
	opts, err := parseMetric(name)
	if err != nil {
		return nil, err
	}
	c := newFn(opts)
	if err := DefaultRegistry.Register(c); err != nil {
		return nil, err
	}
	s.metrics[name] = c
	return c, nil
}

// parseMetric splits `foo{bar="baz",aaa="b"}` into a metric name and its
// constant labels.
func parseMetric(s string) (prometheus.Opts, error) {
	var opts prometheus.Opts
	i := strings.IndexByte(s, '{')
	if i < 0 {
		opts.Name, opts.Help = s, s
		return opts, nil
	}
	if !strings.HasSuffix(s, "}") {
		return opts, fmt.Errorf("missing closing brace in %q", s)
	}
	opts.Name, opts.Help = s[:i], s[:i]
	opts.ConstLabels = prometheus.Labels{}
	for _, pair := range strings.Split(s[i+1:len(s)-1], ",") {
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return opts, fmt.Errorf("malformed label %q in %q", pair, s)
		}
		opts.ConstLabels[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return opts, nil
}
