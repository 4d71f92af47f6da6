/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package health probes configured instances in the background so the
// ops API can report which servers are reachable before a scheduled
// task trips over a dead one.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_sync/internal/arr"
	"github.com/friendsincode/skuld_sync/internal/catalog"
	"github.com/friendsincode/skuld_sync/internal/events"
	"github.com/friendsincode/skuld_sync/internal/telemetry"
)

const probeTimeout = 10 * time.Second

// ClientFactory builds the API client used to probe an instance.
type ClientFactory func(catalog.Instance) (arr.Client, error)

// Status is the latest probe result for one instance.
type Status struct {
	Instance         string       `json:"instance"`
	Kind             catalog.Kind `json:"kind"`
	URL              string       `json:"url"`
	Healthy          bool         `json:"healthy"`
	Version          string       `json:"version,omitempty"`
	LastChecked      time.Time    `json:"last_checked"`
	LastError        string       `json:"last_error,omitempty"`
	ConsecutiveFails int          `json:"consecutive_fails,omitempty"`
}

// Monitor runs periodic health checks against every configured instance.
type Monitor struct {
	instances []catalog.Instance
	clients   ClientFactory
	bus       *events.Bus
	interval  time.Duration
	logger    zerolog.Logger

	mu       sync.RWMutex
	statuses map[string]*Status
}

// NewMonitor creates a monitor for the given instances.
func NewMonitor(instances []catalog.Instance, clients ClientFactory, bus *events.Bus, interval time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	m := &Monitor{
		instances: instances,
		clients:   clients,
		bus:       bus,
		interval:  interval,
		logger:    logger.With().Str("component", "health").Logger(),
		statuses:  make(map[string]*Status, len(instances)),
	}
	for _, inst := range instances {
		m.statuses[inst.Name] = &Status{Instance: inst.Name, Kind: inst.Kind, URL: inst.URL}
	}
	return m
}

// Run probes every instance immediately, then on each tick until the
// context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Debug().Int("instances", len(m.instances)).Dur("interval", m.interval).Msg("health monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug().Msg("health monitor stopped")
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	for _, inst := range m.instances {
		if ctx.Err() != nil {
			return
		}
		m.probe(ctx, inst)
	}
}

func (m *Monitor) probe(ctx context.Context, inst catalog.Instance) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var (
		status arr.ServerStatus
		err    error
	)
	client, err := m.clients(inst)
	if err == nil {
		start := time.Now()
		status, err = client.Ping(probeCtx)
		telemetry.InstancePingDuration.WithLabelValues(inst.Name).Observe(time.Since(start).Seconds())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.statuses[inst.Name]
	firstCheck := st.LastChecked.IsZero()
	wasHealthy := st.Healthy
	st.LastChecked = time.Now()

	if err != nil {
		st.Healthy = false
		st.LastError = err.Error()
		st.ConsecutiveFails++
		telemetry.InstanceUp.WithLabelValues(inst.Name).Set(0)

		m.logger.Warn().
			Err(err).
			Str("instance", inst.Name).
			Str("url", inst.URL).
			Int("consecutive_fails", st.ConsecutiveFails).
			Msg("instance health check failed")

		if wasHealthy || firstCheck {
			m.bus.Publish(events.EventInstanceDown, events.Payload{
				"instance": inst.Name,
				"error":    err.Error(),
			})
		}
		return
	}

	st.Healthy = true
	st.LastError = ""
	st.ConsecutiveFails = 0
	st.Version = status.Version
	telemetry.InstanceUp.WithLabelValues(inst.Name).Set(1)

	if !wasHealthy && !firstCheck {
		m.logger.Info().Str("instance", inst.Name).Msg("instance recovered")
		m.bus.Publish(events.EventInstanceRecovered, events.Payload{
			"instance": inst.Name,
		})
	}
}

// Statuses returns a snapshot of every instance's latest probe result,
// sorted by instance name.
func (m *Monitor) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}
