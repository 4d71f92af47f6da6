/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_sync/internal/arr"
	"github.com/friendsincode/skuld_sync/internal/catalog"
	"github.com/friendsincode/skuld_sync/internal/events"
)

// pingClient answers Ping and nothing else.
type pingClient struct {
	inst    catalog.Instance
	status  arr.ServerStatus
	pingErr error
}

func (c *pingClient) Instance() catalog.Instance { return c.inst }
func (c *pingClient) Ping(ctx context.Context) (arr.ServerStatus, error) {
	return c.status, c.pingErr
}
func (c *pingClient) FetchCatalog(ctx context.Context) ([]catalog.Item, error) { return nil, nil }
func (c *pingClient) ServerDefaults(ctx context.Context) (arr.Defaults, error) {
	return arr.Defaults{}, nil
}
func (c *pingClient) CreateItem(ctx context.Context, item catalog.Item, defaults arr.Defaults) error {
	return nil
}
func (c *pingClient) DeleteItem(ctx context.Context, internalID int64) error { return nil }
func (c *pingClient) FetchHistory(ctx context.Context, mediaID int64) ([]arr.HistoryEvent, error) {
	return nil, nil
}
func (c *pingClient) FetchIndexers(ctx context.Context) ([]arr.Indexer, error) { return nil, nil }
func (c *pingClient) HasFile(ctx context.Context, mediaID int64) (bool, error) { return false, nil }
func (c *pingClient) PushRelease(ctx context.Context, guid string, indexerID int64, title string) error {
	return nil
}

func testMonitor(t *testing.T, clients map[string]*pingClient) (*Monitor, *events.Bus) {
	t.Helper()
	instances := make([]catalog.Instance, 0, len(clients))
	for name, c := range clients {
		inst := catalog.Instance{Name: name, URL: "http://" + name, APIKey: "k", Kind: catalog.KindRadarr}
		c.inst = inst
		instances = append(instances, inst)
	}
	bus := events.NewBus()
	factory := func(inst catalog.Instance) (arr.Client, error) {
		return clients[inst.Name], nil
	}
	return NewMonitor(instances, factory, bus, time.Minute, zerolog.Nop()), bus
}

func TestProbeRecordsVersionAndHealth(t *testing.T) {
	clients := map[string]*pingClient{
		"movies": {status: arr.ServerStatus{AppName: "Radarr", Version: "5.2.0"}},
	}
	m, _ := testMonitor(t, clients)

	m.probeAll(context.Background())

	statuses := m.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	st := statuses[0]
	if !st.Healthy {
		t.Fatalf("expected healthy, got %+v", st)
	}
	if st.Version != "5.2.0" {
		t.Fatalf("unexpected version: %q", st.Version)
	}
	if st.LastChecked.IsZero() {
		t.Fatal("expected LastChecked to be set")
	}
}

func TestProbePublishesDownAndRecovered(t *testing.T) {
	clients := map[string]*pingClient{
		"movies": {pingErr: errors.New("connection refused")},
	}
	m, bus := testMonitor(t, clients)
	down := bus.Subscribe(events.EventInstanceDown)
	recovered := bus.Subscribe(events.EventInstanceRecovered)

	m.probeAll(context.Background())

	select {
	case payload := <-down:
		if payload["instance"] != "movies" {
			t.Fatalf("unexpected down payload: %v", payload)
		}
	default:
		t.Fatal("expected an instance.down event")
	}

	// Still down: no second down event, fail counter climbs.
	m.probeAll(context.Background())
	select {
	case <-down:
		t.Fatal("expected no repeated instance.down event")
	default:
	}
	if st := m.Statuses()[0]; st.ConsecutiveFails != 2 {
		t.Fatalf("expected 2 consecutive fails, got %d", st.ConsecutiveFails)
	}

	clients["movies"].pingErr = nil
	clients["movies"].status = arr.ServerStatus{Version: "5.2.0"}
	m.probeAll(context.Background())

	select {
	case payload := <-recovered:
		if payload["instance"] != "movies" {
			t.Fatalf("unexpected recovery payload: %v", payload)
		}
	default:
		t.Fatal("expected an instance.recovered event")
	}
	if st := m.Statuses()[0]; !st.Healthy || st.ConsecutiveFails != 0 || st.LastError != "" {
		t.Fatalf("expected a clean recovered status, got %+v", st)
	}
}

func TestStatusesSortedByName(t *testing.T) {
	clients := map[string]*pingClient{
		"tv":     {},
		"movies": {},
		"anime":  {},
	}
	m, _ := testMonitor(t, clients)
	m.probeAll(context.Background())

	statuses := m.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if statuses[0].Instance != "anime" || statuses[1].Instance != "movies" || statuses[2].Instance != "tv" {
		t.Fatalf("unexpected order: %s, %s, %s", statuses[0].Instance, statuses[1].Instance, statuses[2].Instance)
	}
}
