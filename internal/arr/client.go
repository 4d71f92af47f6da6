/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package arr talks to Radarr and Sonarr over their v3 HTTP APIs. Both
// speak the same dialect for everything this project needs, so a single
// request core serves two thin, kind-specific adapters.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_sync/internal/catalog"
)

const (
	// statusTimeout bounds the liveness probe; a healthy server answers
	// system/status in well under a second.
	statusTimeout = 10 * time.Second

	// requestTimeout bounds everything else, including full catalog
	// listings which can run to tens of thousands of items.
	requestTimeout = 30 * time.Second

	maxResponseBytes = 64 << 20
)

// ServerStatus is the subset of system/status worth keeping.
type ServerStatus struct {
	AppName string `json:"appName"`
	Version string `json:"version"`
}

// Defaults are the destination-side settings resolved immediately before
// items are created: the first configured quality profile and root folder.
type Defaults struct {
	QualityProfileID int64
	RootFolder       string
}

// Indexer is a release indexer configured on the server, keyed by the
// server-local id that release pushes must reference.
type Indexer struct {
	ID   int64
	Name string
}

// HistoryEvent is one grab or import recorded by the server.
type HistoryEvent struct {
	EventID        int64
	MediaID        int64
	EventType      string
	SourceTitle    string
	Indexer        string
	DownloadClient string
	GUID           string
	InfoHash       string
	DownloadID     string
	OccurredAt     time.Time
}

// Client is the capability surface one catalog server exposes to the
// reconciler. Implementations are safe for concurrent use.
type Client interface {
	// Instance returns the configuration this client was built from.
	Instance() catalog.Instance

	// Ping probes system/status and fails fast when the server is down
	// or the API key is rejected.
	Ping(ctx context.Context) (ServerStatus, error)

	// FetchCatalog lists every item in the server's library.
	FetchCatalog(ctx context.Context) ([]catalog.Item, error)

	// ServerDefaults resolves the creation defaults. A server without a
	// root folder cannot accept new items, so that case is an error.
	ServerDefaults(ctx context.Context) (Defaults, error)

	// CreateItem adds one item using the given defaults. Returns
	// ErrConflict when the item already exists.
	CreateItem(ctx context.Context, item catalog.Item, defaults Defaults) error

	// DeleteItem removes the item with the given server-local id,
	// keeping files on disk.
	DeleteItem(ctx context.Context, internalID int64) error

	// FetchHistory lists grab and import events for one library item.
	FetchHistory(ctx context.Context, mediaID int64) ([]HistoryEvent, error)

	// FetchIndexers lists the release indexers configured on the server.
	FetchIndexers(ctx context.Context) ([]Indexer, error)

	// HasFile reports whether the library item already has a file on disk.
	HasFile(ctx context.Context, mediaID int64) (bool, error)

	// PushRelease asks the server to grab a specific release again.
	PushRelease(ctx context.Context, guid string, indexerID int64, title string) error
}

// NewClient builds the adapter matching the instance's kind.
func NewClient(inst catalog.Instance, logger zerolog.Logger) (Client, error) {
	if inst.URL == "" {
		return nil, fmt.Errorf("instance %q has no URL", inst.Name)
	}
	if inst.APIKey == "" {
		return nil, fmt.Errorf("instance %q has no API key", inst.Name)
	}

	base := &httpClient{
		inst:   inst,
		client: &http.Client{},
		logger: logger.With().Str("component", "arr").Str("instance", inst.Name).Logger(),
	}

	switch inst.Kind {
	case catalog.KindRadarr:
		return &radarrClient{httpClient: base}, nil
	case catalog.KindSonarr:
		return &sonarrClient{httpClient: base}, nil
	default:
		return nil, fmt.Errorf("unsupported server kind %q", inst.Kind)
	}
}

// httpClient carries the request plumbing shared by both adapters.
type httpClient struct {
	inst   catalog.Instance
	client *http.Client
	logger zerolog.Logger
}

func (c *httpClient) Instance() catalog.Instance { return c.inst }

// Ping works identically for both kinds.
func (c *httpClient) Ping(ctx context.Context) (ServerStatus, error) {
	var status ServerStatus
	if err := c.get(ctx, "system/status", nil, statusTimeout, &status); err != nil {
		return ServerStatus{}, err
	}
	return status, nil
}

// ServerDefaults resolves the first configured quality profile and root
// folder. Servers without profiles fall back to profile id 1; servers
// without a root folder cannot take new items at all.
func (c *httpClient) ServerDefaults(ctx context.Context) (Defaults, error) {
	var profiles []struct {
		ID int64 `json:"id"`
	}
	if err := c.get(ctx, "qualityprofile", nil, requestTimeout, &profiles); err != nil {
		return Defaults{}, fmt.Errorf("fetch quality profiles: %w", err)
	}

	var folders []struct {
		Path string `json:"path"`
	}
	if err := c.get(ctx, "rootfolder", nil, requestTimeout, &folders); err != nil {
		return Defaults{}, fmt.Errorf("fetch root folders: %w", err)
	}

	defaults := Defaults{QualityProfileID: 1}
	if len(profiles) > 0 {
		defaults.QualityProfileID = profiles[0].ID
	}
	if len(folders) > 0 {
		defaults.RootFolder = folders[0].Path
	}
	if defaults.RootFolder == "" {
		return Defaults{}, fmt.Errorf("no root folders configured on instance %q", c.inst.Name)
	}
	return defaults, nil
}

func (c *httpClient) FetchIndexers(ctx context.Context) ([]Indexer, error) {
	var raw []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := c.get(ctx, "indexer", nil, requestTimeout, &raw); err != nil {
		return nil, err
	}
	indexers := make([]Indexer, 0, len(raw))
	for _, ix := range raw {
		if ix.ID == 0 || ix.Name == "" {
			continue
		}
		indexers = append(indexers, Indexer{ID: ix.ID, Name: ix.Name})
	}
	return indexers, nil
}

func (c *httpClient) PushRelease(ctx context.Context, guid string, indexerID int64, title string) error {
	payload := map[string]any{
		"guid":      guid,
		"indexerId": indexerID,
		"title":     title,
	}
	return c.post(ctx, "release", payload, nil)
}

// relevantEvents are the only history event types worth archiving: the
// grab itself and the completed import. Everything else is noise for a
// later replay.
var relevantEvents = map[string]bool{
	"grabbed":                true,
	"downloadFolderImported": true,
}

type historyRecord struct {
	ID          int64     `json:"id"`
	EventType   string    `json:"eventType"`
	SourceTitle string    `json:"sourceTitle"`
	Date        time.Time `json:"date"`
	Data        struct {
		Indexer        string `json:"indexer"`
		DownloadClient string `json:"downloadClient"`
		GUID           string `json:"guid"`
		InfoHash       string `json:"infoHash"`
		DownloadID     string `json:"downloadId"`
	} `json:"data"`
}

func (c *httpClient) fetchHistory(ctx context.Context, path, param string, mediaID int64) ([]HistoryEvent, error) {
	params := url.Values{}
	params.Set(param, strconv.FormatInt(mediaID, 10))

	var records []historyRecord
	if err := c.get(ctx, path, params, requestTimeout, &records); err != nil {
		return nil, err
	}

	events := make([]HistoryEvent, 0, len(records))
	for _, r := range records {
		if r.ID == 0 || !relevantEvents[r.EventType] {
			continue
		}
		events = append(events, HistoryEvent{
			EventID:        r.ID,
			MediaID:        mediaID,
			EventType:      r.EventType,
			SourceTitle:    r.SourceTitle,
			Indexer:        r.Data.Indexer,
			DownloadClient: r.Data.DownloadClient,
			GUID:           r.Data.GUID,
			InfoHash:       r.Data.InfoHash,
			DownloadID:     r.Data.DownloadID,
			OccurredAt:     r.Date,
		})
	}
	return events, nil
}

func (c *httpClient) get(ctx context.Context, path string, params url.Values, timeout time.Duration, out any) error {
	return c.do(ctx, http.MethodGet, path, params, nil, timeout, out)
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, requestTimeout, out)
}

func (c *httpClient) del(ctx context.Context, path string, params url.Values) error {
	return c.do(ctx, http.MethodDelete, path, params, nil, requestTimeout, nil)
}

func (c *httpClient) do(ctx context.Context, method, path string, params url.Values, body any, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := strings.TrimRight(c.inst.URL, "/") + "/api/v3/" + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("X-Api-Key", c.inst.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("method", method).Str("path", path).Msg("api request")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		return c.statusError(method, path, resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

func (c *httpClient) statusError(method, path string, status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s %s", ErrConflict, method, path)
	// Radarr reports duplicate adds as a 400 whose message names the
	// violated unique constraint rather than as a 409.
	case status == http.StatusBadRequest && bytes.Contains(body, []byte("constraint failed")):
		return fmt.Errorf("%w: %s %s", ErrConflict, method, path)
	case status < 500:
		return fmt.Errorf("%w: %s %s: HTTP %d: %s", ErrValidation, method, path, status, truncate(body, 200))
	default:
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, status, truncate(body, 200))
	}
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// tagStrings normalizes the servers' numeric tag ids into the string
// form filters are written in.
func tagStrings(ids []int64) []string {
	if len(ids) == 0 {
		return nil
	}
	tags := make([]string, 0, len(ids))
	for _, id := range ids {
		tags = append(tags, strconv.FormatInt(id, 10))
	}
	return tags
}
