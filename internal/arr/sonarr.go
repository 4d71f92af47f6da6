/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package arr

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/friendsincode/skuld_sync/internal/catalog"
)

// sonarrClient adapts a Sonarr server. Series are identified across
// instances by TVDB id.
type sonarrClient struct {
	*httpClient
}

type sonarrSeries struct {
	ID               int64   `json:"id"`
	Title            string  `json:"title"`
	Year             int     `json:"year"`
	TvdbID           int64   `json:"tvdbId"`
	QualityProfileID int64   `json:"qualityProfileId"`
	RootFolderPath   string  `json:"rootFolderPath"`
	Tags             []int64 `json:"tags"`
}

func (s sonarrSeries) toItem() catalog.Item {
	return catalog.Item{
		ExternalID:     s.TvdbID,
		InternalID:     s.ID,
		Title:          s.Title,
		Year:           s.Year,
		QualityProfile: strconv.FormatInt(s.QualityProfileID, 10),
		RootFolder:     s.RootFolderPath,
		Tags:           tagStrings(s.Tags),
	}
}

func (c *sonarrClient) FetchCatalog(ctx context.Context) ([]catalog.Item, error) {
	var series []sonarrSeries
	if err := c.get(ctx, "series", nil, requestTimeout, &series); err != nil {
		return nil, err
	}
	items := make([]catalog.Item, 0, len(series))
	for _, s := range series {
		items = append(items, s.toItem())
	}
	return items, nil
}

// CreateItem adds a series by running the server's own TVDB lookup and
// posting the result back with local defaults applied. Sonarr's add
// endpoint wants the full metadata document, which only the lookup can
// supply.
func (c *sonarrClient) CreateItem(ctx context.Context, item catalog.Item, defaults Defaults) error {
	params := url.Values{}
	params.Set("term", fmt.Sprintf("tvdb:%d", item.ExternalID))

	var results []map[string]any
	if err := c.get(ctx, "series/lookup", params, requestTimeout, &results); err != nil {
		return fmt.Errorf("lookup tvdb:%d: %w", item.ExternalID, err)
	}
	if len(results) == 0 {
		return fmt.Errorf("%w: lookup returned nothing for tvdb:%d", ErrNotFound, item.ExternalID)
	}

	payload := results[0]
	payload["qualityProfileId"] = defaults.QualityProfileID
	payload["rootFolderPath"] = defaults.RootFolder
	payload["seasonFolder"] = true
	payload["monitored"] = true
	payload["addOptions"] = map[string]any{
		"ignoreEpisodesWithFiles":      false,
		"ignoreEpisodesWithoutFiles":   false,
		"monitor":                      "all",
		"searchForMissingEpisodes":     true,
		"searchForCutoffUnmetEpisodes": false,
	}
	// The lookup echoes a server-local id of 0; posting any id field
	// makes the add endpoint reject the document.
	delete(payload, "id")

	return c.post(ctx, "series", payload, nil)
}

func (c *sonarrClient) DeleteItem(ctx context.Context, internalID int64) error {
	params := url.Values{}
	params.Set("deleteFiles", "false")
	return c.del(ctx, "series/"+strconv.FormatInt(internalID, 10), params)
}

func (c *sonarrClient) FetchHistory(ctx context.Context, mediaID int64) ([]HistoryEvent, error) {
	return c.fetchHistory(ctx, "history/series", "seriesId", mediaID)
}

// HasFile reports whether the episode with the given id has a file.
// Release history references episodes, not series, so the id here is an
// episode id.
func (c *sonarrClient) HasFile(ctx context.Context, mediaID int64) (bool, error) {
	var episode struct {
		HasFile bool `json:"hasFile"`
	}
	if err := c.get(ctx, "episode/"+strconv.FormatInt(mediaID, 10), nil, requestTimeout, &episode); err != nil {
		return false, err
	}
	return episode.HasFile, nil
}
