/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package arr

import (
	"context"
	"net/url"
	"strconv"

	"github.com/friendsincode/skuld_sync/internal/catalog"
)

// radarrClient adapts a Radarr server. Movies are identified across
// instances by TMDB id.
type radarrClient struct {
	*httpClient
}

type radarrMovie struct {
	ID               int64   `json:"id"`
	Title            string  `json:"title"`
	Year             int     `json:"year"`
	TmdbID           int64   `json:"tmdbId"`
	QualityProfileID int64   `json:"qualityProfileId"`
	RootFolderPath   string  `json:"rootFolderPath"`
	Tags             []int64 `json:"tags"`
	HasFile          bool    `json:"hasFile"`
}

func (m radarrMovie) toItem() catalog.Item {
	return catalog.Item{
		ExternalID:     m.TmdbID,
		InternalID:     m.ID,
		Title:          m.Title,
		Year:           m.Year,
		QualityProfile: strconv.FormatInt(m.QualityProfileID, 10),
		RootFolder:     m.RootFolderPath,
		Tags:           tagStrings(m.Tags),
	}
}

func (c *radarrClient) FetchCatalog(ctx context.Context) ([]catalog.Item, error) {
	var movies []radarrMovie
	if err := c.get(ctx, "movie", nil, requestTimeout, &movies); err != nil {
		return nil, err
	}
	items := make([]catalog.Item, 0, len(movies))
	for _, m := range movies {
		items = append(items, m.toItem())
	}
	return items, nil
}

type radarrAddRequest struct {
	Title            string `json:"title"`
	Year             int    `json:"year"`
	TmdbID           int64  `json:"tmdbId"`
	QualityProfileID int64  `json:"qualityProfileId"`
	RootFolderPath   string `json:"rootFolderPath"`
	Monitored        bool   `json:"monitored"`
	AddOptions       struct {
		SearchForMovie bool `json:"searchForMovie"`
	} `json:"addOptions"`
}

func (c *radarrClient) CreateItem(ctx context.Context, item catalog.Item, defaults Defaults) error {
	payload := radarrAddRequest{
		Title:            item.Title,
		Year:             item.Year,
		TmdbID:           item.ExternalID,
		QualityProfileID: defaults.QualityProfileID,
		RootFolderPath:   defaults.RootFolder,
		Monitored:        true,
	}
	payload.AddOptions.SearchForMovie = true
	return c.post(ctx, "movie", payload, nil)
}

func (c *radarrClient) DeleteItem(ctx context.Context, internalID int64) error {
	params := url.Values{}
	params.Set("deleteFiles", "false")
	return c.del(ctx, "movie/"+strconv.FormatInt(internalID, 10), params)
}

func (c *radarrClient) FetchHistory(ctx context.Context, mediaID int64) ([]HistoryEvent, error) {
	return c.fetchHistory(ctx, "history/movie", "movieId", mediaID)
}

func (c *radarrClient) HasFile(ctx context.Context, mediaID int64) (bool, error) {
	var movie struct {
		HasFile bool `json:"hasFile"`
	}
	if err := c.get(ctx, "movie/"+strconv.FormatInt(mediaID, 10), nil, requestTimeout, &movie); err != nil {
		return false, err
	}
	return movie.HasFile, nil
}
