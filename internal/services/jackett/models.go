// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jackett

import (
	"bytes"
	"encoding/json"
	"time"
)

// searchResponse is the body of /api/v2.0/indexers/all/results.
type searchResponse struct {
	Results  []apiResult  `json:"Results"`
	Indexers []apiIndexer `json:"Indexers"`
}

type apiResult struct {
	Tracker              string      `json:"Tracker"`
	TrackerID            string      `json:"TrackerId"`
	CategoryDesc         string      `json:"CategoryDesc"`
	Title                string      `json:"Title"`
	GUID                 string      `json:"Guid"`
	Link                 string      `json:"Link"`
	Details              string      `json:"Details"`
	PublishDate          jackettTime `json:"PublishDate"`
	Category             []int       `json:"Category"`
	Size                 int64       `json:"Size"`
	Seeders              *int        `json:"Seeders"`
	Peers                *int        `json:"Peers"`
	MagnetURI            string      `json:"MagnetUri"`
	InfoHash             string      `json:"InfoHash"`
	DownloadVolumeFactor *float64    `json:"DownloadVolumeFactor"`
	UploadVolumeFactor   *float64    `json:"UploadVolumeFactor"`
}

// jackettTime accepts the timestamp layouts Jackett emits, with or without a zone.
type jackettTime struct {
	time.Time
}

var jackettTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

func (t *jackettTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for _, layout := range jackettTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	// Unparseable dates are not worth rejecting a whole result set for.
	return nil
}

type apiIndexer struct {
	ID      string `json:"ID"`
	Name    string `json:"Name"`
	Status  int    `json:"Status"`
	Results int    `json:"Results"`
	Error   string `json:"Error"`
}

// Result is a single search hit in provider order.
type Result struct {
	Tracker     string
	TrackerID   string
	Title       string
	Link        string
	Details     string
	GUID        string
	PublishDate time.Time
	Categories  []int
	Size        int64
	Seeders     int
	Peers       int
	MagnetURI   string
	InfoHash    string
	Freeleech   bool
}

// IndexerStatus reports how one indexer answered an aggregated search.
type IndexerStatus struct {
	ID      string
	Name    string
	Results int
	Error   string
}

// SearchResponse is the converted result of an aggregated search.
type SearchResponse struct {
	Results  []Result
	Indexers []IndexerStatus
}

// FilterEnv is the environment available to result filter expressions.
type FilterEnv struct {
	Title     string
	Tracker   string
	Size      int64
	Seeders   int
	Peers     int
	Freeleech bool
	AgeHours  float64
	Category  string
}
