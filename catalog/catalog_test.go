//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of Songlake.
//
// Songlake is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Songlake is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Songlake. If not, see https://www.gnu.org/licenses/.

package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/lake"
	"github.com/aaronlmathis/songlake/readers"
	"github.com/aaronlmathis/songlake/warehouse"
)

var songFiles = map[string]string{
	"A/A/A/TRAAAAW128F429D538.json": `{"num_songs": 1, "artist_id": "ARD7TVE1187B99BFB1", "artist_latitude": null, "artist_longitude": null, "artist_location": "California - LA", "artist_name": "Casual", "song_id": "SOMZWCG12A8C13C480", "title": "I Didn't Mean To", "duration": 218.93179, "year": 0}`,
	"A/A/B/TRAABCL128F4286650.json": `{"num_songs": 1, "artist_id": "ARMJAGH1187FB546F3", "artist_latitude": 35.14968, "artist_longitude": -90.04892, "artist_location": "Memphis, TN", "artist_name": "The Box Tops", "song_id": "SOCIWDW12A8C13D406", "title": "Soul Deep", "duration": 148.03546, "year": 1969}`,
	// same song and artist as above, shipped twice
	"A/B/A/TRABACN128F425B784.json": `{"num_songs": 1, "artist_id": "ARMJAGH1187FB546F3", "artist_latitude": 35.14968, "artist_longitude": -90.04892, "artist_location": "Memphis, TN", "artist_name": "The Box Tops", "song_id": "SOCIWDW12A8C13D406", "title": "Soul Deep", "duration": 148.03546, "year": 1969}`,
	"A/B/B/TRABBJE12903CDB442.json": `{"num_songs": 1, "artist_id": "ARMJAGH1187FB546F3", "artist_latitude": 35.14968, "artist_longitude": -90.04892, "artist_location": "Memphis, TN", "artist_name": "The Box Tops", "song_id": "SOGHJLK12A8C13C6F9", "title": "Neon Rainbow", "duration": "n/a", "year": 1967}`,
	"A/C/A/broken.json":             `{"artist_id": "ARBROKEN", "title": `,
	"A/C/B/notes.txt":               `not a song`,
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return root
}

func newLake(t *testing.T) *lake.Lake {
	t.Helper()
	l, err := lake.New(t.TempDir())
	require.NoError(t, err)
	return l
}

func byKey(key string) func(rows []core.Record) {
	return func(rows []core.Record) {
		sort.Slice(rows, func(i, j int) bool {
			return rows[i][key].(int64) < rows[j][key].(int64)
		})
	}
}

func TestExtractor_Run(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, songFiles)
	l := newLake(t)

	stats, err := New(root, l).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.RecordsRead)
	assert.Equal(t, int64(1), stats.RecordsSkipped)
	assert.Equal(t, int64(1), stats.FieldFaults)
	assert.Equal(t, int64(3), stats.Songs.Rows)
	assert.Equal(t, int64(2), stats.Artists.Rows)

	songs, err := l.ReadTable(ctx, warehouse.Songs)
	require.NoError(t, err)
	byKey("song_id")(songs)
	want := []core.Record{
		{"song_id": int64(1), "title": "I Didn't Mean To", "artist_id": "ARD7TVE1187B99BFB1", "year": int32(0), "duration": 218.93179},
		{"song_id": int64(2), "title": "Neon Rainbow", "artist_id": "ARMJAGH1187FB546F3", "year": int32(1967), "duration": nil},
		{"song_id": int64(3), "title": "Soul Deep", "artist_id": "ARMJAGH1187FB546F3", "year": int32(1969), "duration": 148.03546},
	}
	if diff := cmp.Diff(want, songs); diff != "" {
		t.Errorf("songs mismatch (-want +got):\n%s", diff)
	}

	artists, err := l.ReadTable(ctx, warehouse.Artists)
	require.NoError(t, err)
	sort.Slice(artists, func(i, j int) bool {
		return artists[i]["artist_id"].(string) < artists[j]["artist_id"].(string)
	})
	wantArtists := []core.Record{
		{"artist_id": "ARD7TVE1187B99BFB1", "name": "Casual", "location": "California - LA", "latitude": nil, "longitude": nil},
		{"artist_id": "ARMJAGH1187FB546F3", "name": "The Box Tops", "location": "Memphis, TN", "latitude": 35.14968, "longitude": -90.04892},
	}
	if diff := cmp.Diff(wantArtists, artists); diff != "" {
		t.Errorf("artists mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractor_Idempotent(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, songFiles)
	l := newLake(t)
	ex := New(root, l)

	_, err := ex.Run(ctx)
	require.NoError(t, err)
	first, err := l.ReadTable(ctx, warehouse.Songs)
	require.NoError(t, err)

	_, err = ex.Run(ctx)
	require.NoError(t, err)
	second, err := l.ReadTable(ctx, warehouse.Songs)
	require.NoError(t, err)

	byKey("song_id")(first)
	byKey("song_id")(second)
	assert.Equal(t, first, second)
}

func TestExtractor_MissingRoot(t *testing.T) {
	l := newLake(t)
	_, err := New(filepath.Join(t.TempDir(), "nope"), l).Run(context.Background())
	require.Error(t, err)

	var re *readers.JSONReaderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "open_root", re.Op)
	assert.ErrorContains(t, err, "catalog read")
	assert.False(t, l.Exists(warehouse.Songs))
}

func TestExtractor_S3RootNeedsClient(t *testing.T) {
	_, err := New("s3://bucket/song_data", newLake(t)).Run(context.Background())
	assert.ErrorIs(t, err, readers.ErrNoS3Client)
}

func TestArtistRows_KeyStaysUnique(t *testing.T) {
	records := []core.Record{
		{"artist_id": "AR1", "artist_name": "One", "artist_location": nil, "artist_latitude": nil, "artist_longitude": nil},
		{"artist_id": "AR1", "artist_name": "One", "artist_location": nil, "artist_latitude": nil, "artist_longitude": nil},
		{"artist_id": "AR1", "artist_name": "One", "artist_location": "Paris", "artist_latitude": nil, "artist_longitude": nil},
		{"artist_id": nil, "artist_name": "Nobody"},
	}
	rows, err := ArtistRows(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0]["location"])
}

func TestSongRows_SurrogateIDs(t *testing.T) {
	records := []core.Record{
		{"title": "B", "artist_id": "AR1", "year": int64(2000), "duration": 1.0, "num_songs": int64(1)},
		{"title": "A", "artist_id": "AR1", "year": int64(2000), "duration": 1.0},
		{"title": "B", "artist_id": "AR1", "year": int64(2000), "duration": 1.0},
		{"title": "B", "artist_id": "AR1", "year": int64(2001), "duration": 1.0},
	}
	rows, err := SongRows(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, core.Record{"song_id": int64(1), "title": "A", "artist_id": "AR1", "year": int64(2000), "duration": 1.0}, rows[0])
	assert.Equal(t, int64(3), rows[2]["song_id"])
	assert.Equal(t, int64(2001), rows[2]["year"])
}

func TestExtractor_RunNullsOutOfRangeYear(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, map[string]string{
		"A/TRAAAAA.json": `{"num_songs": 1, "artist_id": "AR1", "artist_name": "One", "song_id": "SO1", "title": "Far Future", "duration": 100.5, "year": 3000000000}`,
		"B/TRAAAAB.json": `{"num_songs": 4294967296, "artist_id": "AR1", "artist_name": "One", "song_id": "SO2", "title": "Party", "duration": 200.0, "year": 1999}`,
	})
	l := newLake(t)

	stats, err := New(root, l).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.FieldFaults)
	assert.Equal(t, int64(2), stats.Songs.Rows)

	songs, err := l.ReadTable(ctx, warehouse.Songs)
	require.NoError(t, err)
	require.Len(t, songs, 2)
	years := make(map[string]interface{})
	for _, s := range songs {
		years[s["title"].(string)] = s["year"]
	}
	assert.Equal(t, map[string]interface{}{"Far Future": nil, "Party": int32(1999)}, years)

	desc, err := l.Describe(warehouse.Songs)
	require.NoError(t, err)
	for _, f := range desc.Files {
		assert.NotContains(t, f.Partition, "3000000000")
	}
}
