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

package lake

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/warehouse"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	order   []string

	// keys DeleteObjects refuses to remove
	locked map[string]bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.order = append(f.order, key)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.DeleteObjectsOutput{}
	for _, id := range in.Delete.Objects {
		key := aws.ToString(id.Key)
		if f.locked[key] {
			out.Errors = append(out.Errors, types.Error{Key: id.Key, Code: aws.String("AccessDenied"), Message: aws.String("Access Denied")})
			continue
		}
		delete(f.objects, key)
	}
	return out, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestS3Publisher_ReplacesTablePrefix(t *testing.T) {
	l := newTestLake(t)
	ctx := context.Background()
	_, err := l.WriteTable(ctx, warehouse.Time, []core.Record{
		{"start_time": nil, "hour": int32(1), "year": int32(2018), "month": int32(11)},
	})
	require.NoError(t, err)

	client := newFakeS3()
	client.objects["out/time/year=2017/month=1/part-00000.parquet"] = []byte("stale")
	client.objects["out/users/part-00000.parquet"] = []byte("other table")

	pub, err := NewS3Publisher(client, "s3://bucket/out", WithConcurrency(2))
	require.NoError(t, err)

	stats, err := pub.Publish(ctx, l, warehouse.Time)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ObjectsDeleted)
	assert.Equal(t, int64(2), stats.ObjectsUploaded)
	assert.Positive(t, stats.BytesUploaded)

	assert.Equal(t, []string{
		"out/time/_SUCCESS",
		"out/time/year=2018/month=11/part-00000.parquet",
		"out/users/part-00000.parquet",
	}, client.keys())
	assert.Equal(t, "out/time/_SUCCESS", client.order[len(client.order)-1], "marker is uploaded last")
}

func TestS3Publisher_PartialDeleteFails(t *testing.T) {
	l := newTestLake(t)
	ctx := context.Background()
	_, err := l.WriteTable(ctx, warehouse.Users, []core.Record{{"user_id": "1", "level": "free"}})
	require.NoError(t, err)

	client := newFakeS3()
	client.objects["out/users/old-1.parquet"] = []byte("stale")
	client.objects["out/users/old-2.parquet"] = []byte("stale")
	client.locked = map[string]bool{"out/users/old-2.parquet": true}

	pub, err := NewS3Publisher(client, "s3://bucket/out")
	require.NoError(t, err)

	_, err = pub.Publish(ctx, l, warehouse.Users)
	require.Error(t, err)
	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "delete", pe.Op)
	assert.Equal(t, "out/users/old-2.parquet", pe.Key)
	assert.ErrorContains(t, err, "1 of 2 objects not deleted: AccessDenied")

	// nothing is uploaded over a prefix that could not be cleared
	assert.Equal(t, []string{"out/users/old-2.parquet"}, client.keys())
}

func TestS3Publisher_MissingTable(t *testing.T) {
	l := newTestLake(t)
	pub, err := NewS3Publisher(newFakeS3(), "s3://bucket")
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), l, warehouse.Songs)
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestNewS3Publisher_RejectsLocalPath(t *testing.T) {
	_, err := NewS3Publisher(newFakeS3(), "/tmp/lake")
	assert.Error(t, err)
}
