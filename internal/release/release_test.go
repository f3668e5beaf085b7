/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package release

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/godoty/sidecar/internal/config"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const latestBody = `{
  "tag_name": "v1.2.0",
  "body": "fixes",
  "published_at": "2025-01-01T00:00:00Z",
  "assets": [
    {"name": "opencode-x86_64-apple-darwin.zip", "browser_download_url": "https://example.invalid/a.zip", "size": 10},
    {"name": "opencode-x86_64-unknown-linux-gnu.tar.gz", "browser_download_url": "https://example.invalid/b.tgz", "size": 20}
  ]
}`

func newTestFetcher(url string) *Fetcher {
	return NewFetcher(config.UpdateConfig{ReleaseURL: url, Timeout: 2 * time.Second})
}

func TestLatestDecodesManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, config.DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, latestBody)
	}))
	defer srv.Close()

	m, err := newTestFetcher(srv.URL).Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.2.0", m.Tag)
	assert.Equal(t, "1.2.0", m.Version())
	assert.Equal(t, "fixes", m.Notes)
	require.Len(t, m.Assets, 2)
	assert.Equal(t, "https://example.invalid/b.tgz", m.Assets[1].DownloadURL)
	assert.Equal(t, int64(20), m.Assets[1].Size)
}

func TestLatestErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			want: ErrUnexpectedStatus,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "<html>")
			},
			want: ErrDecodeFailed,
		},
		{
			name: "missing tag",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"assets": []}`)
			},
			want: ErrDecodeFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestFetcher(srv.URL).Latest(context.Background())
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestLatestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestFetcher(url).Latest(context.Background())
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestCheckReportsAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, latestBody)
	}))
	defer srv.Close()

	info, err := newTestFetcher(srv.URL).Check(context.Background(), "1.1.9")
	require.NoError(t, err)
	assert.True(t, info.Available)
	assert.Equal(t, "1.2.0", info.LatestVersion)
	assert.Equal(t, "1.1.9", info.CurrentVersion)
	assert.NotNil(t, info.Release)

	info, err = newTestFetcher(srv.URL).Check(context.Background(), "1.2.0")
	require.NoError(t, err)
	assert.False(t, info.Available)
}

func TestIsUpdateAvailable(t *testing.T) {
	tests := []struct {
		current, latest string
		want            bool
	}{
		{"0.0.0", "1.0.0", true},
		{"1.0.0", "1.0.0", false},
		{"1.0.0", "v1.0.0", false},
		{"v1.0.0", "1.0.1", true},
		{"1.10.0", "1.9.0", false},
		{"1.9.0", "1.10.0", true},
		{"2.0.0", "1.9.9", false},
		{"1.0.0-beta.1", "1.0.0", true},
		{"dev", "1.0.0", true},
		{"dev", "dev", false},
		{"1.0.0", "0.0.0", false},
		{"dev", "0.0.0", false},
		{"1.0.0", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsUpdateAvailable(tt.current, tt.latest), "%q -> %q", tt.current, tt.latest)
	}
}

// TestProperty_IsUpdateAvailableNumeric checks semantic versions compare as number triples
func TestProperty_IsUpdateAvailableNumeric(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := [3]int{
			rapid.IntRange(0, 30).Draw(t, "a0"),
			rapid.IntRange(0, 30).Draw(t, "a1"),
			rapid.IntRange(0, 30).Draw(t, "a2"),
		}
		b := [3]int{
			rapid.IntRange(0, 30).Draw(t, "b0"),
			rapid.IntRange(0, 30).Draw(t, "b1"),
			rapid.IntRange(0, 30).Draw(t, "b2"),
		}
		prefix := rapid.SampledFrom([]string{"", "v"}).Draw(t, "prefix")
		cur := fmt.Sprintf("%d.%d.%d", a[0], a[1], a[2])
		lat := fmt.Sprintf("%s%d.%d.%d", prefix, b[0], b[1], b[2])

		want := false
		for i := 0; i < 3; i++ {
			if b[i] != a[i] {
				want = b[i] > a[i]
				break
			}
		}
		if got := IsUpdateAvailable(cur, lat); got != want {
			t.Fatalf("IsUpdateAvailable(%q, %q) = %v, want %v", cur, lat, got, want)
		}
		if IsUpdateAvailable(cur, lat) && IsUpdateAvailable(lat, cur) {
			t.Fatalf("both directions report an update for %q and %q", cur, lat)
		}
	})
}

func TestTargetTriple(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         string
	}{
		{"darwin", "arm64", "aarch64-apple-darwin"},
		{"darwin", "amd64", "x86_64-apple-darwin"},
		{"windows", "amd64", "x86_64-pc-windows-msvc"},
		{"windows", "arm64", "x86_64-pc-windows-msvc"},
		{"linux", "amd64", "x86_64-unknown-linux-gnu"},
		{"linux", "arm64", "aarch64-unknown-linux-gnu"},
	}
	for _, tt := range tests {
		got, err := TargetTriple(tt.goos, tt.goarch)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := TargetTriple("freebsd", "amd64")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	_, err = TargetTriple("linux", "386")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestSelectAsset(t *testing.T) {
	m := &Manifest{Assets: []Asset{
		{Name: "opencode-aarch64-apple-darwin.zip"},
		{Name: "opencode-x86_64-unknown-linux-gnu.tar.gz"},
		{Name: "opencode-x86_64-unknown-linux-gnu.zip"},
	}}

	a, err := m.SelectAsset("x86_64-unknown-linux-gnu")
	require.NoError(t, err)
	assert.Equal(t, "opencode-x86_64-unknown-linux-gnu.tar.gz", a.Name, "first match wins")

	_, err = m.SelectAsset("x86_64-pc-windows-msvc")
	assert.ErrorIs(t, err, ErrNoMatchingAsset)
	_, err = m.SelectAsset("")
	assert.ErrorIs(t, err, ErrNoMatchingAsset)
}

// TestSelectAssetProperties verifies asset selection over generated manifests
// TestSelectAssetProperties 在生成的清单上验证资源选择
func TestSelectAssetProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	triples := []string{
		"aarch64-apple-darwin",
		"x86_64-apple-darwin",
		"x86_64-pc-windows-msvc",
		"x86_64-unknown-linux-gnu",
	}

	properties.Property("selected asset contains the triple and is the first match", prop.ForAll(
		func(picks []int, want int) bool {
			m := &Manifest{}
			for i, p := range picks {
				m.Assets = append(m.Assets, Asset{Name: fmt.Sprintf("opencode-%s-%d.zip", triples[p], i)})
			}
			triple := triples[want]
			a, err := m.SelectAsset(triple)

			first := -1
			for i, p := range picks {
				if p == want {
					first = i
					break
				}
			}
			if first < 0 {
				return errors.Is(err, ErrNoMatchingAsset) && a == nil
			}
			return err == nil && a == &m.Assets[first]
		},
		gen.SliceOf(gen.IntRange(0, len(triples)-1)),
		gen.IntRange(0, len(triples)-1),
	))

	properties.TestingRun(t)
}
