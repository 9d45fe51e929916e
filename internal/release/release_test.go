package release

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "psadiag/internal/errors"
	"psadiag/internal/logger"
)

func TestNormalizeAndSanitize(t *testing.T) {
	tests := []struct {
		in, normalized, sanitized string
	}{
		{"09.186", "09.186", "09.186"},
		{"09.186_PSA_DIAG", "09.186", "09.186"},
		{"Diagbox v9.85", "9.85", "9.85"},
		{"beta/nightly", "", "beta_nightly"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.normalized, Normalize(tt.in), tt.in)
		assert.Equal(t, tt.sanitized, SanitizeFilename(tt.in), tt.in)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"09.186", "09.85", 1},
		{"2.1.0.9", "2.1.0.10", -1},
		{"2.1", "2.1.0.0", 0},
		{"09.186_PSA_DIAG", "09.186", 0},
		{"nothing", "1.0", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Compare(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
	assert.True(t, Newer("2.2.0.0", "2.1.0.9"))
	assert.False(t, Newer("2.1.0.9", "2.1.0.9"))
}

func TestParseOptionsShapes(t *testing.T) {
	want := []Option{{Display: "Diagbox 09.186", Version: "09.186", URL: "https://example.test/09.186.7z"}}

	docs := map[string]string{
		"list":    `[{"display_name":"Diagbox 09.186","version":"09.186","url":"https://example.test/09.186.7z"}]`,
		"wrapped": `{"versions":[{"display":"Diagbox 09.186","version":"09.186","url":"https://example.test/09.186.7z"}]}`,
		"single":  `{"name":"Diagbox 09.186","version":"09.186","url":"https://example.test/09.186.7z"}`,
		"triples": `[["Diagbox 09.186","09.186","https://example.test/09.186.7z"],["short"]]`,
		"skips":   `[{"version":"1"},{"display_name":"Diagbox 09.186","version":"09.186","url":"https://example.test/09.186.7z"}]`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			got, err := ParseOptions([]byte(doc))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	_, err := ParseOptions([]byte(`"text"`))
	assert.Error(t, err)
}

func TestPickLatestAndFind(t *testing.T) {
	options := []Option{
		{Display: "old", Version: "09.85"},
		{Display: "new", Version: "09.186"},
		{Display: "mid", Version: "09.125"},
	}
	latest, ok := PickLatest(options)
	require.True(t, ok)
	assert.Equal(t, "new", latest.Display)

	found, ok := Find(options, "mid")
	require.True(t, ok)
	assert.Equal(t, "09.125", found.Version)

	_, ok = PickLatest(nil)
	assert.False(t, ok)
}

func TestArchiveCandidatesAndFind(t *testing.T) {
	dir := t.TempDir()
	got := ArchiveCandidates(dir, "09.186_PSA_DIAG")
	assert.Equal(t, []string{
		filepath.Join(dir, "09.186.7z"),
		filepath.Join(dir, "09.186_PSA_DIAG.7z"),
		filepath.Join(dir, "Diagbox_Install_09.186_PSA_DIAG.7z"),
	}, got)
	assert.Len(t, ArchiveCandidates(dir, "09.186"), 2)

	legacy := filepath.Join(dir, "Diagbox_Install_09.186_PSA_DIAG.7z")
	require.NoError(t, os.WriteFile(legacy, []byte("7z"), 0o644))

	archive, ok := FindArchive(dir, "09.186_PSA_DIAG")
	require.True(t, ok)
	assert.Equal(t, legacy, archive.Path)
	assert.Equal(t, int64(2), archive.Size)

	list, err := ListArchives(dir)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "09.186_PSA_DIAG", list[0].Version)

	stat, ok := Stat(legacy)
	require.True(t, ok)
	assert.Equal(t, list[0], stat)

	_, ok = Stat(dir)
	assert.False(t, ok)
}

func newTestClient(retries int) *Client {
	c := NewClient(http.DefaultClient, logger.NewMockLogger(), retries)
	c.initial = time.Millisecond
	return c
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"version":"09.186"}`)
	}))
	defer srv.Close()

	v, err := newTestClient(3).LatestVersion(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "09.186", v)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(3).LatestVersion(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeMetadata))
	assert.Equal(t, int32(1), calls.Load())
}

func TestLatestAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tag_name":"v2.2.0.0","assets":[
			{"name":"notes.txt","browser_download_url":"https://example.test/notes.txt"},
			{"name":"PSA-DIAG.EXE","browser_download_url":"https://example.test/PSA-DIAG.exe","size":42}]}`)
	}))
	defer srv.Close()

	asset, err := newTestClient(0).LatestAsset(context.Background(), srv.URL, ".exe")
	require.NoError(t, err)
	assert.Equal(t, "PSA-DIAG.EXE", asset.Name)
	assert.Equal(t, int64(42), asset.Size)

	_, err = newTestClient(0).LatestAsset(context.Background(), srv.URL, ".msi")
	assert.Error(t, err)
}

func TestCheckAppUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version":"2.2.0.0"}`)
	}))
	defer srv.Close()

	upd, err := newTestClient(0).CheckAppUpdate(context.Background(), srv.URL, "2.1.0.9")
	require.NoError(t, err)
	assert.True(t, upd.Available)
	assert.Equal(t, "2.2.0.0", upd.Latest)
}
