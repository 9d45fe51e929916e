package release

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

const (
	archiveExt   = ".7z"
	legacyPrefix = "Diagbox_Install_"
)

var (
	numericVersion = regexp.MustCompile(`\d+(?:\.\d+)*`)
	unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// Normalize returns the first numeric dotted run of v ("09.186" for
// "09.186_PSA_DIAG"), or "" if there is none.
func Normalize(v string) string {
	return numericVersion.FindString(v)
}

// SanitizeFilename turns v into a safe file name base: its numeric version
// when present, otherwise v with unsafe characters replaced.
func SanitizeFilename(v string) string {
	if n := Normalize(v); n != "" {
		return n
	}
	return unsafeFilename.ReplaceAllString(v, "_")
}

// Compare returns -1, 0 or 1 comparing the numeric parts of a and b.
func Compare(a, b string) int {
	va, errA := goversion.NewVersion(Normalize(a))
	vb, errB := goversion.NewVersion(Normalize(b))
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return comparePadded(parts(a), parts(b))
}

// Newer reports whether candidate is strictly newer than current.
func Newer(candidate, current string) bool {
	return Compare(candidate, current) > 0
}

func parts(v string) []int {
	n := Normalize(v)
	if n == "" {
		return []int{0}
	}
	var out []int
	for _, p := range strings.Split(n, ".") {
		i, err := strconv.Atoi(p)
		if err != nil {
			return []int{0}
		}
		out = append(out, i)
	}
	return out
}

func comparePadded(a, b []int) int {
	for len(a) < len(b) {
		a = append(a, 0)
	}
	for len(b) < len(a) {
		b = append(b, 0)
	}
	for i := range a {
		switch {
		case a[i] > b[i]:
			return 1
		case a[i] < b[i]:
			return -1
		}
	}
	return 0
}

// ArchiveCandidates lists where an archive of version may be stored in dir,
// in preference order: "<numeric>.7z", "<version>.7z", the legacy
// "Diagbox_Install_<version>.7z".
func ArchiveCandidates(dir, version string) []string {
	seen := map[string]bool{}
	var out []string
	for _, base := range []string{
		SanitizeFilename(version) + archiveExt,
		unsafeFilename.ReplaceAllString(version, "_") + archiveExt,
		legacyPrefix + version + archiveExt,
	} {
		if seen[base] {
			continue
		}
		seen[base] = true
		out = append(out, filepath.Join(dir, base))
	}
	return out
}

// LocalArchive is an archive found in the download folder.
type LocalArchive struct {
	Version string
	Path    string
	Size    int64
}

// FindArchive returns the first existing candidate for version.
func FindArchive(dir, version string) (LocalArchive, bool) {
	for _, path := range ArchiveCandidates(dir, version) {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return LocalArchive{Version: version, Path: path, Size: info.Size()}, true
		}
	}
	return LocalArchive{}, false
}

// ListArchives returns every .7z in dir with the version derived from its
// name, in directory order.
func ListArchives(dir string) ([]LocalArchive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []LocalArchive
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), archiveExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		version := strings.TrimSuffix(strings.TrimPrefix(name, legacyPrefix), filepath.Ext(name))
		out = append(out, LocalArchive{Version: version, Path: filepath.Join(dir, name), Size: info.Size()})
	}
	return out, nil
}

// Stat describes the archive at path, deriving its version from the name.
func Stat(path string) (LocalArchive, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return LocalArchive{}, false
	}
	name := filepath.Base(path)
	version := strings.TrimSuffix(strings.TrimPrefix(name, legacyPrefix), filepath.Ext(name))
	return LocalArchive{Version: version, Path: path, Size: info.Size()}, true
}
