// Package installation inspects an extracted Diagbox package on disk.
package installation

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// ErrNotInstalled is returned when the package root or one of its marker
// files does not exist.
var ErrNotInstalled = errors.New("diagbox is not installed")

var (
	versionFile  = filepath.Join("bin", "fi", "Version.ini")
	languageFile = filepath.Join("dtrd", "Trans", "Language.ini")
	launcherFile = filepath.Join("bin", "launcher", "Diagbox.exe")
)

// Languages lists the codes understood by Diagbox, in menu order.
var Languages = []Language{
	{Code: "en_GB", Name: "English"},
	{Code: "fr_FR", Name: "Français"},
	{Code: "it_IT", Name: "Italiano"},
	{Code: "nl_NL", Name: "Nederlands"},
	{Code: "pl_PL", Name: "Polski"},
	{Code: "pt_PT", Name: "Português"},
	{Code: "ru_RU", Name: "Русский"},
	{Code: "tr_TR", Name: "Türkçe"},
	{Code: "sv_SE", Name: "Svenska"},
	{Code: "da_DK", Name: "Dansk"},
	{Code: "cs_CZ", Name: "Čeština"},
	{Code: "de_DE", Name: "Deutsch"},
	{Code: "el_GR", Name: "Ελληνικά"},
	{Code: "hr_HR", Name: "Hrvatski"},
	{Code: "zh_CN", Name: "中文"},
	{Code: "ja_JP", Name: "日本語"},
	{Code: "es_ES", Name: "Español"},
	{Code: "sl_SI", Name: "Slovenščina"},
	{Code: "hu_HU", Name: "Magyar"},
	{Code: "fi_FI", Name: "Suomi"},
}

// Language is a selectable Diagbox interface language.
type Language struct {
	Code string
	Name string
}

// LookupLanguage returns the display name for code, or code itself.
func LookupLanguage(code string) string {
	for _, l := range Languages {
		if strings.EqualFold(l.Code, code) {
			return l.Name
		}
	}
	return code
}

// Diagbox rewrites these files itself and expects unpadded key=value lines.
func init() {
	ini.PrettyFormat = false
	ini.PrettyEqual = false
}

var loadOptions = ini.LoadOptions{
	SkipUnrecognizableLines: true,
	IgnoreInlineComment:     true,
	AllowShadows:            false,
}

// VersionPath returns the version marker under root.
func VersionPath(root string) string { return filepath.Join(root, versionFile) }

// LanguagePath returns the language file under root.
func LanguagePath(root string) string { return filepath.Join(root, languageFile) }

// LauncherPath returns the Diagbox launcher under root.
func LauncherPath(root string) string { return filepath.Join(root, launcherFile) }

// InstalledVersion reads the Version key of Version.ini. The key may live in
// any section.
func InstalledVersion(root string) (string, error) {
	file, err := load(VersionPath(root))
	if err != nil {
		return "", err
	}
	for _, section := range file.Sections() {
		if key, err := section.GetKey("Version"); err == nil {
			if v := strings.TrimSpace(key.String()); v != "" {
				return v, nil
			}
		}
	}
	return "", errors.Errorf("no Version entry in %s", VersionPath(root))
}

// CurrentLanguage returns the value of the first entry in Language.ini.
func CurrentLanguage(root string) (string, error) {
	file, err := load(LanguagePath(root))
	if err != nil {
		return "", err
	}
	for _, section := range file.Sections() {
		keys := section.Keys()
		if len(keys) > 0 {
			return strings.TrimSpace(keys[0].String()), nil
		}
	}
	return "", errors.Errorf("no language entry in %s", LanguagePath(root))
}

// SetLanguage sets every entry of Language.ini to code.
func SetLanguage(root, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("language code is empty")
	}

	path := LanguagePath(root)
	file, err := load(path)
	if err != nil {
		return err
	}

	changed := 0
	for _, section := range file.Sections() {
		for _, key := range section.Keys() {
			key.SetValue(code)
			changed++
		}
	}
	if changed == 0 {
		return errors.Errorf("no language entry in %s", path)
	}

	if err := file.SaveTo(path); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// Installed reports whether the launcher exists under root.
func Installed(root string) bool {
	_, err := os.Stat(LauncherPath(root))
	return err == nil
}

func load(path string) (*ini.File, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotInstalled, path)
		}
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}
	file, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return file, nil
}
