// Package dependencies resolves an AL project's app.json declarations
// against the .app files staged in its .alpackages folder.
package dependencies

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/SShadowS/al-call-hierarchy/internal/core/errors"
)

// Declaration is one entry of app.json's dependencies array.
type Declaration struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Publisher string `json:"publisher"`
	Version   string `json:"version"`
}

// AppManifest is the subset of app.json this resolver reads. idRanges and
// every other field are ignored.
type AppManifest struct {
	Name         string        `json:"name"`
	Publisher    string        `json:"publisher"`
	Version      string        `json:"version"`
	Dependencies []Declaration `json:"dependencies"`
}

// Resolved pairs a declaration with the .app file chosen to satisfy it.
type Resolved struct {
	Declaration Declaration
	Path        string
	Version     string
}

// Missing records a declaration no candidate file satisfied.
type Missing struct {
	Declaration Declaration
	Reason      string
}

// ReadManifest loads app.json from projectRoot. A missing file is not an
// error: it yields an empty manifest, matching the "no app.json -> empty
// dependency set" rule.
func ReadManifest(projectRoot string) (*AppManifest, error) {
	data, err := os.ReadFile(filepath.Join(projectRoot, "app.json"))
	if os.IsNotExist(err) {
		return &AppManifest{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIO, "read app.json")
	}
	var m AppManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, errors.CodeManifestError, "parse app.json")
	}
	return &m, nil
}

// packageFileName matches the .alpackages naming convention
// Publisher_Name_Version.app.
var packageFileName = regexp.MustCompile(`^(.+)_(.+)_(\d[\d.]*)\.app$`)

type candidate struct {
	path      string
	publisher string
	name      string
	version   string
}

// ResolveAll reads app.json under projectRoot and matches every declared
// dependency against the .app files in projectRoot/.alpackages. A missing
// .alpackages directory produces a Missing entry for every declaration
// (logged as a warning by the caller) rather than an error; a single
// dependency failing to resolve never aborts the rest.
func ResolveAll(projectRoot string) ([]Resolved, []Missing, error) {
	manifest, err := ReadManifest(projectRoot)
	if err != nil {
		return nil, nil, err
	}
	if len(manifest.Dependencies) == 0 {
		return nil, nil, nil
	}

	candidates, err := scanPackages(filepath.Join(projectRoot, ".alpackages"))
	if err != nil {
		// No .alpackages folder: every declaration is unresolved, but
		// this is not a hard error.
		var missing []Missing
		for _, d := range manifest.Dependencies {
			missing = append(missing, Missing{Declaration: d, Reason: "no .alpackages folder"})
		}
		return nil, missing, nil
	}

	var resolved []Resolved
	var missing []Missing
	for _, decl := range manifest.Dependencies {
		best := findMatchingApp(candidates, decl)
		if best == nil {
			missing = append(missing, Missing{Declaration: decl, Reason: "no compatible package found"})
			continue
		}
		resolved = append(resolved, Resolved{Declaration: decl, Path: best.path, Version: best.version})
	}
	return resolved, missing, nil
}

func scanPackages(dir string) ([]candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := packageFileName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		out = append(out, candidate{
			path:      filepath.Join(dir, e.Name()),
			publisher: m[1],
			name:      m[2],
			version:   m[3],
		})
	}
	return out, nil
}

// findMatchingApp picks the highest version among candidates that matches
// decl's name/publisher and is compatible with decl's declared version.
// Ties (equal version) are broken by lexicographic path order.
func findMatchingApp(candidates []candidate, decl Declaration) *candidate {
	var matches []candidate
	for _, c := range candidates {
		if !strings.EqualFold(c.name, decl.Name) {
			continue
		}
		if decl.Publisher != "" && !strings.EqualFold(c.publisher, decl.Publisher) {
			continue
		}
		if !isVersionCompatible(decl.Version, c.version) {
			continue
		}
		matches = append(matches, c)
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool {
		if cmp := compareVersions(matches[i].version, matches[j].version); cmp != 0 {
			return cmp > 0
		}
		return matches[i].path < matches[j].path
	})
	best := matches[0]
	return &best
}

// parseVersion splits s on '.' and keeps only the components that parse as
// non-negative integers, in order, regardless of how many parts s has.
func parseVersion(s string) []uint64 {
	parts := strings.Split(s, ".")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// isVersionCompatible compares only the first two components
// (Major.Minor). actual is compatible if it is >= required at the first
// differing component among those two; equal through both counts as
// compatible too. Build/revision are never consulted.
func isVersionCompatible(required, actual string) bool {
	req := parseVersion(required)
	act := parseVersion(actual)
	for i := 0; i < 2; i++ {
		r := component(req, i)
		a := component(act, i)
		if a > r {
			return true
		}
		if a < r {
			return false
		}
	}
	return true
}

// compareVersions compares a and b component-wise over the full version,
// returning 1, 0, or -1; missing trailing components are treated as 0.
func compareVersions(a, b string) int {
	av := parseVersion(a)
	bv := parseVersion(b)
	n := len(av)
	if len(bv) > n {
		n = len(bv)
	}
	for i := 0; i < n; i++ {
		ai := component(av, i)
		bi := component(bv, i)
		if ai != bi {
			if ai > bi {
				return 1
			}
			return -1
		}
	}
	return 0
}

func component(v []uint64, i int) uint64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}
