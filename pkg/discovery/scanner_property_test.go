package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/filebase-dev/filebase/pkg/remote"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var propertyDirs = []string{"", "a", "a/b", "c"}

// buildTree writes one route-source file per directory, placing function
// F<i> in propertyDirs[placement[i]], and binds every function.
func buildTree(t *testing.T, placement []int) (string, *remote.Registry, []string, error) {
	root := t.TempDir()
	reg := remote.NewRegistry()

	sources := make(map[string]*strings.Builder)
	var wantPaths []string
	for i, d := range placement {
		dir := propertyDirs[d]
		sb, ok := sources[dir]
		if !ok {
			sb = &strings.Builder{}
			sb.WriteString("package p\n\nimport \"github.com/filebase-dev/filebase\"\n")
			sources[dir] = sb
		}
		name := fmt.Sprintf("F%d", i)
		fmt.Fprintf(sb, "\n//filebase:remote\nfunc %s(page *filebase.Page) string { return %q }\n", name, name)

		file := filepath.Join(root, filepath.FromSlash(dir), "routes.code.go")
		if err := reg.Bind(file, name, rIndex); err != nil {
			return "", nil, nil, err
		}
		if dir == "" {
			wantPaths = append(wantPaths, "/"+name)
		} else {
			wantPaths = append(wantPaths, "/"+dir+"/"+name)
		}
	}

	for dir, sb := range sources {
		path := filepath.Join(root, filepath.FromSlash(dir), "routes.code.go")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", nil, nil, err
		}
		if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
			return "", nil, nil, err
		}
	}
	return root, reg, wantPaths, nil
}

func TestDiscoveryProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	parameters.MaxSize = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("N unique functions yield N resolvable routes", prop.ForAll(
		func(placement []int) bool {
			root, reg, want, err := buildTree(t, placement)
			if err != nil {
				return false
			}
			table, err := NewScanner(root, WithRegistry(reg), WithLogger(quietLogger())).Build()
			if err != nil || table.Len() != len(placement) {
				return false
			}
			for _, path := range want {
				if _, ok := table.Lookup(path); !ok {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(propertyDirs)-1)),
	))

	properties.Property("a colliding function aborts the whole build", prop.ForAll(
		func(placement []int, victim int) bool {
			root, reg, _, err := buildTree(t, placement)
			if err != nil {
				return false
			}
			victim %= len(placement)
			dir := propertyDirs[placement[victim]]
			name := fmt.Sprintf("F%d", victim)
			dup := filepath.Join(root, filepath.FromSlash(dir), "dup.code.go")
			src := fmt.Sprintf("package p\n\nimport \"github.com/filebase-dev/filebase\"\n\n//filebase:remote\nfunc %s(page *filebase.Page) {}\n", name)
			if err := os.WriteFile(dup, []byte(src), 0o644); err != nil {
				return false
			}

			table, err := NewScanner(root, WithRegistry(reg), WithLogger(quietLogger())).Build()
			return table == nil && err != nil
		},
		gen.SliceOf(gen.IntRange(0, len(propertyDirs)-1)).SuchThat(func(v []int) bool { return len(v) > 0 }),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
