package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePath(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"existing", dir, dir},
		{"missing tail", filepath.Join(dir, "out", "results"), filepath.Join(dir, "out", "results")},
		{"home", "~", mustResolve(t, home)},
		{"under home", "~/sheetjobs-missing-dir", filepath.Join(mustResolve(t, home), "sheetjobs-missing-dir")},
		{"tilde name", filepath.Join(dir, "~x"), filepath.Join(dir, "~x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(tt.in)
			if err != nil {
				t.Fatalf("ResolvePath(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ResolvePath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolvePathSymlink(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(dir, "real")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	got, err := ResolvePath(filepath.Join(link, "new.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(target, "new.csv"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolvePathEmpty(t *testing.T) {
	wd, _ := os.Getwd()
	got, err := ResolvePath("")
	if err != nil || got != wd {
		t.Errorf("ResolvePath(\"\") = %q, %v; want %q", got, err, wd)
	}
}

func mustResolve(t *testing.T, p string) string {
	t.Helper()
	r, err := filepath.EvalSymlinks(p)
	if err != nil {
		return p
	}
	return r
}
