package definition

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// snapshot reads every regular file under dir into memory, keyed by
// slash-separated path relative to dir. Parsing operates on the snapshot
// so a definition is either seen whole or not at all.
func snapshot(dir string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// fingerprint digests a snapshot: every relative path and its bytes, in
// sorted path order, separated by NUL so path/content boundaries cannot
// collide. Equal fingerprints mean byte-identical definitions.
func fingerprint(files map[string][]byte) uint64 {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	d := xxhash.New()
	for _, p := range paths {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
		_, _ = d.Write(files[p])
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
