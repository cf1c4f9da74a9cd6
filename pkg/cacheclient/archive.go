package cacheclient

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zstd"
)

// SplitPatterns separates a normalized pattern list into include and exclude
// patterns. Exclusions carry a leading "!".
func SplitPatterns(patterns []string) (includes, excludes []string) {
	for _, p := range patterns {
		if rest, ok := strings.CutPrefix(p, "!"); ok {
			if rest != "" {
				excludes = append(excludes, rest)
			}
			continue
		}
		includes = append(includes, p)
	}
	return includes, excludes
}

// ResolvePatterns expands glob patterns relative to root into the sorted set
// of regular files and symlinks to archive. A pattern matching a directory
// pulls in its whole subtree. A path is dropped when it, or any of its parent
// directories, matches an exclude pattern.
func ResolvePatterns(root string, patterns []string) ([]string, error) {
	includes, excludes := SplitPatterns(patterns)
	fsys := os.DirFS(root)

	seen := map[string]struct{}{}
	for _, pattern := range includes {
		matches, err := doublestar.Glob(fsys, filepath.ToSlash(pattern))
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			info, err := os.Lstat(filepath.Join(root, filepath.FromSlash(match)))
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				seen[match] = struct{}{}
				continue
			}
			err = fs.WalkDir(fsys, match, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() {
					seen[path] = struct{}{}
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	var files []string
	for path := range seen {
		if excluded(path, excludes) {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}

func excluded(path string, excludes []string) bool {
	for _, pattern := range excludes {
		pattern = filepath.ToSlash(pattern)
		for p := path; p != "." && p != "/"; p = filepath.ToSlash(filepath.Dir(p)) {
			if ok, err := doublestar.Match(pattern, p); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// CreateArchive writes the given root-relative files into a zstd-compressed
// tarball in the temp directory and returns its path and size. The caller
// removes the file when done.
func CreateArchive(ctx context.Context, root string, files []string) (string, int64, error) {
	f, err := os.CreateTemp("", "cachesave-*.tzst")
	if err != nil {
		return "", 0, err
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", 0, err
	}
	tw := tar.NewWriter(zw)

	err = func() error {
		for _, rel := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := writeFile(tw, root, rel); err != nil {
				return err
			}
		}
		if err := tw.Close(); err != nil {
			return err
		}
		return zw.Close()
	}()
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", 0, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", 0, err
	}
	return f.Name(), info.Size(), nil
}

func writeFile(tw *tar.Writer, root, rel string) error {
	full := filepath.Join(root, filepath.FromSlash(rel))
	fi, err := os.Lstat(full)
	if err != nil {
		return err
	}

	linkName := ""
	if fi.Mode()&os.ModeSymlink != 0 {
		if linkName, err = os.Readlink(full); err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(fi, linkName)
	if err != nil {
		return err
	}
	header.Name = rel

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return nil
	}

	src, err := os.Open(full)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(tw, src)
	return err
}
