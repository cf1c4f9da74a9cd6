// Package cacheclient implements the client side of the artifact cache
// protocol: lookup, reserve, chunked upload, commit and delete-by-key, plus
// the archiving step that turns a set of path patterns into the uploaded
// artifact.
package cacheclient

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"runtime"
)

// compressionMethod takes part in the cache version so entries written with a
// different archive format never collide.
const compressionMethod = "zstd"

// Version computes the cache version hash for a set of path patterns. Two
// saves address the same entry only when key and version both match. The
// platform is salted in unless the archive is marked cross-OS.
func Version(patterns []string, crossOSArchive bool) string {
	h := sha256.New()
	for _, p := range patterns {
		_, _ = io.WriteString(h, p)
		h.Write([]byte{0})
	}
	_, _ = io.WriteString(h, compressionMethod)
	if !crossOSArchive {
		_, _ = io.WriteString(h, runtime.GOOS)
	}
	return hex.EncodeToString(h.Sum(nil))
}
