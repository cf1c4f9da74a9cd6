// Package artifactcache hosts a local artifact cache service speaking the
// same protocol the save flow's client does: lookup, reserve, chunked upload,
// commit, download and delete-by-key. It backs the `cachesave serve` command
// so self-hosted rigs without a platform cache service still get the full
// save and refresh flow.
package artifactcache
