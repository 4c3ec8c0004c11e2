// Package index holds the authoritative fingerprint to filename table of the
// dedup store, together with its startup reconciliation and snapshot persistence.
package index

import (
	"strings"
	"sync"

	"github.com/Nrfhsa/Image-To-URL/internal/fingerprint"
)

// Index maps content fingerprints to stored filenames.
// A reverse filename map keeps RemoveByFilename O(1).
// All methods are safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	entries map[string]string // fingerprint -> filename
	names   map[string]string // filename -> fingerprint
	version uint64
}

// New returns an empty index.
func New() *Index {
	return &Index{
		entries: make(map[string]string),
		names:   make(map[string]string),
	}
}

// Lookup returns the filename stored for fp.
func (ix *Index) Lookup(fp string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	name, ok := ix.entries[fp]
	return name, ok
}

// LookupFilename returns the fingerprint that maps to name.
func (ix *Index) LookupFilename(name string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	fp, ok := ix.names[name]
	return fp, ok
}

// Insert maps fp to name, replacing any previous mapping of either side.
func (ix *Index) Insert(fp, name string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.insertLocked(fp, name)
	ix.version++
}

func (ix *Index) insertLocked(fp, name string) {
	if old, ok := ix.entries[fp]; ok {
		delete(ix.names, old)
	}
	if other, ok := ix.names[name]; ok && other != fp {
		delete(ix.entries, other)
	}
	ix.entries[fp] = name
	ix.names[name] = fp
}

// Remove deletes fp and returns the filename it mapped to.
func (ix *Index) Remove(fp string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	name, ok := ix.entries[fp]
	if !ok {
		return "", false
	}
	delete(ix.entries, fp)
	delete(ix.names, name)
	ix.version++
	return name, true
}

// RemoveIf deletes fp only while it still maps to name.
func (ix *Index) RemoveIf(fp, name string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if current, ok := ix.entries[fp]; !ok || current != name {
		return false
	}
	delete(ix.entries, fp)
	delete(ix.names, name)
	ix.version++
	return true
}

// RemoveByFilename deletes the entry pointing at name and returns its fingerprint.
func (ix *Index) RemoveByFilename(name string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	fp, ok := ix.names[name]
	if !ok {
		return "", false
	}
	delete(ix.entries, fp)
	delete(ix.names, name)
	ix.version++
	return fp, true
}

// Clear removes every entry.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = make(map[string]string)
	ix.names = make(map[string]string)
	ix.version++
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Version increases on every mutation.
func (ix *Index) Version() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.version
}

// Snapshot returns a point-in-time copy of the table and the version it reflects.
func (ix *Index) Snapshot() (map[string]string, uint64) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]string, len(ix.entries))
	for fp, name := range ix.entries {
		out[fp] = name
	}
	return out, ix.version
}

// Restore merges a persisted snapshot into the table. Snapshot entries win
// over existing ones. Malformed entries are skipped; the number applied is returned.
func (ix *Index) Restore(snapshot map[string]string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	applied := 0
	for fp, name := range snapshot {
		if !validEntry(fp, name) {
			continue
		}
		ix.insertLocked(fp, name)
		applied++
	}
	if applied > 0 {
		ix.version++
	}
	return applied
}

// validEntry rejects entries that could never name a file in the blob directory.
func validEntry(fp, name string) bool {
	if !fingerprint.Valid(fp) || name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
