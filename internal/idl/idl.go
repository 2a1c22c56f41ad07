// Package idl defines the core dataset types shared across subsystems.
package idl

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrNoFragments reports that a URL's content yielded zero interface
// definition fragments across every candidate block.
var ErrNoFragments = errors.New("no interface definition fragments extracted")

// Fragment is one parsed interface-definition unit. The grammar parser is an
// external collaborator; this pipeline treats its output as opaque and only
// cares about fragment counts and sequence identity.
type Fragment = json.RawMessage

// Parser turns raw content into zero or more fragments. A "not IDL"
// classification is expected and returns an empty slice, not an error.
type Parser interface {
	Parse(content []byte) ([]Fragment, error)
}

// ParserFunc adapts a plain function to the Parser interface.
type ParserFunc func(content []byte) ([]Fragment, error)

// Parse implements Parser.
func (f ParserFunc) Parse(content []byte) ([]Fragment, error) {
	return f(content)
}

// Record holds the parse results acquired for a single canonical URL.
// Files lists contributing source files in local-file mode.
type Record struct {
	URL    string     `json:"url"`
	Files  []string   `json:"files,omitempty"`
	Parses []Fragment `json:"parses"`
}

// Empty reports whether the record carries no fragments.
func (r Record) Empty() bool {
	return len(r.Parses) == 0
}

// Dataset is an ordered sequence of records, at most one per URL,
// sorted by URL before persistence.
type Dataset []Record

// Sort orders the dataset by URL in place.
func (d Dataset) Sort() {
	sort.Slice(d, func(i, j int) bool { return d[i].URL < d[j].URL })
}

// Get returns the record for url and whether one exists.
func (d Dataset) Get(url string) (Record, bool) {
	for _, rec := range d {
		if rec.URL == url {
			return rec, true
		}
	}
	return Record{}, false
}

// Upsert replaces the record for rec.URL or appends it.
func (d Dataset) Upsert(rec Record) Dataset {
	for i := range d {
		if d[i].URL == rec.URL {
			d[i] = rec
			return d
		}
	}
	return append(d, rec)
}

// FragmentCount sums the fragments across all records.
func (d Dataset) FragmentCount() int {
	total := 0
	for _, rec := range d {
		total += len(rec.Parses)
	}
	return total
}

// Counts returns the per-URL fragment counts.
func (d Dataset) Counts() map[string]int {
	counts := make(map[string]int, len(d))
	for _, rec := range d {
		counts[rec.URL] = len(rec.Parses)
	}
	return counts
}

// Validate checks the at-most-one-record-per-URL invariant.
func (d Dataset) Validate() error {
	seen := make(map[string]struct{}, len(d))
	for _, rec := range d {
		if _, dup := seen[rec.URL]; dup {
			return fmt.Errorf("duplicate dataset record for %s", rec.URL)
		}
		seen[rec.URL] = struct{}{}
	}
	return nil
}
