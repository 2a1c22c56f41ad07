// Package reconcile decides which per-URL parse records are authoritative
// across scrape passes and the previously persisted dataset.
package reconcile

import (
	"sort"

	"idlharvest/internal/idl"
)

// RetrySet returns the URLs whose first-pass result regressed against the
// prior dataset: no record produced while the prior one was non-empty, or a
// strictly smaller fragment count. Sorted for deterministic scheduling.
func RetrySet(first map[string]idl.Record, prior idl.Dataset) []string {
	var retry []string
	for _, prev := range prior {
		rec, ok := first[prev.URL]
		switch {
		case !ok && !prev.Empty():
			retry = append(retry, prev.URL)
		case ok && len(rec.Parses) < len(prev.Parses):
			retry = append(retry, prev.URL)
		}
	}
	sort.Strings(retry)
	return retry
}

// Resolve merges the first pass, the second (retry) pass, and the prior
// dataset into the final dataset.
//
// For every URL seen in the first pass the first-pass record is the
// baseline. For URLs that went through the retry pass, the winner is the
// highest-fragment-count candidate among prior, first, and second pass; a
// fresh record displaces the prior one only when its count reaches the
// prior count. Both passes falling short of history therefore keeps the
// prior record unchanged: the dataset never silently regresses. Prior URLs
// absent from the input entirely are carried forward.
func Resolve(first, second map[string]idl.Record, prior idl.Dataset) idl.Dataset {
	var out idl.Dataset

	for _, rec := range sortedRecords(first) {
		out = out.Upsert(rec)
	}

	priorCounts := prior.Counts()
	for _, url := range sortedKeys(second) {
		best, hasBest := out.Get(url)
		candidate := second[url]
		if !hasBest || len(candidate.Parses) > len(best.Parses) {
			best = candidate
		}
		if priorCount, hadPrior := priorCounts[url]; hadPrior && len(best.Parses) < priorCount {
			continue // prior record restored below
		}
		out = out.Upsert(best)
	}

	for _, prev := range prior {
		current, ok := out.Get(prev.URL)
		if !ok || len(current.Parses) < len(prev.Parses) {
			out = out.Upsert(prev)
		}
	}

	out.Sort()
	return out
}

func sortedRecords(records map[string]idl.Record) []idl.Record {
	out := make([]idl.Record, 0, len(records))
	for _, url := range sortedKeys(records) {
		out = append(out, records[url])
	}
	return out
}

func sortedKeys(records map[string]idl.Record) []string {
	keys := make([]string, 0, len(records))
	for url := range records {
		keys = append(keys, url)
	}
	sort.Strings(keys)
	return keys
}
