// Package sections groups a displayed list into header buckets for
// fast-scroll navigation.
package sections

import (
	"sort"
	"unicode"
	"unicode/utf8"
)

// Mode selects how the bucket header is derived from an item's key.
type Mode int

const (
	// ByFirstLetter buckets on the uppercased first rune of the key,
	// so "apple" and "Apple" share the "A" bucket.
	ByFirstLetter Mode = iota
	// ByFullValue buckets on the whole key string, one bucket per
	// distinct value. Used for format-type groupings.
	ByFullValue
)

// Section is one display bucket: a header and the items under it,
// in their original relative order.
type Section[T any] struct {
	Header string
	Items  []T
}

// Indexer derives display buckets from a flat ordered list. It is a
// pure view-layer projection: Reset recomputes everything and nothing
// is persisted. While disabled it produces a single unnamed bucket in
// original order, which avoids flickering bucket membership while a
// fetch is still streaming in.
type Indexer[T any] struct {
	key      func(T) string
	mode     Mode
	enabled  bool
	sections []Section[T]
}

// NewIndexer creates an enabled indexer deriving bucket keys with key.
func NewIndexer[T any](mode Mode, key func(T) string) *Indexer[T] {
	return &Indexer[T]{key: key, mode: mode, enabled: true}
}

// SetEnabled toggles sectioning. Call Reset afterwards to recompute.
func (x *Indexer[T]) SetEnabled(enabled bool) {
	x.enabled = enabled
}

// Enabled reports whether sectioning is currently applied.
func (x *Indexer[T]) Enabled() bool {
	return x.enabled
}

// Reset recomputes the buckets from the given items.
func (x *Indexer[T]) Reset(items []T) {
	if !x.enabled {
		x.sections = []Section[T]{{Items: items}}
		return
	}

	buckets := make(map[string][]T)
	var headers []string
	for _, item := range items {
		header := x.header(x.key(item))
		if _, seen := buckets[header]; !seen {
			headers = append(headers, header)
		}
		buckets[header] = append(buckets[header], item)
	}
	sort.Strings(headers)

	x.sections = make([]Section[T], len(headers))
	for i, header := range headers {
		x.sections[i] = Section[T]{Header: header, Items: buckets[header]}
	}
}

// Sections returns the current buckets in header order.
func (x *Indexer[T]) Sections() []Section[T] {
	return x.sections
}

// IndexTitles returns the fast-scroll titles, one per section.
func (x *Indexer[T]) IndexTitles() []string {
	titles := make([]string, len(x.sections))
	for i, s := range x.sections {
		titles[i] = s.Header
	}
	return titles
}

func (x *Indexer[T]) header(key string) string {
	if x.mode == ByFullValue {
		return key
	}
	if key == "" {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(key)
	return string(unicode.ToUpper(r))
}
