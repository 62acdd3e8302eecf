// Package sortpolicy holds the library comparators: by title sort key
// or by primary-author sort key with series tie-breaks.
package sortpolicy

import (
	"math"
	"sort"
	"strings"

	"github.com/jdmarshall90/libreca/internal/entities"
)

// noSeriesIndex sorts indexless series entries before every numbered one.
var noSeriesIndex = math.Inf(-1)

// Less orders two resolved records under the given option. Comparison
// always runs on the dedicated sort-key strings, never the display
// strings.
func Less(opt entities.SortOption, a, b entities.BookRecord) bool {
	switch opt {
	case entities.SortByAuthor:
		return lessByAuthor(a, b)
	default:
		return lessByTitle(a, b)
	}
}

func lessByTitle(a, b entities.BookRecord) bool {
	return strings.Compare(a.TitleSort, b.TitleSort) < 0
}

// lessByAuthor compares primary-author sort keys and breaks ties on
// series name, then series index. Books without a series carry the
// empty-string sentinel and sort before any named series; a series
// entry without an index sorts before every numbered entry.
func lessByAuthor(a, b entities.BookRecord) bool {
	if cmp := strings.Compare(a.PrimaryAuthor().SortKey, b.PrimaryAuthor().SortKey); cmp != 0 {
		return cmp < 0
	}
	if cmp := strings.Compare(seriesName(a), seriesName(b)); cmp != 0 {
		return cmp < 0
	}
	return seriesIndex(a) < seriesIndex(b)
}

func seriesName(r entities.BookRecord) string {
	if r.Series == nil {
		return ""
	}
	return r.Series.Name
}

func seriesIndex(r entities.BookRecord) float64 {
	if r.Series == nil {
		return noSeriesIndex
	}
	return r.Series.Index
}

// Apply sorts the working array in place under the given option.
// Resolved slots always precede pending and failed slots so loaded
// items read first during progressive population; relative order
// among non-resolved slots is preserved.
func Apply(opt entities.SortOption, results []entities.FetchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		aResolved := a.State == entities.FetchResolved
		bResolved := b.State == entities.FetchResolved
		if aResolved != bResolved {
			return aResolved
		}
		if !aResolved {
			// Stable sort keeps the existing order between two
			// non-resolved slots.
			return false
		}
		return Less(opt, *a.Book, *b.Book)
	})
}
