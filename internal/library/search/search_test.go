package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdmarshall90/libreca/internal/entities"
)

func sampleBooks() []entities.BookRecord {
	pubdate := time.Date(2011, time.February, 8, 0, 0, 0, 0, time.UTC)
	return []entities.BookRecord{
		{
			ID:        1,
			Title:     "The Martian",
			Authors:   []entities.Author{{Name: "Andy Weir", SortKey: "Weir, Andy"}},
			Rating:    entities.RatingFourStars,
			Tags:      []string{"Science Fiction"},
			Languages: []string{"eng"},
			Identifiers: []entities.Identifier{
				{Source: "isbn", UniqueID: "9780553418026"},
			},
			Comments:  "An astronaut stranded on Mars.",
			Published: &pubdate,
		},
		{
			ID:      2,
			Title:   "Leviathan Wakes",
			Authors: []entities.Author{{Name: "James S. A. Corey", SortKey: "Corey, James S. A."}},
			Series:  &entities.Series{Name: "The Expanse", Index: 1},
			Rating:  entities.RatingFiveStars,
		},
		{
			ID:        3,
			Title:     "Solaris",
			Authors:   []entities.Author{{Name: "Stanislaw Lem", SortKey: "Lem, Stanislaw"}},
			Languages: []string{"pl"},
		},
	}
}

func TestSplitTerms(t *testing.T) {
	assert.Equal(t, []string{"mars", "weir"}, SplitTerms("  mars   weir "))
	assert.Empty(t, SplitTerms("   "))
	assert.Empty(t, SplitTerms(""))
}

func TestFilter_NoTermsIsIdentity(t *testing.T) {
	books := sampleBooks()
	assert.Equal(t, books, Filter(books, nil))
}

func TestFilter_CaseInsensitive(t *testing.T) {
	matches := Filter(sampleBooks(), []string{"MARTIAN"})
	require.Len(t, matches, 1)
	assert.Equal(t, 1, matches[0].ID)
}

func TestFilter_AllTermsMustMatch(t *testing.T) {
	// "martian" and "weir" both hit book 1; "martian corey" hits nothing.
	matches := Filter(sampleBooks(), []string{"martian", "weir"})
	require.Len(t, matches, 1)
	assert.Equal(t, 1, matches[0].ID)

	assert.Empty(t, Filter(sampleBooks(), []string{"martian", "corey"}))
}

func TestFilter_MatchesAcrossFields(t *testing.T) {
	tests := []struct {
		name string
		term string
		ids  []int
	}{
		{"author", "corey", []int{2}},
		{"series", "expanse", []int{2}},
		{"tag", "science fic", []int{1}},
		{"identifier source", "isbn", []int{1}},
		{"identifier value", "9780553418026", []int{1}},
		{"comments", "stranded", []int{1}},
		{"language display name", "polish", []int{3}},
		{"formatted date", "feb 8, 2011", []int{1}},
		{"rating digit", "5", []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := Filter(sampleBooks(), SplitTerms(tt.term))
			var ids []int
			for _, m := range matches {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestFilter_IsIdempotent(t *testing.T) {
	terms := []string{"corey"}
	once := Filter(sampleBooks(), terms)
	twice := Filter(once, terms)
	assert.Equal(t, once, twice)
}

func TestFilter_PreservesInputOrder(t *testing.T) {
	// Both remaining books match "s"; their relative order survives.
	matches := Filter(sampleBooks(), []string{"a"})
	require.True(t, len(matches) >= 2)
	for i := 1; i < len(matches); i++ {
		assert.Less(t, matches[i-1].ID, matches[i].ID)
	}
}
