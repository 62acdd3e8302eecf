// Package search filters an in-memory snapshot of book metadata with
// case-insensitive AND-of-terms substring matching.
package search

import (
	"strconv"
	"strings"

	"github.com/jdmarshall90/libreca/internal/entities"
)

// SplitTerms breaks a raw query on whitespace. An all-whitespace
// query yields no terms.
func SplitTerms(query string) []string {
	return strings.Fields(query)
}

// Filter returns the records matching every term. A record matches a
// term when any searchable field contains it, case-insensitively. An
// empty term list returns the input unchanged, which makes no-op
// queries the identity.
func Filter(records []entities.BookRecord, terms []string) []entities.BookRecord {
	if len(terms) == 0 {
		return records
	}

	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}

	var matches []entities.BookRecord
	for _, record := range records {
		if matchesAll(record, lowered) {
			matches = append(matches, record)
		}
	}
	return matches
}

func matchesAll(record entities.BookRecord, terms []string) bool {
	for _, term := range terms {
		if !matchesTerm(record, term) {
			return false
		}
	}
	return true
}

// matchesTerm scans the record's searchable fields lazily, stopping
// at the first hit. Date fields render through the display formatter
// so a query typed against a displayed date matches exactly.
func matchesTerm(record entities.BookRecord, term string) bool {
	if contains(record.Title, term) {
		return true
	}
	if contains(strconv.Itoa(int(record.Rating)), term) {
		return true
	}
	for _, author := range record.Authors {
		if contains(author.Name, term) {
			return true
		}
	}
	if record.Series != nil && contains(record.Series.Name, term) {
		return true
	}
	if contains(record.Comments, term) {
		return true
	}
	for _, code := range record.Languages {
		if contains(entities.DisplayLanguage(code), term) {
			return true
		}
	}
	for _, identifier := range record.Identifiers {
		if contains(identifier.Source, term) || contains(identifier.UniqueID, term) {
			return true
		}
	}
	for _, tag := range record.Tags {
		if contains(tag, term) {
			return true
		}
	}
	for _, date := range []string{
		entities.FormatDate(record.Published),
		entities.FormatDate(record.Added),
		entities.FormatDate(record.Modified),
	} {
		if contains(date, term) {
			return true
		}
	}
	return false
}

func contains(field, loweredTerm string) bool {
	return strings.Contains(strings.ToLower(field), loweredTerm)
}
