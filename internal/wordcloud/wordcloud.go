// Package wordcloud aggregates free-form word submissions for display.
package wordcloud

import (
	"sort"
	"strings"

	"classroom-quiz-service/internal/domain"
)

// Bucket is one distinct normalized word and how often it was submitted.
// Weight is Count relative to the most frequent word, in (0, 1].
type Bucket struct {
	Word   string  `json:"word"`
	Count  int     `json:"count"`
	Weight float64 `json:"weight"`
}

// FontSize interpolates a display size between min and max by weight.
func (b Bucket) FontSize(min, max float64) float64 {
	return min + (max-min)*b.Weight
}

// Normalize is the grouping key: trimmed and lower-cased.
func Normalize(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

// Aggregate groups entries by normalized word, most frequent first.
func Aggregate(entries []domain.WordCloudEntry) []Bucket {
	counts := make(map[string]int)
	for _, e := range entries {
		key := Normalize(e.Word)
		if key == "" {
			continue
		}
		counts[key]++
	}

	buckets := make([]Bucket, 0, len(counts))
	maxCount := 0
	for word, n := range counts {
		buckets = append(buckets, Bucket{Word: word, Count: n})
		if n > maxCount {
			maxCount = n
		}
	}
	for i := range buckets {
		buckets[i].Weight = float64(buckets[i].Count) / float64(maxCount)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Word < buckets[j].Word
	})
	return buckets
}

// CountByAuthor returns how many entries an author has submitted.
func CountByAuthor(entries []domain.WordCloudEntry, author string) int {
	n := 0
	for _, e := range entries {
		if e.Author == author {
			n++
		}
	}
	return n
}
