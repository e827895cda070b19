package types

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

// MinClusterSize is the smallest cluster the clustering processor analyzes.
const MinClusterSize = 3

// Cluster is an ephemeral group of related memories analyzed jointly.
// It is never persisted as its own entity.
type Cluster struct {
	ID           string
	Basis        string // type, similarity, external
	Memories     []*Memory
	CommonTags   []string
	CommonThemes []string
	Earliest     time.Time
	Latest       time.Time
	TimeSpanDays int
}

// NewCluster builds a cluster and computes its derived attributes.
func NewCluster(id, basis string, memories []*Memory) *Cluster {
	c := &Cluster{ID: id, Basis: basis, Memories: memories}
	c.computeTimeSpan()
	c.CommonTags = commonTags(memories)
	c.CommonThemes = commonThemes(memories, 10)
	return c
}

// Size returns the number of member memories.
func (c *Cluster) Size() int { return len(c.Memories) }

// MemberIDs returns the ids of all members in order.
func (c *Cluster) MemberIDs() []string {
	ids := make([]string, 0, len(c.Memories))
	for _, m := range c.Memories {
		ids = append(ids, m.ID)
	}
	return ids
}

// TypeCounts returns the number of members per memory type.
func (c *Cluster) TypeCounts() map[string]int {
	counts := make(map[string]int)
	for _, m := range c.Memories {
		counts[m.MemoryType]++
	}
	return counts
}

func (c *Cluster) computeTimeSpan() {
	for _, m := range c.Memories {
		if m.CreatedAt.IsZero() {
			continue
		}
		if c.Earliest.IsZero() || m.CreatedAt.Before(c.Earliest) {
			c.Earliest = m.CreatedAt
		}
		if c.Latest.IsZero() || m.CreatedAt.After(c.Latest) {
			c.Latest = m.CreatedAt
		}
	}
	if !c.Earliest.IsZero() {
		c.TimeSpanDays = int(math.Ceil(c.Latest.Sub(c.Earliest).Hours() / 24))
	}
}

// threshold is the number of members a tag or theme must appear in to count as common.
func threshold(n int) int {
	t := (n + 1) / 2
	if t < 2 {
		t = 2
	}
	return t
}

func commonTags(memories []*Memory) []string {
	counts := make(map[string]int)
	for _, m := range memories {
		seen := make(map[string]bool)
		for _, tag := range m.Tags {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			counts[tag]++
		}
	}
	return rankTerms(counts, threshold(len(memories)), 0)
}

var stopWords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true, "were": true,
	"been": true, "will": true, "would": true, "should": true, "could": true, "there": true,
	"their": true, "them": true, "then": true, "than": true, "when": true, "what": true,
	"which": true, "while": true, "where": true, "into": true, "about": true, "after": true,
	"before": true, "also": true, "only": true, "some": true, "more": true, "most": true,
	"other": true, "such": true, "very": true, "just": true, "because": true, "these": true,
	"those": true, "being": true, "does": true, "doing": true, "each": true, "here": true,
}

// ContentTerms splits text into lowercase terms of at least four letters,
// dropping common stop words.
func ContentTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 4 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func commonThemes(memories []*Memory, limit int) []string {
	counts := make(map[string]int)
	for _, m := range memories {
		seen := make(map[string]bool)
		for _, term := range ContentTerms(m.Content) {
			if seen[term] {
				continue
			}
			seen[term] = true
			counts[term]++
		}
	}
	return rankTerms(counts, threshold(len(memories)), limit)
}

// rankTerms returns terms with count >= min, most frequent first, ties alphabetical.
func rankTerms(counts map[string]int, min, limit int) []string {
	var out []string
	for term, n := range counts {
		if n >= min {
			out = append(out, term)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
