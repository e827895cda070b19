package engine

import "github.com/scrypster/memento-insights/pkg/types"

// Deduplicator merges drafts that share a signature within one processing pass.
type Deduplicator struct{}

// Deduplicate keeps the first draft for each signature. A later duplicate is
// dropped after raising the kept draft's confidence to the higher of the two.
// The relative order of the kept drafts is preserved, so running Deduplicate on
// its own output returns it unchanged.
func (Deduplicator) Deduplicate(drafts []*types.Insight) []*types.Insight {
	kept := make([]*types.Insight, 0, len(drafts))
	bySignature := make(map[string]*types.Insight, len(drafts))
	for _, in := range drafts {
		if in == nil {
			continue
		}
		sig := in.Signature()
		if first, ok := bySignature[sig]; ok {
			if in.ConfidenceScore > first.ConfidenceScore {
				first.ConfidenceScore = in.ConfidenceScore
			}
			continue
		}
		bySignature[sig] = in
		kept = append(kept, in)
	}
	return kept
}
