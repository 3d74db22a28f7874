package retrieval

import "sort"

// DefaultFusionK is the standard RRF smoothing constant.
const DefaultFusionK = 60

// Fuse merges two ranked candidate lists with Reciprocal Rank Fusion.
//
// Each list contributes 1/(k+rank+1) per candidate, with rank counted from
// zero. The semantic list is processed first and its payload is canonical
// for a key; a keyword payload is used only for keys the semantic list did
// not produce. Ties in accumulated score are broken by the order keys were
// first seen, so semantic-discovered keys sort ahead of keyword-only keys
// at equal score and the output is deterministic for identical input.
//
// Fuse is a pure function: it never fails, and an empty list from one
// source reduces fusion to rank-based scoring of the other.
func Fuse(keyword, semantic []Candidate, k, topK int) []FusedResult {
	if k <= 0 {
		k = DefaultFusionK
	}

	type entry struct {
		key      string
		score    float64
		payload  SchemaObject
		inserted int
	}

	byKey := make(map[string]*entry)
	order := make([]*entry, 0, len(keyword)+len(semantic))

	accumulate := func(list []Candidate, canonicalPayload bool) {
		for rank, c := range list {
			if c.Key == "" {
				continue
			}
			e, ok := byKey[c.Key]
			if !ok {
				e = &entry{key: c.Key, payload: c.Payload, inserted: len(order)}
				byKey[c.Key] = e
				order = append(order, e)
			} else if canonicalPayload {
				e.payload = c.Payload
			}
			e.score += 1.0 / float64(k+rank+1)
		}
	}

	// Semantic first: payload priority and tie-break position.
	accumulate(semantic, true)
	accumulate(keyword, false)

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].score != order[j].score {
			return order[i].score > order[j].score
		}
		return order[i].inserted < order[j].inserted
	})

	if topK > 0 && len(order) > topK {
		order = order[:topK]
	}

	results := make([]FusedResult, len(order))
	for i, e := range order {
		results[i] = FusedResult{Key: e.key, Score: e.score, Payload: e.payload}
	}
	return results
}
