package retrieval

import (
	"sort"

	"github.com/kailas-cloud/noesis/internal/domain"
)

// rrfK is the Reciprocal Rank Fusion constant (standard value from Cormack et al. 2009).
const rrfK = 60

// fuseRRF merges vector and lexical chunk rankings via Reciprocal Rank Fusion.
// score(c) = sum of 1/(k + rank_i(c)) for each ranking where c appears.
func fuseRRF(vector, lexical []domain.ChunkMatch, topK int) []domain.ChunkMatch {
	type scored struct {
		match domain.ChunkMatch
		score float64
	}

	merged := make(map[string]*scored)

	for rank, m := range vector {
		merged[m.ChunkID] = &scored{match: m, score: 1.0 / float64(rrfK+rank+1)}
	}

	for rank, m := range lexical {
		s := 1.0 / float64(rrfK+rank+1)
		if existing, ok := merged[m.ChunkID]; ok {
			existing.score += s
		} else {
			merged[m.ChunkID] = &scored{match: m, score: s}
		}
	}

	results := make([]domain.ChunkMatch, 0, len(merged))
	for _, s := range merged {
		m := s.match
		m.Score = s.score
		results = append(results, m)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results
}
