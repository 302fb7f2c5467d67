package search

import "sort"

// fusedCandidate is a chunk with its combined channel score.
type fusedCandidate struct {
	ChunkID int64
	Score   float64
}

// fuse combines the vector and lexical channels with a weighted linear
// combination: alpha * vectorScore + (1-alpha) * lexicalScore. A chunk
// present in only one channel contributes only that channel's term; absence
// from the other channel is not penalized.
//
// Ordering is descending by combined score with chunk id ascending as the
// tie-break, so equal scores rank deterministically.
func fuse(vectorScores, lexicalScores map[int64]float64, alpha float64) []fusedCandidate {
	combined := make(map[int64]float64, len(vectorScores)+len(lexicalScores))
	for id, score := range vectorScores {
		combined[id] += alpha * score
	}
	for id, score := range lexicalScores {
		combined[id] += (1 - alpha) * score
	}

	candidates := make([]fusedCandidate, 0, len(combined))
	for id, score := range combined {
		candidates = append(candidates, fusedCandidate{ChunkID: id, Score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})
	return candidates
}
