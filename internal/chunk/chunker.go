// Package chunk splits document text into token-bounded, overlapping
// segments for embedding and retrieval.
package chunk

import (
	"regexp"
	"strings"
)

// wordRegex matches word tokens. Word characters approximate tokens; no
// semantic tokenizer is used.
var wordRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Split chunks text into segments of at most maxTokens approximate tokens,
// seeding each new chunk with the last overlap words of the previous one.
//
// Approximate length is the sum of len(word)+1 over accumulated words, a
// character-based proxy for tokens rather than a true tokenizer count.
// A single word longer than maxTokens closes the prior chunk and becomes the
// sole new content of the next one; words are never split. Empty or
// whitespace-only input yields no chunks. The function is deterministic:
// identical input and parameters always produce the identical sequence.
func Split(text string, maxTokens, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	words := wordRegex.FindAllString(text, -1)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentLen := 0

	for _, word := range words {
		wordLen := len(word) + 1 // +1 for the joining space

		if currentLen+wordLen > maxTokens && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))

			// Seed the next chunk with the tail of the closed one.
			seed := current
			if len(current) > overlap {
				seed = current[len(current)-overlap:]
			}
			current = make([]string, 0, len(seed)+1)
			current = append(current, seed...)
			current = append(current, word)
			currentLen = 0
			for _, w := range current {
				currentLen += len(w) + 1
			}
		} else {
			current = append(current, word)
			currentLen += wordLen
		}
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

// EstimateTokens returns a rough token count for text, using the common
// heuristic of one token per four characters of English text.
func EstimateTokens(text string) int {
	return len(text) / 4
}
