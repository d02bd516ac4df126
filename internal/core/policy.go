package core

import "fmt"

// DuplicatePolicy decides what happens to corpus entries whose embedding is
// indistinguishable from the query (for example when the uploaded photo is
// itself a catalog image).
type DuplicatePolicy string

const (
	// DuplicatesKeep returns duplicates as ordinary, top-ranked results.
	DuplicatesKeep DuplicatePolicy = "keep"
	// DuplicatesDrop removes entries scoring within epsilon of 1.0.
	DuplicatesDrop DuplicatePolicy = "drop"
)

// ParseDuplicatePolicy validates a policy name.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case DuplicatesKeep, "":
		return DuplicatesKeep, nil
	case DuplicatesDrop:
		return DuplicatesDrop, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q", s)
	}
}

// RankingMode selects how candidates are produced before exact ranking.
type RankingMode string

const (
	// RankingExact scores every corpus entry.
	RankingExact RankingMode = "exact"
	// RankingHNSW scores only candidates proposed by an HNSW graph.
	RankingHNSW RankingMode = "hnsw"
)

// ParseRankingMode validates a mode name.
func ParseRankingMode(s string) (RankingMode, error) {
	switch RankingMode(s) {
	case RankingExact, "":
		return RankingExact, nil
	case RankingHNSW:
		return RankingHNSW, nil
	default:
		return "", fmt.Errorf("unknown ranking mode %q", s)
	}
}
