package core

// Embedding is a fixed-length feature vector produced by the extractor.
// All embeddings held by one process share the same dimensionality.
type Embedding []float32

// Dim returns the dimensionality of the embedding.
func (e Embedding) Dim() int { return len(e) }

// Clone returns a deep copy of the embedding.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Match pairs a corpus index with its similarity to the query.
type Match struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Recommendation is a ranked match resolved to its catalog filename.
type Recommendation struct {
	Filename string  `json:"filename"`
	Index    int     `json:"index"`
	Score    float64 `json:"score"`
}
