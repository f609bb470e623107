package model

// ChunkMetadata carries the optional provenance fields attached to a chunk.
// All fields are optional; which ones are set depends on the source type.
type ChunkMetadata struct {
	SourceFile   string `json:"source_file,omitempty"`
	PageNumber   int    `json:"page_number,omitempty"`
	SectionTitle string `json:"section_title,omitempty"`
}

// Chunk is the unit of embedding and retrieval. Chunks are immutable once
// written and are removed only by cascading document deletion.
type Chunk struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	Content    string        `json:"content"`
	ChunkIndex int           `json:"chunk_index"`
	Embedding  []float32     `json:"-"`
	TokenCount int           `json:"token_count"`
	Metadata   ChunkMetadata `json:"metadata"`
}
