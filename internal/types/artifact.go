package types

import "time"

// ArtifactKind classifies stored blobs.
type ArtifactKind string

const (
	KindSource   ArtifactKind = "source"
	KindABI      ArtifactKind = "abi"
	KindBytecode ArtifactKind = "bytecode"
	KindStandard ArtifactKind = "standard"
)

// Origin records how an artifact entered the store.
type Origin string

const (
	OriginFetched  Origin = "fetched"
	OriginUploaded Origin = "uploaded"
)

// Artifact is an immutable content-addressed blob. ID and Checksum are the
// same "sha256:<hex>" string.
type Artifact struct {
	ID        string       `json:"id"`
	Kind      ArtifactKind `json:"kind"`
	Checksum  string       `json:"checksum"`
	Origin    Origin       `json:"origin"`
	Name      string       `json:"name,omitempty"`
	Size      int          `json:"size"`
	CreatedAt time.Time    `json:"created_at"`
}

// EvidenceSpan is a located, immutable excerpt usable as a citation target.
type EvidenceSpan struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	Path       string  `json:"path,omitempty"`
	StartByte  int     `json:"start_byte"`
	EndByte    int     `json:"end_byte"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Symbol     string  `json:"symbol,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score,omitempty"`
}
