package models

import (
	"strconv"
	"time"
)

// Metadata keys shared by loaders, the pipeline and the stores.
const (
	MetaSource   = "source"
	MetaPage     = "page"
	MetaSheet    = "sheet"
	MetaChunkID  = "chunk_id"
	MetaName     = "name"
	MetaType     = "type"
	MetaSize     = "size"
	MetaUniqueID = "unique_id"
)

// Document is a unit of source text with scalar metadata, as produced by a loader.
type Document struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Source returns the origin recorded by the loader.
func (d Document) Source() string { return d.Metadata[MetaSource] }

// Chunk represents a parsed chunk with metadata. Start and End are rune
// offsets into the document text.
type Chunk struct {
	Content       string            `json:"content"`
	Metadata      map[string]string `json:"metadata"`
	DocumentIndex int               `json:"document_index"`
	ChunkID       int               `json:"chunk_id"`
	Start         int               `json:"start"`
	End           int               `json:"end"`
}

// RecordID derives a stable identifier so re-ingesting the same source
// overwrites its records.
func (c Chunk) RecordID() string {
	src := c.Metadata[MetaSource]
	if src == "" {
		src = "doc" + strconv.Itoa(c.DocumentIndex)
	}
	if page := c.Metadata[MetaPage]; page != "" {
		src += "-" + page
	}
	if sheet := c.Metadata[MetaSheet]; sheet != "" {
		src += "-" + sheet
	}
	return src + "-" + strconv.Itoa(c.ChunkID)
}

// IndexRecord is what an index store persists for one chunk.
type IndexRecord struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
	Embedding []float32         `json:"embedding"`
}

// Match is one entry of a similarity query.
type Match struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float32           `json:"score"`
}

// RetrievalResult is ordered by descending score.
type RetrievalResult []Match

// Texts returns the matched contents in rank order.
func (r RetrievalResult) Texts() []string {
	out := make([]string, len(r))
	for i, m := range r {
		out[i] = m.Content
	}
	return out
}

// Metric is the similarity function an index is created with.
type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricEuclidean  Metric = "euclidean"
	MetricDotProduct Metric = "dotproduct"
)

// IndexInfo describes an existing index.
type IndexInfo struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    Metric `json:"metric"`
	Count     int    `json:"count"`
}

// Role of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of an interaction log.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Ticket is a support request routed to a department.
type Ticket struct {
	Text       string    `json:"text"`
	Department string    `json:"department"`
	CreatedAt  time.Time `json:"created_at"`
}
