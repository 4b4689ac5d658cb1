package models

// Answer is a composed, citation-grounded answer.
type Answer struct {
	Text         string     `json:"answer_text"`
	Citations    []Citation `json:"citations"`
	ContextsUsed int        `json:"contexts_used"`
}

// QueryResult is the response to a QueryRequest. Contexts is only filled when
// partial results were requested.
type QueryResult struct {
	AnswerText   string              `json:"answer_text"`
	Citations    []Citation          `json:"citations"`
	ContextsUsed int                 `json:"contexts_used"`
	Contexts     []*RetrievedContext `json:"contexts,omitempty"`
	QueryTime    int64               `json:"query_time_ms"`
}

// ComparisonResult is the outcome of comparing papers across aspects.
type ComparisonResult struct {
	ComparisonText  string         `json:"comparison_text"`
	Papers          []PaperSummary `json:"papers"`
	Aspects         []string       `json:"aspects"`
	Citations       []Citation     `json:"citations"`
	UnknownPaperIDs []string       `json:"unknown_paper_ids,omitempty"`
}

// Stats summarises the corpus.
type Stats struct {
	Papers  int `json:"papers"`
	Chunks  int `json:"chunks"`
	Vectors int `json:"vectors"`
}

// Status reports corpus statistics, configuration and the reachability of the
// external collaborators.
type Status struct {
	Stats           Stats                   `json:"stats"`
	VectorIndexType string                  `json:"vector_index_type"`
	Embedding       ServiceInfo             `json:"embedding"`
	LLM             ServiceInfo             `json:"llm"`
	Chunking        ChunkingInfo            `json:"chunking"`
	Collaborators   map[string]Reachability `json:"collaborators"`
	DiskUsageBytes  *int64                  `json:"disk_usage_bytes,omitempty"`
}

// ServiceInfo names the provider and model behind an external service.
type ServiceInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// ChunkingInfo holds the chunker settings in effect.
type ChunkingInfo struct {
	ChunkSize         int `json:"chunk_size"`
	ChunkOverlap      int `json:"chunk_overlap"`
	SentenceTolerance int `json:"sentence_tolerance"`
}

// Reachability is the outcome of one health probe.
type Reachability struct {
	Reachable bool   `json:"reachable"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}
