// Package model holds the JSON payloads returned by capture queries.
package model

// FieldRow maps a requested field to its value. A value is either a string
// or, for multi-occurrence fields, a []string in capture order.
type FieldRow map[string]any

// Timeline is the result of a multi-field extraction.
type Timeline struct {
	Rows     []FieldRow `json:"rows"`
	Warnings []string   `json:"warnings"`
}

// FollowFilter isolates all frames of the session a frame belongs to.
type FollowFilter struct {
	// FollowType is the field the session key was taken from
	// (e.g. "http2.streamid", "diameter.Session-Id", "sip.Call-ID").
	FollowType string `json:"follow_type"`
	// FollowKey is the raw key value.
	FollowKey string `json:"follow_key"`
	// DisplayFilter selects every frame carrying the key.
	DisplayFilter string `json:"display_filter"`
}

// FollowResult is a follow filter together with the frames it selects.
type FollowResult struct {
	FollowFilter
	FrameNumber         int    `json:"frame_number"`
	FollowDisplayFilter string `json:"follow_display_filter"`
	EffectiveFilter     string `json:"effective_display_filter"`
	Frames              []int  `json:"frames"`
}

// FrameDetail is the verbose dissection of one frame.
type FrameDetail struct {
	FrameNumber int    `json:"frame_number"`
	Text        string `json:"text"`
	// Truncated is true when the full dissection exceeded the byte budget;
	// Text then holds exactly that many leading bytes.
	Truncated bool `json:"truncated"`
}

// SearchMatch is one frame whose dissection matched a text search.
type SearchMatch struct {
	FrameNumber int    `json:"frame_number"`
	Truncated   bool   `json:"truncated"`
	Snippet     string `json:"snippet"`
}

// SearchResult is the outcome of a text search.
type SearchResult struct {
	FramesScanned int           `json:"frames_scanned"`
	Matches       []SearchMatch `json:"matches"`
}

// ExportResult describes a packet list written to disk.
type ExportResult struct {
	OutputPath    string              `json:"output_path"`
	RowsWritten   int                 `json:"rows_written"`
	Warnings      []string            `json:"warnings"`
	FileSizeBytes int64               `json:"file_size_bytes,omitempty"`
	PreviewRows   []map[string]string `json:"preview_rows,omitempty"`
}

// FieldInfo is one entry of the dissector field catalog.
type FieldInfo struct {
	Kind  string `json:"kind"` // "F" for fields, "P" for protocols
	Name  string `json:"name"`
	Field string `json:"field"`
	Type  string `json:"type"`
	Proto string `json:"proto"`
}

// CaptureSummary is a short description of a capture file.
type CaptureSummary struct {
	PcapPath     string          `json:"pcap_path"`
	PacketCount  int             `json:"packet_count"`
	Duration     float64         `json:"duration"`
	TimeStart    string          `json:"time_start,omitempty"`
	TimeEnd      string          `json:"time_end,omitempty"`
	SHA256       string          `json:"sha256,omitempty"`
	Source       string          `json:"source"` // "capinfos" or "native"
	TsharkVer    string          `json:"tshark_version,omitempty"`
	HasProtocols map[string]bool `json:"has_protocols,omitempty"`
}

// TokenUsage is the LLM token consumption of one request.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Explanation is an LLM reading of one frame's dissection.
type Explanation struct {
	FrameNumber int      `json:"frame_number"`
	Summary     string   `json:"summary"`
	Protocols   []string `json:"protocols"`
	Identifiers []string `json:"identifiers"`
	Anomalies   []string `json:"anomalies"`

	Provider string     `json:"provider"`
	Model    string     `json:"model"`
	Usage    TokenUsage `json:"usage"`
}
