package types

// AnswerRequest represents a local inference request payload.
type AnswerRequest struct {
	// Prompt text to answer. Required unless Messages is set.
	// example: What year did the Berlin Wall fall?
	Prompt string `json:"prompt,omitempty" example:"What year did the Berlin Wall fall?"`
	// Full conversation; when present it takes priority over Prompt.
	Messages []ChatMessage `json:"messages,omitempty"`
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
}

// AnswerResponse is returned by POST /answer.
type AnswerResponse struct {
	// Generated answer text with control tokens stripped.
	// example: The Berlin Wall fell in 1989.
	Text string `json:"text" example:"The Berlin Wall fell in 1989."`
	// Model identifier the answer was produced with.
	// example: minimal
	Tier string `json:"tier" example:"minimal"`
	// Number of generated tokens.
	// example: 9
	TokensGenerated int `json:"tokens_generated" example:"9"`
	// Wall-clock generation latency in milliseconds.
	// example: 412
	LatencyMillis int64 `json:"latency_ms" example:"412"`
}

// DownloadRequest starts a package download.
type DownloadRequest struct {
	// Tier to download (minimal, standard, full).
	// example: minimal
	Tier string `json:"tier" example:"minimal"`
}

// DownloadStatus reports progress of the package download.
type DownloadStatus struct {
	// Overall state: none, downloading, verifying, loading, ready, failed, cancelled.
	// example: downloading
	State string `json:"state" example:"downloading"`
	// Tier being (or last) downloaded.
	// example: minimal
	Tier string `json:"tier,omitempty" example:"minimal"`
	// Bytes received across all files so far.
	// example: 10485760
	BytesReceived int64 `json:"bytes_received" example:"10485760"`
	// Total expected bytes; 0 when any asset size is unknown.
	// example: 52428800
	BytesExpected int64 `json:"bytes_expected" example:"52428800"`
	// Overall percentage, 0-100. Only meaningful when BytesExpected > 0.
	// example: 20
	Percent float64 `json:"percent" example:"20"`
	// Last error message when State is failed.
	Error string `json:"error,omitempty"`
}

// ModelInfo is a read-only snapshot of the loaded session.
type ModelInfo struct {
	// Input tensor names declared by the graph.
	Inputs []string `json:"inputs"`
	// Output tensor names declared by the graph.
	Outputs []string `json:"outputs"`
	// Selected execution backend (gpu or cpu).
	// example: cpu
	Provider string `json:"provider" example:"cpu"`
	// Model load latency in milliseconds.
	// example: 1830
	LoadMillis int64 `json:"load_ms" example:"1830"`
	// Latency of the most recent forward pass in milliseconds.
	// example: 38
	LastMillis int64 `json:"last_ms" example:"38"`
	// Running average forward-pass latency in milliseconds.
	// example: 41.5
	AvgMillis float64 `json:"avg_ms" example:"41.5"`
	// Number of forward passes executed.
	// example: 124
	Calls uint64 `json:"calls" example:"124"`
}

// TierInfo summarizes one configured tier for GET /package/tiers.
type TierInfo struct {
	// Tier name.
	// example: minimal
	Tier string `json:"tier" example:"minimal"`
	// Description from the manifest.
	// example: 1.1B parameter model, 4-bit quantized
	Description string `json:"description,omitempty" example:"1.1B parameter model, 4-bit quantized"`
	// Number of assets in the tier.
	// example: 2
	Files int `json:"files" example:"2"`
	// Total declared size in bytes.
	// example: 52428800
	SizeBytes int64 `json:"size_bytes" example:"52428800"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Package download progress and state.
	Download DownloadStatus `json:"download"`
	// Loaded model snapshot; omitted until a session is ready.
	Model *ModelInfo `json:"model,omitempty"`
	// Tokenizer vocabulary size; 0 until the vocabulary is loaded.
	// example: 32000
	VocabSize int `json:"vocab_size" example:"32000"`
	// True once the whole pipeline can answer prompts.
	// example: true
	Ready bool `json:"ready" example:"true"`
	// True once a package has ever completed download and load. Survives
	// a release; only a fresh process clears it.
	// example: true
	Installed bool `json:"installed" example:"true"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
