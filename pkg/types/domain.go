package types

// Asset describes one remote file of a package tier.
type Asset struct {
	// Download URL for the asset.
	// example: https://assets.example.com/packs/minimal/model.onnx
	URL string `json:"url" yaml:"url" example:"https://assets.example.com/packs/minimal/model.onnx"`
	// Name identifies the asset inside its tier (unique per tier).
	// example: model.onnx
	Name string `json:"name" yaml:"name" example:"model.onnx"`
	// Expected size in bytes; 0 means unknown.
	// example: 52428800
	SizeBytes int64 `json:"size_bytes,omitempty" yaml:"size_bytes" example:"52428800"`
	// Expected SHA-256 digest, lowercase hex. Empty disables verification.
	// example: 9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08
	SHA256 string `json:"sha256,omitempty" yaml:"sha256" example:"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"`
}

// Manifest bundles the assets of one package tier.
type Manifest struct {
	// Tier name (minimal, standard, full).
	// example: minimal
	Tier string `json:"tier" yaml:"tier" example:"minimal"`
	// Human-friendly description of the size/quality trade-off.
	// example: 1.1B parameter model, 4-bit quantized
	Description string `json:"description,omitempty" yaml:"description" example:"1.1B parameter model, 4-bit quantized"`
	// Ordered list of assets. The pipeline expects the model graph and
	// the tokenizer vocabulary to be present by well-known name.
	Files []Asset `json:"files" yaml:"files"`
}

// TotalBytes sums the declared asset sizes. Assets of unknown size
// contribute zero.
func (m Manifest) TotalBytes() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.SizeBytes
	}
	return n
}

// ChatMessage is a single turn of a conversation.
type ChatMessage struct {
	// Role of the speaker: system, user or assistant.
	// example: user
	Role string `json:"role" example:"user"`
	// Message text.
	// example: What year did the Berlin Wall fall?
	Content string `json:"content" example:"What year did the Berlin Wall fall?"`
}
