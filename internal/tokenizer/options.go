package tokenizer

// EncodeOption configures a single Encode call.
type EncodeOption func(*encodeConfig)

type encodeConfig struct {
	addBOS    bool
	maxLength int
}

func newEncodeConfig(opts []EncodeOption) encodeConfig {
	cfg := encodeConfig{addBOS: true}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// WithoutBOS disables prepending the sequence-start id.
func WithoutBOS() EncodeOption {
	return func(c *encodeConfig) { c.addBOS = false }
}

// WithMaxLength truncates the encoded sequence to n ids, preserving a
// prepended sequence-start id when present. n <= 0 disables truncation.
func WithMaxLength(n int) EncodeOption {
	return func(c *encodeConfig) { c.maxLength = n }
}

// DecodeOption configures a single Decode call.
type DecodeOption func(*decodeConfig)

type decodeConfig struct {
	keepSpecial bool
}

func newDecodeConfig(opts []DecodeOption) decodeConfig {
	var cfg decodeConfig
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// KeepSpecialTokens renders control-token marker literals instead of
// skipping them.
func KeepSpecialTokens() DecodeOption {
	return func(c *decodeConfig) { c.keepSpecial = true }
}
