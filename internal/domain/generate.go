package domain

// GenerateConfig carries optional per-call generation settings derived from
// the conversation. A nil *GenerateConfig means no settings apply.
type GenerateConfig struct {
	SystemInstruction string
}
