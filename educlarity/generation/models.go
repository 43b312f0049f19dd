package generation

import "strings"

// Default Gemini models used by the gateway.
const (
	DefaultTextModel  = "gemini-1.5-flash"
	DefaultAudioModel = "gemini-2.0-flash"
	DefaultImageModel = "gemini-2.0-flash-preview-image-generation"
)

// ModelConfig holds the limits and capabilities of a provider model.
type ModelConfig struct {
	Name               string
	Model              string
	ContextLength      int
	DefaultMaxTokens   int
	DefaultTemperature float32
	AudioInput         bool
	AudioOutput        bool
	ImageOutput        bool
}

// GetModelConfig returns the known configuration for a model name.
// Unknown names get a conservative text-only profile.
func GetModelConfig(model string) *ModelConfig {
	name := strings.ToLower(model)
	switch {
	case strings.Contains(name, "image-generation") || strings.Contains(name, "flash-image"):
		return &ModelConfig{
			Name:               "Gemini Flash Image",
			Model:              model,
			ContextLength:      32768,
			DefaultMaxTokens:   8192,
			DefaultTemperature: 1.0,
			ImageOutput:        true,
		}
	case strings.Contains(name, "native-audio") || strings.Contains(name, "-tts"):
		return &ModelConfig{
			Name:               "Gemini Native Audio",
			Model:              model,
			ContextLength:      32768,
			DefaultMaxTokens:   8192,
			DefaultTemperature: 0.7,
			AudioInput:         true,
			AudioOutput:        true,
		}
	case strings.Contains(name, "gemini-2.5"):
		return &ModelConfig{
			Name:               "Gemini 2.5",
			Model:              model,
			ContextLength:      1048576,
			DefaultMaxTokens:   65536,
			DefaultTemperature: 1.0,
			AudioInput:         true,
		}
	case strings.Contains(name, "gemini-2.0-flash"):
		return &ModelConfig{
			Name:               "Gemini 2.0 Flash",
			Model:              model,
			ContextLength:      1048576,
			DefaultMaxTokens:   8192,
			DefaultTemperature: 1.0,
			AudioInput:         true,
			AudioOutput:        true,
		}
	case strings.Contains(name, "gemini-1.5-pro"):
		return &ModelConfig{
			Name:               "Gemini 1.5 Pro",
			Model:              model,
			ContextLength:      2097152,
			DefaultMaxTokens:   8192,
			DefaultTemperature: 1.0,
			AudioInput:         true,
		}
	case strings.Contains(name, "gemini-1.5-flash"):
		return &ModelConfig{
			Name:               "Gemini 1.5 Flash",
			Model:              model,
			ContextLength:      1048576,
			DefaultMaxTokens:   8192,
			DefaultTemperature: 1.0,
			AudioInput:         true,
		}
	default:
		return &ModelConfig{
			Name:               "Unknown Model",
			Model:              model,
			ContextLength:      32768,
			DefaultMaxTokens:   2048,
			DefaultTemperature: 0.7,
		}
	}
}

// SupportsAudio reports whether the model accepts and produces speech.
func (m *ModelConfig) SupportsAudio() bool {
	return m.AudioInput && m.AudioOutput
}
