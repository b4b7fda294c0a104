package rtvoice

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/rtvoice/rtvoice/pkg/adapters/stt"
	"github.com/rtvoice/rtvoice/pkg/adapters/tts"
	"github.com/rtvoice/rtvoice/pkg/configutil"
	"github.com/rtvoice/rtvoice/pkg/llm"
	"github.com/rtvoice/rtvoice/pkg/providers/deepgram"
	"github.com/rtvoice/rtvoice/pkg/providers/elevenlabs"
	"github.com/rtvoice/rtvoice/pkg/providers/mock"
	"github.com/rtvoice/rtvoice/pkg/providers/openai"
	"github.com/rtvoice/rtvoice/pkg/speech"
)

type STTFactory func(cfg Config, sttCfg stt.Config, handler speech.Handler, logger *slog.Logger) (stt.Recognizer, error)
type TTSFactory func(cfg Config, streamID string, logger *slog.Logger) (tts.Synthesizer, error)
type LLMFactory func(cfg Config) (llm.Streamer, error)

// ProviderRegistry maps configured provider names to vendor constructors.
type ProviderRegistry struct {
	stt map[string]STTFactory
	tts map[string]TTSFactory
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTFactory),
		tts: make(map[string]TTSFactory),
		llm: make(map[string]LLMFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildSTT(provider string, cfg Config, sttCfg stt.Config, handler speech.Handler, logger *slog.Logger) (stt.Recognizer, error) {
	fn := r.stt[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(cfg, sttCfg, handler, logger)
}

func (r *ProviderRegistry) BuildTTS(provider string, cfg Config, streamID string, logger *slog.Logger) (tts.Synthesizer, error) {
	fn := r.tts[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", provider)
	}
	return fn(cfg, streamID, logger)
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (llm.Streamer, error) {
	fn := r.llm[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}

// DefaultRegistry returns a registry with the built-in vendors.
func DefaultRegistry() *ProviderRegistry {
	r := NewProviderRegistry()

	r.RegisterSTT("deepgram", func(cfg Config, sttCfg stt.Config, handler speech.Handler, logger *slog.Logger) (stt.Recognizer, error) {
		settings := cfg.Vendors.STT.Settings
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "utterance_end_ms", "interim"},
		}); err != nil {
			return nil, fmt.Errorf("deepgram settings: %w", err)
		}
		var s struct {
			APIKey         string `mapstructure:"api_key"`
			Model          string `mapstructure:"model"`
			Language       string `mapstructure:"language"`
			UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
			Interim        *bool  `mapstructure:"interim"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		dgCfg := deepgram.Config{
			APIKey:         s.APIKey,
			Model:          s.Model,
			UtteranceEndMS: s.UtteranceEndMS,
			Config:         sttCfg,
		}
		if s.Language != "" {
			dgCfg.Language = s.Language
		}
		if s.Interim != nil {
			dgCfg.Interim = *s.Interim
		}
		return deepgram.New(dgCfg, handler, logger), nil
	})

	r.RegisterSTT("mock", func(cfg Config, sttCfg stt.Config, handler speech.Handler, logger *slog.Logger) (stt.Recognizer, error) {
		var s struct {
			Transcript  string `mapstructure:"transcript"`
			EmitInterim bool   `mapstructure:"emit_interim"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &s); err != nil {
			return nil, err
		}
		return mock.NewRecognizer(mock.STTConfig{
			Transcript:  s.Transcript,
			EmitInterim: s.EmitInterim,
			Language:    sttCfg.Language,
		}, handler), nil
	})

	r.RegisterLLM("openai", func(cfg Config) (llm.Streamer, error) {
		settings := cfg.Vendors.LLM.Settings
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "base_url"},
		}); err != nil {
			return nil, fmt.Errorf("openai settings: %w", err)
		}
		var s struct {
			APIKey  string `mapstructure:"api_key"`
			Model   string `mapstructure:"model"`
			BaseURL string `mapstructure:"base_url"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		adapter := openai.NewAdapter(s.APIKey, s.Model)
		if s.BaseURL != "" {
			adapter.BaseURL = s.BaseURL
		}
		return adapter, nil
	})

	r.RegisterLLM("mock", func(cfg Config) (llm.Streamer, error) {
		var s struct {
			ResponseText string   `mapstructure:"response_text"`
			StreamChunks []string `mapstructure:"stream_chunks"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &s); err != nil {
			return nil, err
		}
		return mock.NewLLMAdapter(mock.LLMConfig{
			ResponseText: s.ResponseText,
			StreamChunks: s.StreamChunks,
		}), nil
	})

	r.RegisterTTS("elevenlabs", func(cfg Config, streamID string, logger *slog.Logger) (tts.Synthesizer, error) {
		settings := cfg.Vendors.TTS.Settings
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"api_key", "voice_id"},
			Optional: []string{"model_id", "output_format"},
		}); err != nil {
			return nil, fmt.Errorf("elevenlabs settings: %w", err)
		}
		var s struct {
			APIKey       string `mapstructure:"api_key"`
			VoiceID      string `mapstructure:"voice_id"`
			ModelID      string `mapstructure:"model_id"`
			OutputFormat string `mapstructure:"output_format"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:       s.APIKey,
			VoiceID:      s.VoiceID,
			ModelID:      s.ModelID,
			OutputFormat: s.OutputFormat,
			StreamID:     streamID,
		}, logger), nil
	})

	r.RegisterTTS("mock", func(cfg Config, streamID string, logger *slog.Logger) (tts.Synthesizer, error) {
		return mock.NewSynthesizer(mock.TTSConfig{}), nil
	})

	return r
}
