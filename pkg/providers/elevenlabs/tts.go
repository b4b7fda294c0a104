package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rtvoice/rtvoice/pkg/adapters/tts"
	"github.com/rtvoice/rtvoice/pkg/logging"
	"github.com/rtvoice/rtvoice/pkg/resilience"
)

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	StreamID     string
}

// Synthesizer renders one segment per request. Telephony playback wants
// ulaw_8000 output so the transport forwards the bytes untranscoded.
type Synthesizer struct {
	cfg    Config
	base   string
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Synthesizer {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "ulaw_8000"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		cfg:    cfg,
		base:   "https://api.elevenlabs.io",
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logging.NewComponentLogger(logger, "elevenlabs_tts"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return nil, errors.New("missing elevenlabs config")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	payload := map[string]any{"text": text}
	if s.cfg.ModelID != "" {
		payload["model_id"] = s.cfg.ModelID
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.buildURL(), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		s.logger.Error("elevenlabs rate limit exceeded",
			slog.String("stream_id", s.cfg.StreamID),
			slog.String("status", resp.Status))
		return nil, resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return nil, errors.New(string(msg))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("segment synthesized",
		slog.String("stream_id", s.cfg.StreamID),
		slog.Int("size_bytes", len(audio)))
	return audio, nil
}

func (s *Synthesizer) buildURL() string {
	q := url.Values{}
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	return s.base + "/v1/text-to-speech/" + s.cfg.VoiceID + "/stream?" + q.Encode()
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
