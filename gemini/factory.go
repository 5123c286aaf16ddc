// Package gemini implements agent.Factory on top of the Gemini Live API.
package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/room4-2/liverelay/agent"
	"github.com/room4-2/liverelay/functions"
)

// Config configures every Live session the factory opens
type Config struct {
	APIKey       string
	Model        string
	SystemPrompt string
	VoiceName    string // Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr
	GoogleSearch bool
	Tools        *functions.Registry
	Logger       *slog.Logger
}

type connectFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error)

// Factory opens one Gemini Live session per relay
type Factory struct {
	cfg     Config
	connect connectFunc
}

// NewFactory creates the GenAI client shared by all sessions
func NewFactory(ctx context.Context, cfg Config) (*Factory, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return newFactory(cfg, func(ctx context.Context, model string, lc *genai.LiveConnectConfig) (liveSession, error) {
		s, err := client.Live.Connect(ctx, model, lc)
		if err != nil {
			return nil, err
		}
		return s, nil
	}), nil
}

func newFactory(cfg Config, connect connectFunc) *Factory {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{cfg: cfg, connect: connect}
}

// Open connects a Live session. Native-audio models only answer in audio, so
// every session asks for speech plus its transcription; text sessions keep
// the transcription and drop the audio.
func (f *Factory) Open(ctx context.Context, sessionID string, audioMode bool) (agent.Source, agent.Sink, error) {
	session, err := f.connect(ctx, f.cfg.Model, f.liveConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Live API: %w", err)
	}

	logger := f.cfg.Logger.With("session", sessionID)
	logger.Debug("connected to gemini live", "model", f.cfg.Model, "audio_mode", audioMode)

	p := newProxy(session, f.cfg.Tools, audioMode, logger)
	return p, p, nil
}

func (f *Factory) liveConfig() *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if f.cfg.SystemPrompt != "" {
		lc.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: f.cfg.SystemPrompt}},
		}
	}
	if f.cfg.VoiceName != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: f.cfg.VoiceName,
				},
			},
		}
	}

	if tool := f.cfg.Tools.Tool(); tool != nil {
		lc.Tools = append(lc.Tools, tool)
	}
	if f.cfg.GoogleSearch {
		lc.Tools = append(lc.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	return lc
}
