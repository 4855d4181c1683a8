// Package voice synthesizes reply audio through the ElevenLabs API and
// stores the result as a servable file.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/neverland-app/neverland/internal/log"
)

var (
	// ErrSynthesisFailed indicates the provider could not produce audio.
	// Replies still go out as text; audio is best effort.
	ErrSynthesisFailed = errors.New("voice synthesis failed")

	// ErrNoVoice indicates no voice ID is configured for the persona.
	ErrNoVoice = errors.New("no voice configured")
)

const (
	synthesisModelID = "eleven_multilingual_v2"
	requestTimeout   = 30 * time.Second
)

// voiceSettings tunes the cloned voice toward a stable, familiar delivery.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesizer turns reply text into audio files.
type Synthesizer struct {
	client        *http.Client
	baseURL       string
	apiKey        string
	defaultVoice  string
	audioDir      string
	maxTextLength int
	log           log.Logger
}

// Options configures a Synthesizer.
type Options struct {
	BaseURL       string
	APIKey        string
	DefaultVoice  string
	AudioDir      string
	MaxTextLength int
}

// NewSynthesizer creates a synthesizer. The audio directory is created on
// first use.
func NewSynthesizer(opts Options, logger log.Logger) *Synthesizer {
	return &Synthesizer{
		client:        &http.Client{Timeout: requestTimeout},
		baseURL:       opts.BaseURL,
		apiKey:        opts.APIKey,
		defaultVoice:  opts.DefaultVoice,
		audioDir:      opts.AudioDir,
		maxTextLength: opts.MaxTextLength,
		log:           logger,
	}
}

// Synthesize renders text with the given voice and returns a relative
// audio file reference. Long texts are clipped to the configured maximum
// before synthesis. An empty voiceID falls back to the default voice.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceID string) (string, error) {
	if voiceID == "" {
		voiceID = s.defaultVoice
	}
	if voiceID == "" {
		return "", ErrNoVoice
	}

	text = clip(text, s.maxTextLength)

	body, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: synthesisModelID,
		VoiceSettings: voiceSettings{
			Stability:       0.8,
			SimilarityBoost: 0.9,
			Style:           0.5,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return "", fmt.Errorf("encoding synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream", s.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrSynthesisFailed, resp.StatusCode, detail)
	}

	ref, err := s.writeAudio(resp.Body)
	if err != nil {
		return "", err
	}

	s.log.Debug("synthesized reply audio", "voice_id", voiceID, "ref", ref)
	return ref, nil
}

func (s *Synthesizer) writeAudio(r io.Reader) (string, error) {
	if err := os.MkdirAll(s.audioDir, 0o755); err != nil {
		return "", fmt.Errorf("creating audio directory: %w", err)
	}

	name := uuid.NewString() + ".mp3"
	path := filepath.Join(s.audioDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating audio file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: writing audio: %v", ErrSynthesisFailed, err)
	}
	return name, nil
}

// clip truncates text to at most maxRunes runes, never splitting a rune.
func clip(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}
