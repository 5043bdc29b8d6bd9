package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/mcdl70/pitch-perfect/internal/errs"
)

// MaxTextLength is the hard per-request character limit. Longer inputs are
// rejected locally, never truncated silently.
const MaxTextLength = 5000

// DefaultModelID is the ElevenLabs model used for interview speech.
const DefaultModelID = "eleven_flash_v2_5"

// VoiceSettings controls the synthesized voice. Stability, SimilarityBoost
// and Style are 0..1.
type VoiceSettings struct {
	VoiceID         string
	Stability       float64
	SimilarityBoost float64
	Style           float64
	SpeakerBoost    bool
}

// DefaultVoiceSettings returns the interviewer persona defaults for the
// given voice.
func DefaultVoiceSettings(voiceID string) VoiceSettings {
	return VoiceSettings{
		VoiceID:         voiceID,
		Stability:       0.4,
		SimilarityBoost: 0.7,
		Style:           0.0,
		SpeakerBoost:    true,
	}
}

type synthesisRequest struct {
	ModelID       string        `json:"model_id"`
	Text          string        `json:"text"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// ElevenLabsClient synthesizes interviewer turns via the ElevenLabs
// per-voice HTTP endpoint. The response is a raw audio/mpeg byte stream,
// not JSON.
type ElevenLabsClient struct {
	HTTPClient *http.Client
	APIKey     string
	ModelID    string
	BaseURL    string
}

// NewElevenLabsClient builds a client with the default model and endpoint.
func NewElevenLabsClient(apiKey string) *ElevenLabsClient {
	return &ElevenLabsClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		ModelID:    DefaultModelID,
		BaseURL:    "https://api.elevenlabs.io",
	}
}

// Synthesize returns the full audio clip for text spoken with the given
// voice. Text length is validated locally; a zero-length payload from the
// service is a failure, not a valid silent clip.
func (e *ElevenLabsClient) Synthesize(ctx context.Context, text string, voice VoiceSettings) ([]byte, error) {
	const op = "tts.synthesize"
	if e.APIKey == "" || voice.VoiceID == "" {
		return nil, errs.New(errs.Unauthorized, op, "api key or voice id missing")
	}
	if text == "" {
		return nil, errs.New(errs.BadInput, op, "empty text")
	}
	if len(text) > MaxTextLength {
		return nil, errs.New(errs.TextTooLong, op, fmt.Sprintf("text length %d exceeds %d", len(text), MaxTextLength))
	}

	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return nil, errs.Wrap(errs.BadInput, op, err)
	}
	u.Path = "/v1/text-to-speech/" + voice.VoiceID

	body := synthesisRequest{
		ModelID: e.ModelID,
		Text:    text,
		VoiceSettings: voiceSettings{
			Stability:       voice.Stability,
			SimilarityBoost: voice.SimilarityBoost,
			Style:           voice.Style,
			UseSpeakerBoost: voice.SpeakerBoost,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return nil, errs.Wrap(errs.BadInput, op, err)
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.ServiceUnavailable, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		log.Printf("tts: elevenlabs status=%d body=%s", resp.StatusCode, string(b))
		return nil, errs.FromStatus(op, resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.ServiceUnavailable, op, err)
	}
	if len(audio) == 0 {
		return nil, errs.New(errs.EmptyAudioReceived, op, "service returned zero-length audio")
	}
	return audio, nil
}
