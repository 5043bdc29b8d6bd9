package stt

import (
	"bytes"
	"context"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mcdl70/pitch-perfect/internal/errs"
	"github.com/mcdl70/pitch-perfect/internal/interview"
	"github.com/mcdl70/pitch-perfect/internal/llm"
)

// extensionByContainer maps the declared container to the filename extension
// sent with the multipart upload. The transcription service infers format
// partly from the filename; a mismatched extension silently degrades quality
// rather than erroring, so this mapping must be exact.
var extensionByContainer = map[string]string{
	"audio/wav":                ".wav",
	"audio/x-wav":              ".wav",
	"audio/wave":               ".wav",
	"audio/webm":               ".webm",
	"video/webm":               ".webm",
	"audio/mp4":                ".mp4",
	"video/mp4":                ".mp4",
	"audio/mpeg":               ".mp3",
	"audio/mp3":                ".mp3",
	"audio/ogg":                ".ogg",
	"audio/flac":               ".flac",
	"audio/x-m4a":              ".m4a",
	"application/octet-stream": ".dat",
}

// FilenameFor builds the upload filename for a recording's MIME type.
// Codec parameters ("audio/webm;codecs=opus") do not affect the container.
func FilenameFor(mimeType string) string {
	base := strings.TrimSpace(strings.ToLower(mimeType))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if ext, ok := extensionByContainer[base]; ok {
		return "recording" + ext
	}
	return "recording.dat"
}

// acceptable reports whether the MIME type passes the permissive allow-list:
// anything audio/*, the browser MediaRecorder video/* containers, and the
// generic octet-stream fallback.
func acceptable(mimeType string) bool {
	base := strings.TrimSpace(strings.ToLower(mimeType))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if strings.HasPrefix(base, "audio/") {
		return true
	}
	switch base {
	case "video/webm", "video/mp4", "application/octet-stream":
		return true
	}
	return false
}

// Client transcribes bounded recordings via the Whisper multipart endpoint.
type Client struct {
	api      *openai.Client
	model    string
	language string
}

// New builds a transcription client. model defaults to whisper-1 and
// language to en when empty.
func New(api *openai.Client, model, language string) *Client {
	if model == "" {
		model = openai.Whisper1
	}
	if language == "" {
		language = "en"
	}
	return &Client{api: api, model: model, language: language}
}

// Transcribe uploads the recording and returns the recognized text.
// Validation failures are resolved locally without a network call; an empty
// or whitespace-only result is NoSpeechDetected, which is a different user
// remedy than a transport failure.
func (c *Client) Transcribe(ctx context.Context, rec interview.Recording) (string, error) {
	const op = "stt.transcribe"
	if len(rec.Data) == 0 {
		return "", errs.New(errs.BadInput, op, "empty recording payload")
	}
	if !acceptable(rec.MIMEType) {
		return "", errs.New(errs.UnsupportedFormat, op, "mime type "+rec.MIMEType+" not in allow-list")
	}

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: FilenameFor(rec.MIMEType),
		Reader:   bytes.NewReader(rec.Data),
		Format:   openai.AudioResponseFormatJSON,
		Language: c.language,
	})
	if err != nil {
		return "", llm.Classify(op, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errs.New(errs.NoSpeechDetected, op, "transcription returned blank text")
	}
	log.Printf("stt: transcribed %d bytes -> %d chars", len(rec.Data), len(text))
	return text, nil
}
