package speech

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// supported audio container extensions for uploaded recordings.
var supportedAudio = map[string]struct{}{
	".wav": {}, ".mp3": {}, ".m4a": {}, ".webm": {}, ".ogg": {},
}

// SupportedAudioFile reports whether the uploaded filename has a
// transcribable extension.
func SupportedAudioFile(name string) bool {
	_, ok := supportedAudio[strings.ToLower(filepath.Ext(name))]
	return ok
}

// WhisperTranscriber turns recorded audio into text via the OpenAI audio API.
// Used by the HTTP gateway for clients that capture with MediaRecorder
// instead of running local speech recognition.
type WhisperTranscriber struct {
	client *openai.Client
}

// NewWhisperTranscriber builds a transcriber; apiKey must be non-empty.
func NewWhisperTranscriber(apiKey string) *WhisperTranscriber {
	return &WhisperTranscriber{client: openai.NewClient(apiKey)}
}

// Transcribe sends one recording and returns the recognized text.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	if !SupportedAudioFile(filename) {
		return "", fmt.Errorf("unsupported audio format: %s", filepath.Ext(filename))
	}
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: filename,
		Reader:   audio,
		Language: "en",
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
