// Package llm defines the language-model collaborators the engine calls and
// a Gemini implementation of them.
package llm

import (
	"context"
	"errors"

	"github.com/DatanoiseTV/chatstore/internal/model"
)

var (
	// ErrInvalidArgument marks caller bugs such as an empty question.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmptyResponse means the model returned no text, usually because
	// a safety filter blocked the answer.
	ErrEmptyResponse = errors.New("model returned no text")
)

// Request is one completion turn.
type Request struct {
	Model        string          // Empty uses the client's default chat model
	SystemPrompt string          // Agent instructions, optional
	Messages     []model.Message // History in chat order, newest last
}

// Completer produces assistant replies.
type Completer interface {
	// Complete returns the whole reply.
	Complete(ctx context.Context, req Request) (string, error)

	// Stream calls onDelta for each chunk and returns the full reply. An
	// error from onDelta stops the stream.
	Stream(ctx context.Context, req Request, onDelta func(delta string) error) (string, error)
}

// ImageAnalyzer answers questions about images.
type ImageAnalyzer interface {
	// AnalyzeImage answers question about a base64-encoded image.
	AnalyzeImage(ctx context.Context, base64Image, mimeType, question string) (string, error)
}
