// Package llm defines the text model gateway used by every pipeline stage.
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
)

// PartKind is the kind of a request content part.
type PartKind string

const (
	PartText     PartKind = "text"
	PartImageURL PartKind = "image_url"
)

// Part is one piece of a multimodal prompt. For image parts Value is an
// http(s) URL or a data URL.
type Part struct {
	Kind  PartKind
	Value string
}

// Text returns a text part.
func Text(s string) Part { return Part{Kind: PartText, Value: s} }

// ImageURL returns an image part pointing at u.
func ImageURL(u string) Part { return Part{Kind: PartImageURL, Value: u} }

// PNG returns an image part carrying data inline as a base64 data URL.
func PNG(data []byte) Part {
	return ImageURL("data:image/png;base64," + base64.StdEncoding.EncodeToString(data))
}

// DecodeDataURL splits a base64 data URL into its mime type and payload.
func DecodeDataURL(u string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data url")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("data url is not base64 encoded")
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data url: %w", err)
	}
	return mime, data, nil
}

// Gateway sends one multimodal prompt and returns the generated text.
type Gateway interface {
	Complete(ctx context.Context, parts []Part) (string, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, parts []Part) (string, error)

// Complete calls f.
func (f GatewayFunc) Complete(ctx context.Context, parts []Part) (string, error) {
	return f(ctx, parts)
}

// Readier is implemented by gateways that can report a missing credential
// before any request is made.
type Readier interface {
	Ready() error
}

// Ready returns the credential state of g, or nil when g cannot tell.
func Ready(g Gateway) error {
	if r, ok := g.(Readier); ok {
		return r.Ready()
	}
	return nil
}

// CredentialError reports a missing API key.
type CredentialError struct {
	Provider string
	EnvVar   string
}

func (e *CredentialError) Error() string {
	if e.EnvVar == "" {
		return fmt.Sprintf("%s api key is required", e.Provider)
	}
	return fmt.Sprintf("%s api key is required (set api_key or %s)", e.Provider, e.EnvVar)
}

// ModelError reports a failed or empty model call.
type ModelError struct {
	Provider string
	Err      error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s model call failed: %v", e.Provider, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Factory builds a gateway.
type Factory func() (Gateway, error)

// Lazy builds its gateway on first use. A construction failure, typically a
// CredentialError, is returned from Ready and Complete and retried next time.
type Lazy struct {
	factory Factory

	mu sync.Mutex
	gw Gateway
}

// NewLazy returns a gateway that defers construction to factory.
func NewLazy(factory Factory) *Lazy {
	return &Lazy{factory: factory}
}

func (l *Lazy) resolve() (Gateway, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gw != nil {
		return l.gw, nil
	}
	gw, err := l.factory()
	if err != nil {
		return nil, err
	}
	l.gw = gw
	return gw, nil
}

// Ready constructs the gateway if needed.
func (l *Lazy) Ready() error {
	_, err := l.resolve()
	return err
}

// Complete constructs the gateway if needed and forwards the call.
func (l *Lazy) Complete(ctx context.Context, parts []Part) (string, error) {
	gw, err := l.resolve()
	if err != nil {
		return "", err
	}
	return gw.Complete(ctx, parts)
}

// Prompt is a convenience for single text-part requests.
func Prompt(ctx context.Context, g Gateway, text string) (string, error) {
	return g.Complete(ctx, []Part{Text(text)})
}
