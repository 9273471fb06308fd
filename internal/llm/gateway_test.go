package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPNGRoundTrip(t *testing.T) {
	t.Parallel()

	part := PNG([]byte{0x89, 'P', 'N', 'G'})
	require.Equal(t, PartImageURL, part.Kind)

	mime, data, err := DecodeDataURL(part.Value)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)

	_, _, err = DecodeDataURL("https://example.com/a.png")
	assert.Error(t, err)
}

func TestLazy_ReportsCredentialErrorUntilResolved(t *testing.T) {
	t.Parallel()

	calls := 0
	keySet := false
	lazy := NewLazy(func() (Gateway, error) {
		calls++
		if !keySet {
			return nil, &CredentialError{Provider: "openai", EnvVar: "ARK_API_KEY"}
		}
		return GatewayFunc(func(context.Context, []Part) (string, error) { return "ok", nil }), nil
	})

	err := Ready(lazy)
	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Contains(t, err.Error(), "ARK_API_KEY")

	_, err = Prompt(context.Background(), lazy, "hi")
	require.ErrorAs(t, err, &credErr)

	keySet = true
	out, err := Prompt(context.Background(), lazy, "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	_, err = lazy.Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestModelErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := error(&ModelError{Provider: "gemini", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "gemini model call failed: boom", err.Error())
	assert.NoError(t, Ready(GatewayFunc(nil)))
}
