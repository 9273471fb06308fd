package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/kkk0312/mdia/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_MissingKey(t *testing.T) {
	t.Setenv("MDIA_GEMINI_MISSING_KEY", "")

	_, err := NewClient(context.Background(), Config{Model: "gemini-2.5-flash", APIKeyEnv: "MDIA_GEMINI_MISSING_KEY"}, nil)
	var credErr *llm.CredentialError
	require.True(t, errors.As(err, &credErr))
	assert.Equal(t, "gemini", credErr.Provider)
}

func TestNewClient_RequiresModel(t *testing.T) {
	_, err := NewClient(context.Background(), Config{APIKey: "k"}, nil)
	require.Error(t, err)
}

func TestToPart(t *testing.T) {
	t.Parallel()

	text, err := toPart(llm.Text("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", text.Text)

	img, err := toPart(llm.PNG([]byte("png")))
	require.NoError(t, err)
	require.NotNil(t, img.InlineData)
	assert.Equal(t, "image/png", img.InlineData.MIMEType)
	assert.Equal(t, []byte("png"), img.InlineData.Data)

	remote, err := toPart(llm.ImageURL("https://example.com/chart.png"))
	require.NoError(t, err)
	require.NotNil(t, remote.FileData)
	assert.Equal(t, "https://example.com/chart.png", remote.FileData.FileURI)

	_, err = toPart(llm.Part{Kind: "audio"})
	assert.Error(t, err)
}
