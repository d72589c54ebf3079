package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/common"
)

type fakeProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) GenerateText(ctx context.Context, request *TextRequest) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeProvider) Close() error { return nil }

func testChain(providers ...Provider) *Chain {
	return &Chain{providers: providers, logger: arbor.NewLogger()}
}

func TestChain_Empty(t *testing.T) {
	c := testChain()
	assert.False(t, c.Available())

	_, _, err := c.Generate(context.Background(), &TextRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, common.KindLLMExhausted, common.KindOf(err))
}

func TestChain_PrimaryWins(t *testing.T) {
	primary := &fakeProvider{name: "claude", text: "from primary"}
	fallback := &fakeProvider{name: "gemini", text: "from fallback"}
	c := testChain(primary, fallback)

	text, provider, err := c.Generate(context.Background(), &TextRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from primary", text)
	assert.Equal(t, "claude", provider)
	assert.Equal(t, 0, fallback.calls, "fallback must not be called when primary succeeds")
}

func TestChain_FallsThroughOnFailure(t *testing.T) {
	primary := &fakeProvider{name: "claude", err: errors.New("401 invalid key")}
	fallback := &fakeProvider{name: "gemini", text: "rescued"}
	c := testChain(primary, fallback)

	text, provider, err := c.Generate(context.Background(), &TextRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "rescued", text)
	assert.Equal(t, "gemini", provider)
}

func TestChain_AllFailedTaggedExhausted(t *testing.T) {
	c := testChain(
		&fakeProvider{name: "claude", err: errors.New("401 invalid key")},
		&fakeProvider{name: "gemini", err: errors.New("400 bad request")},
	)

	_, _, err := c.Generate(context.Background(), &TextRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, common.KindLLMExhausted, common.KindOf(err))
	assert.Contains(t, err.Error(), "claude")
	assert.Contains(t, err.Error(), "gemini")
}

func TestChain_QuotaErrorSkipsRetries(t *testing.T) {
	quota := &fakeProvider{name: "claude", err: errors.New("429 rate limit exceeded")}
	fallback := &fakeProvider{name: "gemini", text: "rescued"}
	c := testChain(quota, fallback)

	text, _, err := c.Generate(context.Background(), &TextRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "rescued", text)
	assert.Equal(t, 1, quota.calls, "quota failures must not retry on the same provider")
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(errors.New("503 Service Unavailable")))
	assert.True(t, IsTransientError(errors.New("upstream overloaded")))
	assert.False(t, IsTransientError(errors.New("401 unauthorized")))
	assert.False(t, IsTransientError(nil))
}

func TestIsQuotaError(t *testing.T) {
	assert.True(t, IsQuotaError(errors.New("429 Too Many Requests")))
	assert.True(t, IsQuotaError(errors.New("quota exceeded for project")))
	assert.True(t, IsQuotaError(errors.New("rate_limit_error")))
	assert.False(t, IsQuotaError(errors.New("500 internal")))
}
