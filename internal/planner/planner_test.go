package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestPlan_NoProvidersRefuses(t *testing.T) {
	p := New(nil, arbor.NewLogger())

	result := p.Plan(context.Background(), "fetch and summarize example.com")
	require.NotNil(t, result)
	assert.False(t, result.CanExecute)
	assert.NotEmpty(t, result.Reason)
	assert.Nil(t, result.Workflow)
}

func TestStripCodeFences(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                   "{\"a\":1}",
		"```json\n{\"a\":1}\n```":     "{\"a\":1}",
		"```\n{\"a\":1}\n```":         "{\"a\":1}",
		"  ```json\n{\"a\":1}\n```  ": "{\"a\":1}",
		"no fences, just text":        "no fences, just text",
	}
	for input, expected := range cases {
		assert.Equal(t, expected, stripCodeFences(input), "input: %q", input)
	}
}
