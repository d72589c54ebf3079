package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(outputs map[string]interface{}) OutputLookup {
	return func(nodeID, field string) (interface{}, bool) {
		v, ok := outputs[nodeID+"."+field]
		return v, ok
	}
}

func TestParseString_NoReferences(t *testing.T) {
	segments := ParseString("plain text")
	require.Len(t, segments, 1)
	assert.Equal(t, "plain text", segments[0].Text)
	assert.Nil(t, segments[0].Ref)
}

func TestParseString_SingleReference(t *testing.T) {
	segments := ParseString("{{tasks.fetch.outputs.text}}")
	require.Len(t, segments, 1)
	require.NotNil(t, segments[0].Ref)
	assert.Equal(t, "fetch", segments[0].Ref.NodeID)
	assert.Equal(t, "text", segments[0].Ref.Field)
}

func TestParseString_Mixed(t *testing.T) {
	segments := ParseString("summarize: {{tasks.fetch.outputs.text}} done")
	require.Len(t, segments, 3)
	assert.Equal(t, "summarize: ", segments[0].Text)
	require.NotNil(t, segments[1].Ref)
	assert.Equal(t, "fetch", segments[1].Ref.NodeID)
	assert.Equal(t, " done", segments[2].Text)
}

func TestParseString_MalformedLeftAsLiteral(t *testing.T) {
	// Unsupported syntax is plain text, not a reference.
	for _, s := range []string{
		"{{tasks.fetch.outputs}}",
		"{{outputs.fetch.text}}",
		"{tasks.fetch.outputs.text}",
		"{{tasks.fetch.inputs.text}}",
	} {
		segments := ParseString(s)
		require.Len(t, segments, 1, s)
		assert.Nil(t, segments[0].Ref, s)
	}
}

func TestExactRef(t *testing.T) {
	ref, ok := ExactRef("{{tasks.a.outputs.result}}")
	require.True(t, ok)
	assert.Equal(t, Ref{NodeID: "a", Field: "result"}, ref)

	_, ok = ExactRef("prefix {{tasks.a.outputs.result}}")
	assert.False(t, ok)

	_, ok = ExactRef("no refs here")
	assert.False(t, ok)
}

func TestExtractRefs_DeepWalk(t *testing.T) {
	payload := map[string]interface{}{
		"text": "{{tasks.fetch.outputs.text}}",
		"nested": map[string]interface{}{
			"data": "{{tasks.analyze.outputs.analysis}}",
		},
		"list":   []interface{}{"{{tasks.fetch.outputs.html}}", 42},
		"scalar": 7,
	}

	refs := ExtractRefs(payload)
	assert.Len(t, refs, 3)
	assert.Contains(t, refs, Ref{NodeID: "fetch", Field: "text"})
	assert.Contains(t, refs, Ref{NodeID: "analyze", Field: "analysis"})
	assert.Contains(t, refs, Ref{NodeID: "fetch", Field: "html"})
}

func TestResolvePayload_WholeStringKeepsType(t *testing.T) {
	lookup := lookupFrom(map[string]interface{}{
		"analyze.analysis": map[string]interface{}{"score": 0.9},
	})

	resolved, err := ResolvePayload(map[string]interface{}{
		"data": "{{tasks.analyze.outputs.analysis}}",
	}, lookup)
	require.NoError(t, err)

	data, ok := resolved["data"].(map[string]interface{})
	require.True(t, ok, "whole-string reference must substitute the raw value")
	assert.Equal(t, 0.9, data["score"])
}

func TestResolvePayload_Interpolation(t *testing.T) {
	lookup := lookupFrom(map[string]interface{}{
		"fetch.text": "hello",
	})

	resolved, err := ResolvePayload(map[string]interface{}{
		"prompt": "summarize: {{tasks.fetch.outputs.text}}!",
	}, lookup)
	require.NoError(t, err)
	assert.Equal(t, "summarize: hello!", resolved["prompt"])
}

func TestResolvePayload_InterpolatingNonStringFails(t *testing.T) {
	lookup := lookupFrom(map[string]interface{}{
		"analyze.analysis": map[string]interface{}{"score": 0.9},
	})

	_, err := ResolvePayload(map[string]interface{}{
		"prompt": "result: {{tasks.analyze.outputs.analysis}}",
	}, lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-string output")
}

func TestResolvePayload_MissingOutputFails(t *testing.T) {
	_, err := ResolvePayload(map[string]interface{}{
		"text": "{{tasks.ghost.outputs.text}}",
	}, lookupFrom(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing output")
}

func TestResolvePayload_DoesNotMutateInput(t *testing.T) {
	payload := map[string]interface{}{
		"text": "{{tasks.fetch.outputs.text}}",
	}
	lookup := lookupFrom(map[string]interface{}{"fetch.text": "resolved"})

	resolved, err := ResolvePayload(payload, lookup)
	require.NoError(t, err)
	assert.Equal(t, "resolved", resolved["text"])
	assert.Equal(t, "{{tasks.fetch.outputs.text}}", payload["text"])
}

func TestResolvePayload_NestedStructures(t *testing.T) {
	lookup := lookupFrom(map[string]interface{}{
		"fetch.text":       "body",
		"analyze.analysis": []interface{}{1.0, 2.0},
	})

	resolved, err := ResolvePayload(map[string]interface{}{
		"nested": map[string]interface{}{
			"text": "{{tasks.fetch.outputs.text}}",
			"list": []interface{}{"{{tasks.analyze.outputs.analysis}}", "static"},
		},
	}, lookup)
	require.NoError(t, err)

	nested := resolved["nested"].(map[string]interface{})
	assert.Equal(t, "body", nested["text"])
	list := nested["list"].([]interface{})
	assert.Equal(t, []interface{}{1.0, 2.0}, list[0])
	assert.Equal(t, "static", list[1])
}
