package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "weave/internal/errors"
)

func TestResolveFromInputsAndState(t *testing.T) {
	state := MapSource{"topic": "ai", "meta": map[string]any{"lang": "en"}}
	got, err := Resolve("Summarize {topic} in {meta.lang} for {user}", map[string]any{"user": "ops"}, state)
	require.NoError(t, err)
	assert.Equal(t, "Summarize ai in en for ops", got)
}

func TestInputsShadowState(t *testing.T) {
	state := MapSource{"topic": "from-state"}
	got, err := Resolve("{topic}", map[string]any{"topic": "from-inputs"}, state)
	require.NoError(t, err)
	assert.Equal(t, "from-inputs", got)
}

func TestResolveStringifiesValues(t *testing.T) {
	state := MapSource{"count": 5, "ratio": 0.25, "whole": float64(3), "flag": true}
	got, err := Resolve("{count}/{ratio}/{whole}/{flag}", nil, state)
	require.NoError(t, err)
	assert.Equal(t, "5/0.25/3/true", got)
}

func TestLiteralBracesPassThrough(t *testing.T) {
	state := MapSource{"x": "v"}
	cases := map[string]string{
		"{x}":          "v",
		"{ x }":        "{ x }",
		"{}":           "{}",
		"json {\"a\"}": "json {\"a\"}",
		"open { brace": "open { brace",
		"{{x}":         "{v",
	}
	for tmpl, want := range cases {
		got, err := Resolve(tmpl, nil, state)
		require.NoError(t, err, "template %q", tmpl)
		assert.Equal(t, want, got, "template %q", tmpl)
	}
}

func TestMissingNameReportsCandidates(t *testing.T) {
	state := MapSource{"summary": "s", "topic": "t"}
	_, err := Resolve("{sumary}", map[string]any{"user": "u"}, state)
	require.Error(t, err)

	var tErr *werrors.TemplateResolutionError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, "sumary", tErr.Name)
	assert.Contains(t, tErr.Available, "user")
	assert.Contains(t, tErr.Available, "summary")
	assert.Contains(t, tErr.Available, "topic")
	assert.Equal(t, "summary", tErr.Suggestion)
}

func TestNoSuggestionWhenNothingIsClose(t *testing.T) {
	_, err := Resolve("{zzz}", nil, MapSource{"topic": "t"})
	var tErr *werrors.TemplateResolutionError
	require.True(t, errors.As(err, &tErr))
	assert.Empty(t, tErr.Suggestion)
}

func TestDottedLookupThroughNonMapFails(t *testing.T) {
	_, err := Resolve("{topic.deeper}", nil, MapSource{"topic": "scalar"})
	require.Error(t, err)
}

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 0, editDistance("abc", "abc"))
	assert.Equal(t, 1, editDistance("abc", "abd"))
	assert.Equal(t, 1, editDistance("abc", "ab"))
	assert.Equal(t, 3, editDistance("abc", "xyz"))
}
