package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/config"
	werrors "weave/internal/errors"
)

func simpleModel(t *testing.T, typ string) *OutputModel {
	t.Helper()
	m, err := NewOutputModel("node", config.OutputSchema{Type: typ})
	require.NoError(t, err)
	return m
}

func objectModel(t *testing.T) *OutputModel {
	t.Helper()
	m, err := NewOutputModel("node", config.OutputSchema{
		Type: "object",
		Fields: []config.OutputField{
			{Name: "label", Type: "str"},
			{Name: "score", Type: "float"},
		},
	})
	require.NoError(t, err)
	return m
}

func TestModelName(t *testing.T) {
	assert.Equal(t, "Output_node", simpleModel(t, "str").Name())
}

func TestSimpleValidateWrapsResult(t *testing.T) {
	m := simpleModel(t, "str")
	out, err := m.Validate("hello")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "hello"}, out)

	// Pre-wrapped form is accepted too.
	out, err = m.Validate(map[string]any{"result": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out["result"])
}

func TestSimpleValidateRejectsWrongType(t *testing.T) {
	m := simpleModel(t, "int")
	_, err := m.Validate("five")
	var obErr *werrors.OutputBuilderError
	require.True(t, errors.As(err, &obErr))
	assert.Contains(t, obErr.Model, "Output_node")
}

func TestObjectValidate(t *testing.T) {
	m := objectModel(t)
	out, err := m.Validate(map[string]any{"label": "high", "score": 0.9, "extra": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"label": "high", "score": 0.9}, out)

	_, err = m.Validate(map[string]any{"label": "high"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing field "score"`)

	_, err = m.Validate(map[string]any{"label": 3, "score": 0.9})
	require.Error(t, err)

	_, err = m.Validate("not an object")
	require.Error(t, err)
}

func TestNestedObjectsRejectedAtBuild(t *testing.T) {
	_, err := NewOutputModel("node", config.OutputSchema{
		Type:   "object",
		Fields: []config.OutputField{{Name: "inner", Type: "object"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested objects are not supported")
}

func TestParseTextPlainString(t *testing.T) {
	m := simpleModel(t, "str")
	out, err := m.ParseText("Summarize ai")
	require.NoError(t, err)
	assert.Equal(t, "Summarize ai", out["result"])
}

func TestParseTextLiterals(t *testing.T) {
	intOut, err := simpleModel(t, "int").ParseText(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, 42, intOut["result"])

	floatOut, err := simpleModel(t, "float").ParseText("0.25")
	require.NoError(t, err)
	assert.Equal(t, 0.25, floatOut["result"])

	boolOut, err := simpleModel(t, "bool").ParseText("true")
	require.NoError(t, err)
	assert.Equal(t, true, boolOut["result"])
}

func TestParseTextObjectJSON(t *testing.T) {
	m := objectModel(t)
	out, err := m.ParseText(`{"label": "high", "score": 0.9}`)
	require.NoError(t, err)
	assert.Equal(t, "high", out["label"])
}

func TestParseTextStripsCodeFence(t *testing.T) {
	m := objectModel(t)
	out, err := m.ParseText("```json\n{\"label\": \"high\", \"score\": 0.9}\n```")
	require.NoError(t, err)
	assert.Equal(t, "high", out["label"])
}

func TestParseTextRepairsSloppyJSON(t *testing.T) {
	m := objectModel(t)
	out, err := m.ParseText(`{label: 'high', score: 0.9,}`)
	require.NoError(t, err)
	assert.Equal(t, "high", out["label"])
}

func TestParseTextRejectsGarbageForObjects(t *testing.T) {
	m := objectModel(t)
	_, err := m.ParseText("no json here at all ::::")
	require.Error(t, err)
}

func TestRoundTripIdentity(t *testing.T) {
	m := objectModel(t)
	out, err := m.Validate(map[string]any{"label": "high", "score": 0.9})
	require.NoError(t, err)

	data, err := m.Serialize(out)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	again, err := m.Validate(decoded)
	require.NoError(t, err)
	assert.Equal(t, out, again)

	simple := simpleModel(t, "str")
	sOut, err := simple.Validate("v")
	require.NoError(t, err)
	sData, err := simple.Serialize(sOut)
	require.NoError(t, err)
	var sDecoded map[string]any
	require.NoError(t, json.Unmarshal(sData, &sDecoded))
	sAgain, err := simple.Validate(sDecoded)
	require.NoError(t, err)
	assert.Equal(t, sOut, sAgain)
}
