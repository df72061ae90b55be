package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/config"
	werrors "weave/internal/errors"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	schema, err := NewSchema(map[string]config.FieldSpec{
		"topic":   {Type: "str", Required: true},
		"summary": {Type: "str", Default: ""},
		"count":   {Type: "int", Default: 0},
		"done":    {Type: "bool", Default: false},
		"tags":    {Type: "list[str]"},
	})
	require.NoError(t, err)
	return schema
}

func TestNewAppliesDefaultsAndRequired(t *testing.T) {
	schema := testSchema(t)

	st, err := schema.New(map[string]any{"topic": "ai"})
	require.NoError(t, err)

	topic, _ := st.Get("topic")
	assert.Equal(t, "ai", topic)
	summary, _ := st.Get("summary")
	assert.Equal(t, "", summary)
	count, _ := st.Get("count")
	assert.Equal(t, 0, count)
	tags, ok := st.Get("tags")
	require.True(t, ok, "optional fields start at their zero value")
	assert.Equal(t, []any{}, tags)
}

func TestNewRejectsMissingRequired(t *testing.T) {
	schema := testSchema(t)
	_, err := schema.New(nil)
	var stErr *werrors.StateInitializationError
	require.True(t, errors.As(err, &stErr))
	assert.Equal(t, "topic", stErr.Field)
}

func TestNewRejectsUnknownAndMistypedKeys(t *testing.T) {
	schema := testSchema(t)

	_, err := schema.New(map[string]any{"topic": "ai", "bogus": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown state field")

	_, err = schema.New(map[string]any{"topic": 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match type")
}

func TestReservedKeysAreAccepted(t *testing.T) {
	schema := testSchema(t)
	st, err := schema.New(map[string]any{"topic": "ai", "_trace_run": "r-1"})
	require.NoError(t, err)

	require.NoError(t, st.Merge(map[string]any{"_loop_iteration_step": 2}))
	v, ok := st.Get("_loop_iteration_step")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestSchemaRejectsReservedFieldNames(t *testing.T) {
	_, err := NewSchema(map[string]config.FieldSpec{
		"_loop_iteration_x": {Type: "int"},
	})
	require.Error(t, err)
}

func TestMergeTypeChecksPatch(t *testing.T) {
	schema := testSchema(t)
	st, err := schema.New(map[string]any{"topic": "ai"})
	require.NoError(t, err)

	require.NoError(t, st.Merge(map[string]any{"summary": "done", "count": 2}))
	summary, _ := st.Get("summary")
	assert.Equal(t, "done", summary)

	err = st.Merge(map[string]any{"count": "two"})
	require.Error(t, err)
	count, _ := st.Get("count")
	assert.Equal(t, 2, count, "failed merges must not partially apply")
}

func TestLoopCounters(t *testing.T) {
	schema := testSchema(t)
	st, err := schema.New(map[string]any{"topic": "ai"})
	require.NoError(t, err)

	assert.Equal(t, 0, st.LoopCounter("step"))
	assert.Equal(t, 1, st.IncrementLoopCounter("step"))
	assert.Equal(t, 2, st.IncrementLoopCounter("step"))
	assert.Equal(t, 2, st.LoopCounter("step"))
	assert.Equal(t, 0, st.LoopCounter("other"))
}

func TestSnapshotIsDetached(t *testing.T) {
	schema := testSchema(t)
	st, err := schema.New(map[string]any{"topic": "ai"})
	require.NoError(t, err)

	snap := st.Snapshot()
	snap["topic"] = "mutated"
	topic, _ := st.Get("topic")
	assert.Equal(t, "ai", topic)
}

func TestLookupDottedPath(t *testing.T) {
	schema, err := NewSchema(map[string]config.FieldSpec{
		"meta": {Type: "dict[str,any]"},
	})
	require.NoError(t, err)
	st, err := schema.New(map[string]any{"meta": map[string]any{"lang": "en"}})
	require.NoError(t, err)

	v, ok := st.Lookup([]string{"meta", "lang"})
	require.True(t, ok)
	assert.Equal(t, "en", v)

	_, ok = st.Lookup([]string{"meta", "missing"})
	assert.False(t, ok)
}

func TestTopLevelKeysOmitReserved(t *testing.T) {
	schema := testSchema(t)
	st, err := schema.New(map[string]any{"topic": "ai", "_trace_run": "r"})
	require.NoError(t, err)
	keys := st.TopLevelKeys()
	assert.Contains(t, keys, "topic")
	assert.NotContains(t, keys, "_trace_run")
}
