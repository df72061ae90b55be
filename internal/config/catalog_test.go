package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkflowFile(t *testing.T, dir, file, name string) {
	t.Helper()
	yaml := strings.Replace(linearWorkflowYAML, "name: summarize", "name: "+name, 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(yaml), 0o644))
}

func TestCatalogScansDirectory(t *testing.T) {
	dir := t.TempDir()
	writeWorkflowFile(t, dir, "summarize.yaml", "summarize")
	writeWorkflowFile(t, dir, "review.yml", "review")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))

	catalog, err := NewCatalog(dir)
	require.NoError(t, err)

	assert.Equal(t, 2, catalog.Len())
	assert.Equal(t, []string{"review", "summarize"}, catalog.Names())

	wf, err := catalog.Get("review")
	require.NoError(t, err)
	assert.Equal(t, "review", wf.Flow.Name)

	_, err = catalog.Get("missing")
	assert.Error(t, err)
}

func TestCatalogRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeWorkflowFile(t, dir, "one.yaml", "summarize")
	writeWorkflowFile(t, dir, "two.yaml", "summarize")

	_, err := NewCatalog(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already defined")
}

func TestCatalogRejectsInvalidWorkflow(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("flow: {name: bad}\n"), 0o644))

	_, err := NewCatalog(dir)
	assert.Error(t, err)
}
