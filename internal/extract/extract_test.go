package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFromFilePlainText(t *testing.T) {
	path := writeFile(t, "a.txt", "plain text content")
	res, err := FromFile(path, "text/plain", "a.txt")
	require.NoError(t, err)
	require.Equal(t, TypeText, res.Type)
	require.Equal(t, "plain text content", res.Text)
	require.Empty(t, res.Pages)
}

func TestFromFileMarkdownStripsFrontmatter(t *testing.T) {
	content := "---\ntitle: Hello\ntags: [a, b]\n---\n# Heading\n\nbody"
	path := writeFile(t, "a.md", content)
	res, err := FromFile(path, "text/markdown", "a.md")
	require.NoError(t, err)
	require.Equal(t, TypeMarkdown, res.Type)
	require.Equal(t, "# Heading\n\nbody", res.Text)
}

func TestFromFileMarkdownWithoutFrontmatter(t *testing.T) {
	path := writeFile(t, "a.md", "# Heading\n\nbody")
	res, err := FromFile(path, "", "a.md")
	require.NoError(t, err)
	require.Equal(t, "# Heading\n\nbody", res.Text)
}

func TestFromFileUnknownTypeFallsBackToText(t *testing.T) {
	path := writeFile(t, "a.log", "some log line")
	res, err := FromFile(path, "", "a.log")
	require.NoError(t, err)
	require.Equal(t, TypeText, res.Type)
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "missing.txt"), "text/plain", "missing.txt")
	require.Error(t, err)
}
