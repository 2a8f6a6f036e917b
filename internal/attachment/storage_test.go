package attachment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStorageSave(t *testing.T) {
	base := t.TempDir()
	s := NewStorage(base, zap.NewNop())

	path, err := s.Save(42, 7, "contract.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(path, filepath.Join(base, "task_42", "step_7")))
	assert.True(t, strings.HasSuffix(path, "_contract.pdf"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), content)
}

func TestStorageSaveCollidingNames(t *testing.T) {
	base := t.TempDir()
	s := NewStorage(base, zap.NewNop())

	first, err := s.Save(1, 1, "notes.txt", []byte("a"))
	require.NoError(t, err)
	second, err := s.Save(1, 1, "notes.txt", []byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestStorageSaveRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	s := NewStorage(base, zap.NewNop())

	// the path components are stripped, not honored
	path, err := s.Save(1, 1, "../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, base))
	assert.True(t, strings.HasSuffix(path, "_passwd"))

	_, err = s.Save(1, 1, "..", []byte("x"))
	assert.Error(t, err)
}

func TestStorageOpen(t *testing.T) {
	base := t.TempDir()
	s := NewStorage(base, zap.NewNop())

	path, err := s.Save(1, 1, "a.txt", []byte("x"))
	require.NoError(t, err)

	got, err := s.Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = s.Open(filepath.Join(base, "missing.txt"))
	assert.Error(t, err)

	_, err = s.Open("/etc/passwd")
	assert.Error(t, err)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("doc.pdf"))
	assert.True(t, IsPDF("DOC.PDF"))
	assert.False(t, IsPDF("doc.pdf.txt"))
	assert.False(t, IsPDF("doc"))
}
