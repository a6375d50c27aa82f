package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/skymiles/internal/domain"
)

func TestStore_WriteListRead(t *testing.T) {
	root := filepath.Join(t.TempDir(), "pages", "run1")
	s := New(root, false)

	rowB := domain.InputRow{Origin: "DXB", Destination: "LHR", Cabin: domain.CabinBusiness}
	rowA := domain.InputRow{Origin: "ABJ", Destination: "ADD", Cabin: domain.CabinEconomy}

	require.NoError(t, s.Write(Meta{Index: 1, Row: rowB, State: "results"}, []byte("<html>b</html>"), nil))
	require.NoError(t, s.Write(Meta{Index: 0, Row: rowA, State: "access_denied"}, []byte("<html>a</html>"), []byte("png")))

	entries, err := New(root, true).List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, 0, entries[0].Meta.Index)
	require.Equal(t, "ABJ-ADD", entries[0].Meta.Row.Route())
	require.NotEmpty(t, entries[0].PNGPath)
	require.Empty(t, entries[1].PNGPath)

	b, ok, err := s.ReadHTML(entries[1])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "<html>b</html>", string(b))
}

func TestStore_ReadOnlyRejectWrite(t *testing.T) {
	root := t.TempDir()
	s := New(root, true)

	err := s.Write(Meta{Index: 0, Row: domain.InputRow{Origin: "ABJ", Destination: "ADD"}}, []byte("x"), nil)
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("期望 ErrReadOnly，实际：%v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "0000_ABJ-ADD.html")); !os.IsNotExist(err) {
		t.Fatalf("期望文件不存在，但 Stat err=%v", err)
	}
}

func TestStem_RejectsTraversal(t *testing.T) {
	_, err := Stem(0, domain.InputRow{Origin: "../", Destination: "ADD"})
	require.Error(t, err)

	stem, err := Stem(12, domain.InputRow{Origin: "ABJ", Destination: "ADD"})
	require.NoError(t, err)
	require.Equal(t, "0012_ABJ-ADD", stem)
}

func TestStore_ListBadJSON(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "0000_ABJ-ADD.json"), []byte("{"), 0o644))

	_, err := New(root, true).List()
	require.Error(t, err)
}
