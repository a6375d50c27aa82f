package fsx

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteNew_SuccessAndNoTempLeft(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	if err := WriteNew(dir, "a.xlsx", []byte("hello")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "a.xlsx"))
	if err != nil {
		t.Fatalf("读取文件失败：%v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("内容不一致：%q", string(b))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".a.xlsx.tmp-") {
			t.Fatalf("临时文件未清理：%q", e.Name())
		}
	}
}

func TestWriteNew_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.xlsx"), []byte("old"), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}

	err := WriteNew(dir, "a.xlsx", []byte("new"))
	if !errors.Is(err, os.ErrExist) {
		t.Fatalf("期望 os.ErrExist，实际：%v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "a.xlsx"))
	if string(b) != "old" {
		t.Fatalf("旧文件不应被覆盖：%q", string(b))
	}
}

func TestWriteReplace_Overwrites(t *testing.T) {
	dir := t.TempDir()
	if err := WriteReplace(dir, "report.json", []byte("1")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := WriteReplace(dir, "report.json", []byte("2")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "report.json"))
	if string(b) != "2" {
		t.Fatalf("期望被覆盖为 2，实际 %q", string(b))
	}
}

func TestWriteReplace_RenameFail_CleanupTemp(t *testing.T) {
	dir := t.TempDir()

	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return os.ErrPermission
	}
	defer func() { renameFunc = old }()

	if err := WriteReplace(dir, "a.html", []byte("x")); err == nil {
		t.Fatalf("期望失败，但得到 nil")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("不应留下任何文件：%v", entries)
	}
}

func TestWriteNew_TargetConflictDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "a.xlsx"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	err := WriteNew(dir, "a.xlsx", []byte("hello"))
	if !IsPathTypeConflict(err) {
		t.Fatalf("期望 PathTypeConflictError，实际：%T %v", err, err)
	}
}

func TestEnsureDir_FileConflict(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "out")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
	if err := EnsureDir(p); !IsPathTypeConflict(err) {
		t.Fatalf("期望 PathTypeConflictError，实际：%v", err)
	}
}

func TestUniqueName(t *testing.T) {
	dir := t.TempDir()

	got, err := UniqueName(dir, "m.xlsx")
	if err != nil || got != "m.xlsx" {
		t.Fatalf("期望 m.xlsx，实际 %q err=%v", got, err)
	}

	for _, n := range []string{"m.xlsx", "m_2.xlsx"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatalf("写入失败：%v", err)
		}
	}
	got, err = UniqueName(dir, "m.xlsx")
	if err != nil || got != "m_3.xlsx" {
		t.Fatalf("期望 m_3.xlsx，实际 %q err=%v", got, err)
	}
}
