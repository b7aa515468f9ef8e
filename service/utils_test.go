package service

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStringSet(t *testing.T) {
	ss := StringSet{}
	ss.Push("a")
	ss.Push("b")
	ss.Push("a")
	if len(ss.Slice()) != 2 {
		t.Errorf("expected 2 elements, got %d", len(ss.Slice()))
	}
	if !ss.Exists("a") || ss.Exists("c") {
		t.Fail()
	}
	ss.Pop("a")
	if ss.Exists("a") {
		t.Fail()
	}
}

func TestGlobOne(t *testing.T) {
	dir := t.TempDir()
	if _, err := GlobOne(dir, "*.ann"); err == nil {
		t.Errorf("expected error on empty dir")
	}
	if err := os.WriteFile(filepath.Join(dir, "a.ann"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := GlobOne(dir, "*.ann")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(f) != "a.ann" {
		t.Errorf("unexpected match %s", f)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.ann"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := GlobOne(dir, "*.ann"); err == nil {
		t.Errorf("expected error on two matches")
	}
}

func TestCopyDir(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "copy")
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0766); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "f.txt"), []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := CopyDir(src, dst); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dst, "sub", "f.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "content" {
		t.Errorf("unexpected content %s", b)
	}
}
