package pgdumpshell

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePgDump builds a tiny shell script named pg_dump on PATH that
// echoes its --section argument, so Section can be exercised without
// a real Postgres install.
func fakePgDump(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake pg_dump script requires a POSIX shell")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "pg_dump")
	content := "#!/bin/sh\nfor i in \"$@\"; do :; done\necho \"section:$4\"\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0755))

	origPath := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+origPath)
	t.Cleanup(func() { os.Setenv("PATH", origPath) })
	return dir
}

func TestRunner_Section(t *testing.T) {
	fakePgDump(t)
	if _, err := exec.LookPath("pg_dump"); err != nil {
		t.Skip("pg_dump not resolvable in test PATH")
	}

	r := NewRunner("", nil)
	var buf bytes.Buffer
	err := r.Section(context.Background(), SectionPreData, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "section:pre-data")
}

func TestRunner_PreDataPostData(t *testing.T) {
	fakePgDump(t)
	if _, err := exec.LookPath("pg_dump"); err != nil {
		t.Skip("pg_dump not resolvable in test PATH")
	}

	r := NewRunner("postgres://localhost/test", nil)

	var pre bytes.Buffer
	require.NoError(t, r.PreData(context.Background(), &pre))
	assert.Contains(t, pre.String(), "pre-data")

	var post bytes.Buffer
	require.NoError(t, r.PostData(context.Background(), &post))
	assert.Contains(t, post.String(), "post-data")
}

func TestRunner_Section_BinaryNotFound(t *testing.T) {
	origPath := os.Getenv("PATH")
	os.Setenv("PATH", t.TempDir())
	t.Cleanup(func() { os.Setenv("PATH", origPath) })

	r := NewRunner("", nil)
	var buf bytes.Buffer
	err := r.Section(context.Background(), SectionPreData, &buf)
	assert.Error(t, err)
}
