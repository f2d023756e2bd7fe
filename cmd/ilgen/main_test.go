package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/config"
	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
)

// writeImage saves an image with Program::Add(i4, i4) and a method that
// fails to translate.
func writeImage(t *testing.T, dir string) string {
	t.Helper()
	img := metadata.NewImage("cli", 8)
	obj, err := img.WellKnownType(metadata.WellKnownObject)
	require.NoError(t, err)
	owner := img.AddType("Program", ir.KindRef, 0, obj)

	i4 := metadata.Param{Kind: ir.KindI4}
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Ldarg0)
	b.Emit(cil.Ldarg1)
	b.Emit(cil.Add)
	b.Emit(cil.Ret)
	sig := metadata.Signature{Params: []metadata.Param{i4, i4}, Return: i4}
	img.AddMethod(owner, "Add", metadata.MethodStatic, sig, &cil.Body{MaxStack: 2, Code: b.Bytes()})

	b = cil.NewBytecodeBuilder()
	b.Emit(cil.Pop)
	b.Emit(cil.Ret)
	img.AddMethod(owner, "Broken", metadata.MethodStatic, metadata.Signature{}, &cil.Body{MaxStack: 1, Code: b.Bytes()})

	path := filepath.Join(dir, "cli.img")
	require.NoError(t, img.SaveFile(path))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTranslateCommand(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir)

	out, err := execute(t, "-C", dir, "-i", img, "translate", "-m", "Program::Add")
	require.NoError(t, err)
	assert.Contains(t, out, "method Program::Add")
	assert.Contains(t, out, "1 translated, 0 failed")

	out, err = execute(t, "-C", dir, "-i", img, "translate", "-q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 methods failed")
	assert.Contains(t, out, "FAIL Broken")
	assert.NotContains(t, out, "method Program::Add")

	_, err = execute(t, "-C", dir, "-i", img, "translate", "-m", "Missing")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestNoImage(t *testing.T) {
	_, err := execute(t, "-C", t.TempDir(), "translate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image given")
}

func TestDisCommand(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir)
	out, err := execute(t, "-C", dir, "-i", img, "dis", "-m", "Add")
	require.NoError(t, err)
	assert.Contains(t, out, "Program::Add")
	assert.Contains(t, out, "ldarg.0")
	assert.Contains(t, out, "add")
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir)

	out, err := execute(t, "-C", dir, "-i", img, "run", "Add", "2", "40")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)

	_, err = execute(t, "-C", dir, "-i", img, "run", "Add", "2")
	assert.Error(t, err)
	_, err = execute(t, "-C", dir, "-i", img, "run", "Add", "2", "x")
	assert.Error(t, err)
}

func TestArchiveCommands(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir)

	out, err := execute(t, "-C", dir, "-i", img, "translate", "-q", "-m", "Add", "--archive")
	require.NoError(t, err)
	assert.Contains(t, out, "archived run")
	assert.FileExists(t, filepath.Join(dir, ".ilgen", "archive.db"))

	out, err = execute(t, "-C", dir, "runs")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "cli")
	runID := strings.Fields(lines[0])[0]

	out, err = execute(t, "-C", dir, "show", "--ir", runID)
	require.NoError(t, err)
	assert.Contains(t, out, "Add")
	assert.Contains(t, out, "method Program::Add")
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "-C", dir, "init", "--name", "demo", "--project-image", "demo.img")
	require.NoError(t, err)
	assert.Contains(t, out, config.FileName)

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Project.Name)
	assert.Equal(t, filepath.Join(dir, "demo.img"), cfg.ImagePath())

	_, err = execute(t, "-C", dir, "init")
	assert.ErrorIs(t, err, os.ErrExist)
}
