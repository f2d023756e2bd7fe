package archive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/metadata"
	"github.com/chazu/ilgen/registry"
	"github.com/chazu/ilgen/translate"
)

func openArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "nested", "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// image declares two constant methods and one that underflows the stack.
func image(t *testing.T) (*metadata.Image, []*metadata.Method) {
	t.Helper()
	img := metadata.NewImage("archive", 8)
	obj, err := img.WellKnownType(metadata.WellKnownObject)
	require.NoError(t, err)
	owner := img.AddType("Program", ir.KindRef, 0, obj)

	constant := func(name string, v int32) *metadata.Method {
		b := cil.NewBytecodeBuilder()
		b.EmitLdcI4(v)
		b.Emit(cil.Ret)
		sig := metadata.Signature{Return: metadata.Param{Kind: ir.KindI4}}
		return img.AddMethod(owner, name, metadata.MethodStatic, sig, &cil.Body{MaxStack: 1, Code: b.Bytes()})
	}
	one, two := constant("One", 1), constant("Two", 2)
	b := cil.NewBytecodeBuilder()
	b.Emit(cil.Add)
	b.Emit(cil.Ret)
	broken := img.AddMethod(owner, "Broken", metadata.MethodStatic, metadata.Signature{}, &cil.Body{MaxStack: 2, Code: b.Bytes()})
	return img, []*metadata.Method{one, two, broken}
}

func translateAll(t *testing.T, img *metadata.Image, methods []*metadata.Method) []registry.Result {
	t.Helper()
	reg := registry.New(img, img, translate.Options{})
	// Failures are carried in the results.
	results, _ := registry.NewPool(reg, 2).Run(context.Background(), methods)
	return results
}

func TestStoreAndRead(t *testing.T) {
	a := openArchive(t)
	ctx := context.Background()
	img, methods := image(t)
	results := translateAll(t, img, methods)

	run, err := a.Store(ctx, img.Name, results)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Methods)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 2, run.NewBlobs)

	entries, err := a.Entries(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, methods[i].Token, e.Token)
		assert.Equal(t, methods[i].Name, e.Method)
		assert.Equal(t, results[i].Hash, e.BodyHash)
	}
	assert.False(t, entries[0].Failed())
	assert.NotZero(t, entries[0].IRHash)
	assert.True(t, entries[2].Failed())
	assert.Equal(t, translate.CodeStackMismatch.String(), entries[2].Code)
	assert.Zero(t, entries[2].IRHash)

	m, err := a.Method(ctx, run.ID, methods[1].Token)
	require.NoError(t, err)
	assert.Equal(t, results[1].IR.Name, m.Name)
	assert.Equal(t, results[1].IR.Shape(), m.Shape())

	_, err = a.Method(ctx, run.ID, methods[2].Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeduplicatesAcrossRuns(t *testing.T) {
	a := openArchive(t)
	ctx := context.Background()
	img, methods := image(t)

	first, err := a.Store(ctx, img.Name, translateAll(t, img, methods))
	require.NoError(t, err)
	// A fresh registry translates again; the output is identical.
	second, err := a.Store(ctx, img.Name, translateAll(t, img, methods))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, first.NewBlobs)
	assert.Equal(t, 0, second.NewBlobs)

	n, err := a.Blobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	runs, err := a.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, 3, r.Methods)
		assert.Equal(t, 1, r.Failed)
		assert.Equal(t, "archive", r.Image)
	}
}

func TestUnknownRun(t *testing.T) {
	a := openArchive(t)
	ctx := context.Background()

	_, err := a.Entries(ctx, "not-a-run")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = a.Entries(ctx, "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.ErrorIs(t, err, ErrNotFound)

	runs, err := a.Runs(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	ctx := context.Background()
	img, methods := image(t)

	a, err := Open(path)
	require.NoError(t, err)
	run, err := a.Store(ctx, img.Name, translateAll(t, img, methods[:2]))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = Open(path)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, path, a.Path())
	entries, err := a.Entries(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
