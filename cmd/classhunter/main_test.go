package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/classhunter/internal/classfile"
	"github.com/standardbeagle/classhunter/internal/scan"
	"github.com/standardbeagle/classhunter/testhelpers"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	testhelpers.WriteClass(t, root, classfile.NewBuilder("p.Base").
		Method(classfile.AccPublic, "run", "void").
		Bytes())
	testhelpers.WriteClass(t, root, classfile.NewBuilder("p.Service").Extends("p.Base").
		Field(classfile.AccPublic, "name", "java.lang.String").
		Method(classfile.AccPublic, "start", "boolean", "int").
		Bytes())
	testhelpers.WriteClass(t, root, testhelpers.InterfaceBytes("p.Api"))
	testhelpers.WriteJar(t, filepath.Join(root, "lib", "util.jar"), testhelpers.ClassEntries(
		testhelpers.ClassBytes("u.Helper", "p.Base"),
	))
	return root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"classhunter", "--config", t.TempDir()}, args...))
	return out.String(), err
}

func TestScanListsClasses(t *testing.T) {
	root := fixture(t)
	out, err := run(t, "scan", root)
	require.NoError(t, err)
	assert.Contains(t, out, "p.Base\t"+root)
	assert.Contains(t, out, "p.Service\t"+root)
	assert.Contains(t, out, "u.Helper\t"+filepath.Join(root, "lib", "util.jar"))
}

func TestScanClassPaths(t *testing.T) {
	root := fixture(t)
	out, err := run(t, "scan", "--class-paths", root)
	require.NoError(t, err)
	assert.Equal(t, root+"\n"+filepath.Join(root, "lib", "util.jar")+"\n", out)
}

func TestFindByCriteria(t *testing.T) {
	root := fixture(t)

	out, err := run(t, "find", "--assignable-to", "p.Base", root)
	require.NoError(t, err)
	assert.Contains(t, out, "p.Service")
	assert.Contains(t, out, "u.Helper")
	assert.NotContains(t, out, "p.Base\t")

	out, err = run(t, "find", "--interfaces", root)
	require.NoError(t, err)
	assert.Contains(t, out, "p.Api")
	assert.NotContains(t, out, "p.Service")
}

func TestFindSuggestsCloseNames(t *testing.T) {
	root := fixture(t)
	_, err := run(t, "find", "--name", "Servise", root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did you mean")
	assert.Contains(t, err.Error(), "p.Service")
}

func TestBytesShowsHeader(t *testing.T) {
	root := fixture(t)
	out, err := run(t, "bytes", "--class", "p.Service", root)
	require.NoError(t, err)
	assert.Contains(t, out, "class p.Service")
	assert.Contains(t, out, "extends p.Base")
	assert.Contains(t, out, "field java.lang.String name")
	assert.Contains(t, out, "method start(int) boolean")

	_, err = run(t, "bytes", "--class", "p.Missing", root)
	require.Error(t, err)
}

func TestMembersIncludesInherited(t *testing.T) {
	root := fixture(t)
	out, err := run(t, "members", "--class", "p.Service", root)
	require.NoError(t, err)
	assert.Contains(t, out, "boolean p.Service.start(int)")
	assert.Contains(t, out, "void p.Base.run()")

	out, err = run(t, "members", "--class", "p.Service", "--name", "start", "--arg", "java.lang.Integer", root)
	require.NoError(t, err)
	assert.Contains(t, out, "p.Service.start(int)")
	assert.NotContains(t, out, "p.Base.run")

	_, err = run(t, "members", "--class", "p.Service", "--kind", "bogus", root)
	require.Error(t, err)
}

func TestSuggestOrdersByScore(t *testing.T) {
	items := []*scan.Item{{Name: "a.Servlet"}, {Name: "b.Service"}, {Name: "c.Unrelated"}}
	got := suggest("Service", items)
	require.NotEmpty(t, got)
	assert.Equal(t, "b.Service", got[0])
	assert.NotContains(t, got, "c.Unrelated")
}

func TestRelativeOutput(t *testing.T) {
	root := fixture(t)
	t.Chdir(root)

	out, err := run(t, "--relative", "scan", ".")
	require.NoError(t, err)
	assert.Contains(t, out, "p.Base\t.\n")
	assert.Contains(t, out, "u.Helper\t"+filepath.Join("lib", "util.jar")+"\n")
}
