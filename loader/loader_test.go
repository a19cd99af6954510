package loader

import (
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) GetSourceURL() *url.URL {
	args := m.Called()
	u, _ := args.Get(0).(*url.URL)
	return u
}

func (m *mockLoader) GetReader() (io.ReadCloser, error) {
	args := m.Called()
	r, _ := args.Get(0).(io.ReadCloser)
	return r, args.Error(1)
}

func readAll(t *testing.T, l Loader) string {
	t.Helper()
	content, err := ReadAll(l)
	require.NoError(t, err)
	return content
}

func TestFromString(t *testing.T) {
	t.Parallel()

	t.Run("keeps content verbatim", func(t *testing.T) {
		src := "\nx = 1\n  \n"
		l, err := NewFromString(src)
		require.NoError(t, err)
		assert.Equal(t, src, readAll(t, l))
		assert.Equal(t, "string", l.GetSourceURL().Scheme)
		assert.Contains(t, l.String(), "Chars: 10")
	})

	t.Run("same content same url", func(t *testing.T) {
		a, err := NewFromString("1 + 1")
		require.NoError(t, err)
		b, err := NewFromString("1 + 1")
		require.NoError(t, err)
		assert.Equal(t, a.GetSourceURL().String(), b.GetSourceURL().String())
	})

	for _, blank := range []string{"", "   ", "\n\t\n"} {
		_, err := NewFromString(blank)
		require.ErrorIs(t, err, ErrScriptNotAvailable)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestFromIoReader(t *testing.T) {
	t.Parallel()

	l, err := NewFromIoReader(strings.NewReader("a = 1"), "stdin")
	require.NoError(t, err)
	assert.Equal(t, "a = 1", readAll(t, l))
	assert.Equal(t, "stdin", l.GetSourceURL().Host)
	assert.Equal(t, "a = 1", readAll(t, l), "content can be read repeatedly")

	l, err = NewFromIoReader(strings.NewReader("b"), "")
	require.NoError(t, err)
	assert.Equal(t, "unnamed", l.GetSourceURL().Host)

	_, err = NewFromIoReader(nil, "x")
	require.ErrorIs(t, err, ErrScriptNotAvailable)
	_, err = NewFromIoReader(strings.NewReader("  "), "x")
	require.ErrorIs(t, err, ErrScriptNotAvailable)
	_, err = NewFromIoReader(failingReader{}, "x")
	require.Error(t, err)
}

func TestFromDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "snippet.py")
	require.NoError(t, os.WriteFile(path, []byte("y = 40 + 2\n"), 0o600))

	t.Run("valid paths", func(t *testing.T) {
		for _, p := range []string{path, "file://" + path} {
			l, err := NewFromDisk(p)
			require.NoError(t, err)
			assert.Equal(t, "file", l.GetSourceURL().Scheme)
			assert.Equal(t, path, l.GetSourceURL().Path)
			assert.Equal(t, "y = 40 + 2\n", readAll(t, l))
			assert.Contains(t, l.String(), "Checksum:")
		}
	})

	t.Run("invalid paths", func(t *testing.T) {
		tests := []struct {
			name string
			path string
			err  error
		}{
			{name: "relative", path: "snippet.py", err: ErrScriptNotAvailable},
			{name: "root", path: "/", err: ErrScriptNotAvailable},
			{name: "http", path: "http://example.com/x.py", err: ErrSchemeUnsupported},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := NewFromDisk(tt.path)
				require.ErrorIs(t, err, tt.err)
			})
		}
	})

	t.Run("missing file", func(t *testing.T) {
		l, err := NewFromDisk(filepath.Join(dir, "missing.py"))
		require.NoError(t, err)
		_, err = ReadAll(l)
		require.ErrorIs(t, err, ErrScriptNotAvailable)
		assert.NotContains(t, l.String(), "Checksum")
	})
}

func TestInferLoader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "snippet.py")
	require.NoError(t, os.WriteFile(path, []byte("1"), 0o600))
	spaced := filepath.Join(dir, "my snippet.py")
	require.NoError(t, os.WriteFile(spaced, []byte("5"), 0o600))

	tests := []struct {
		name    string
		input   any
		want    string
		wantErr error
	}{
		{name: "inline", input: "x = 10 / 2", want: "x = 10 / 2"},
		{name: "inline without spaces", input: "10/2", want: "10/2"},
		{name: "absolute path", input: path, want: "1"},
		{name: "file uri", input: "file://" + path, want: "1"},
		{name: "path with spaces", input: spaced, want: "5"},
		{name: "attribute is not a path", input: "x = config.py", want: "x = config.py"},
		{name: "bytes", input: []byte("2"), want: "2"},
		{name: "bytes not utf8", input: []byte{0xff, 0xfe, 0x41}, wantErr: ErrScriptNotAvailable},
		{name: "reader", input: strings.NewReader("3"), want: "3"},
		{name: "http", input: "https://example.com/x.py", wantErr: ErrSchemeUnsupported},
		{name: "blank", input: " ", wantErr: ErrScriptNotAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := InferLoader(tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, readAll(t, l))
		})
	}

	t.Run("loader passthrough", func(t *testing.T) {
		orig, err := NewFromString("4")
		require.NoError(t, err)
		l, err := InferLoader(orig)
		require.NoError(t, err)
		assert.Same(t, orig, l)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := InferLoader(42)
		require.Error(t, err)
	})
}

func TestReadAll(t *testing.T) {
	t.Parallel()

	_, err := ReadAll(nil)
	require.ErrorIs(t, err, ErrScriptNotAvailable)

	m := new(mockLoader)
	m.On("GetReader").Return(io.NopCloser(strings.NewReader("mocked")), nil)
	assert.Equal(t, "mocked", readAll(t, m))
	m.AssertCalled(t, "GetReader")

	failing := new(mockLoader)
	failing.On("GetReader").Return(nil, io.ErrUnexpectedEOF)
	_, err = ReadAll(failing)
	require.ErrorIs(t, err, ErrScriptNotAvailable)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	failing.AssertExpectations(t)
}
