package bulk

import (
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r *StreamReader, terminator string) []string {
	t.Helper()
	var out []string
	for {
		chunk, err := r.ReadUntil([]byte(terminator))
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, string(chunk))
	}
}

func TestStreamReader_ReadUntil(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		terminator string
		want       []string
	}{
		{
			name:       "lines",
			body:       "a\nbb\nccc\n",
			terminator: "\n",
			want:       []string{"a\n", "bb\n", "ccc\n"},
		},
		{
			name:       "trailing remainder",
			body:       "a\nbb",
			terminator: "\n",
			want:       []string{"a\n", "bb"},
		},
		{
			name:       "multi-byte terminator",
			body:       "one\r\ntwo\r\nthree",
			terminator: "\r\n",
			want:       []string{"one\r\n", "two\r\n", "three"},
		},
		{
			name:       "no terminator",
			body:       "whole body",
			terminator: "\n",
			want:       []string{"whole body"},
		},
		{
			name:       "empty body",
			body:       "",
			terminator: "\n",
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewStreamReader(io.NopCloser(strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, readAll(t, r, tt.terminator))

			_, err := r.ReadUntil([]byte(tt.terminator))
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestStreamReader_TerminatorAcrossReads(t *testing.T) {
	body := "first<END>second<END>third"
	r := NewStreamReader(io.NopCloser(iotest.OneByteReader(strings.NewReader(body))))

	assert.Equal(t, []string{"first<END>", "second<END>", "third"}, readAll(t, r, "<END>"))
}

func TestStreamReader_EOFIsSticky(t *testing.T) {
	r := NewStreamReader(io.NopCloser(strings.NewReader("x")))

	chunk, err := r.ReadUntil([]byte("\n"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(chunk))

	for range 3 {
		chunk, err = r.ReadUntil([]byte("\n"))
		assert.ErrorIs(t, err, io.EOF)
		assert.Nil(t, chunk)
	}
}

func TestStreamReader_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewStreamReader(io.NopCloser(iotest.ErrReader(boom)))

	_, err := r.ReadUntil([]byte("\n"))
	assert.ErrorIs(t, err, boom)
}

func TestStreamReader_EmptyTerminator(t *testing.T) {
	r := NewStreamReader(io.NopCloser(strings.NewReader("x")))
	_, err := r.ReadUntil(nil)
	assert.Error(t, err)
}

func TestStreamReader_Close(t *testing.T) {
	var closed atomic.Bool
	r := NewStreamReader(closeTracker{Reader: strings.NewReader("x"), closed: &closed})
	require.NoError(t, r.Close())
	assert.True(t, closed.Load())
}
