package mllp

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListener_RoundTrip(t *testing.T) {
	received := make(chan []byte, 1)
	l := NewListener("127.0.0.1:0", func(ctx context.Context, message []byte) ([]byte, error) {
		received <- message
		return []byte("MSA|AA|1"), nil
	})

	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	addr := l.ln.Addr().String()
	reply, err := Dial(context.Background(), addr, []byte("MSH|^~\\&|A|B|C|D|20260730||ADT^A01|1|P|2.5"))
	require.NoError(t, err)
	assert.Equal(t, "MSA|AA|1", string(reply))

	select {
	case msg := <-received:
		assert.Contains(t, string(msg), "ADT^A01")
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestReadFrame_SkipsPrefixNoise(t *testing.T) {
	raw := append([]byte{0xFF, 0xFF}, Frame([]byte("hello"))...)
	r := bufio.NewReader(newByteReader(raw))
	msg, err := readFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))
}

func TestReadFrame_HandlesEmbeddedEndByte1WithoutEndByte2(t *testing.T) {
	payload := []byte{'a', endByte1, 'b'}
	r := bufio.NewReader(newByteReader(Frame(payload)))
	msg, err := readFrame(r)
	require.NoError(t, err)
	assert.Equal(t, payload, msg)
}

// byteReader adapts a byte slice to io.Reader in small chunks so readFrame
// exercises its incremental ReadBytes loop rather than getting everything
// in one Read call.
type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:r.pos+1])
	r.pos += n
	return n, nil
}
