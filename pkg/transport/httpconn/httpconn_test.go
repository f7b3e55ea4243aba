package httpconn

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSource_RoutesBodyToHandler(t *testing.T) {
	var received []byte
	src := NewSource("/hl7", gin.TestMode, func(ctx context.Context, body []byte) ([]byte, error) {
		received = body
		return []byte("ack"), nil
	})
	require.NoError(t, src.Start("127.0.0.1:0"))
	defer src.Stop(context.Background())

	dest := NewDestination("http://"+addrOf(t, src)+"/hl7", time.Second)
	reply, err := dest.Send(context.Background(), []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "ack", string(reply))
	assert.Equal(t, "ping", string(received))
}

func TestDestination_NonSuccessStatusReturnsError(t *testing.T) {
	src := NewSource("/fail", gin.TestMode, func(ctx context.Context, body []byte) ([]byte, error) {
		return nil, assertError{}
	})
	require.NoError(t, src.Start("127.0.0.1:0"))
	defer src.Stop(context.Background())

	dest := NewDestination("http://"+addrOf(t, src)+"/fail", time.Second)
	_, err := dest.Send(context.Background(), []byte("ping"))
	require.Error(t, err)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func addrOf(t *testing.T, s *Source) string {
	t.Helper()
	addr := s.Addr()
	require.NotEmpty(t, addr)
	return addr
}
