package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendRecvRoundTrip(t *testing.T) {
	p := NewInMemory(64)

	req := []byte("hello server")
	require.Equal(t, OK, p.SendRequest(req))

	buf := make([]byte, 64)
	n, status := p.RecvRequest(buf)
	require.Equal(t, OK, status)
	require.Equal(t, req, buf[:n])

	resp := []byte("hello client")
	require.Equal(t, OK, p.SendResponse(resp))

	n, status = p.RecvResponse(buf)
	require.Equal(t, OK, status)
	require.Equal(t, resp, buf[:n])
}

func TestSendRequestNotReadyUntilPriorAnswered(t *testing.T) {
	p := NewInMemory(64)
	require.Equal(t, OK, p.SendRequest([]byte("first")))

	// Server hasn't answered yet: a second request must be refused.
	require.Equal(t, NotReady, p.SendRequest([]byte("second")))

	buf := make([]byte, 64)
	_, status := p.RecvRequest(buf)
	require.Equal(t, OK, status)
	require.Equal(t, OK, p.SendResponse([]byte("ack")))

	// Now the handshake is back in sync.
	require.Equal(t, OK, p.SendRequest([]byte("second")))
}

func TestRecvRequestNotReadyWithoutNewRequest(t *testing.T) {
	p := NewInMemory(64)
	buf := make([]byte, 64)
	_, status := p.RecvRequest(buf)
	require.Equal(t, NotReady, status)
}

func TestRecvResponseNotReadyBeforeServerReplies(t *testing.T) {
	p := NewInMemory(64)
	require.Equal(t, OK, p.SendRequest([]byte("ping")))

	buf := make([]byte, 64)
	_, status := p.RecvResponse(buf)
	require.Equal(t, NotReady, status)
}

func TestSendRequestOversizeIsBadArgs(t *testing.T) {
	p := NewInMemory(4)
	require.Equal(t, BadArgs, p.SendRequest([]byte("way too long")))
}

func TestAbandonedRequestIsSelfHealing(t *testing.T) {
	p := NewInMemory(64)
	require.Equal(t, OK, p.SendRequest([]byte("abandoned")))

	buf := make([]byte, 64)
	_, status := p.RecvRequest(buf)
	require.Equal(t, OK, status)
	require.Equal(t, OK, p.SendResponse([]byte("too late, client gone")))

	// Client never read the response; notify counts are equal again, so
	// the next request proceeds normally (spec §5: abandonment is
	// self-healing).
	require.Equal(t, OK, p.SendRequest([]byte("new request")))
}
