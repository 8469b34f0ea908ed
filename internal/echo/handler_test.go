//go:build linux || darwin

package echo

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/reactor/client"
	"github.com/legamerdc/reactor/protocol"
	"github.com/legamerdc/reactor/server"
)

type recorder struct {
	msgs   chan protocol.Message
	closed chan error
}

func newRecorder() *recorder {
	return &recorder{msgs: make(chan protocol.Message, 64), closed: make(chan error, 1)}
}

func (r *recorder) OnOpen(*client.Client) {}

func (r *recorder) OnMessage(_ *client.Client, m protocol.Message) {
	r.msgs <- protocol.Message{API: m.API, Payload: append([]byte(nil), m.Payload...)}
}

func (r *recorder) OnClose(_ *client.Client, err error) { r.closed <- err }

func (r *recorder) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case m := <-r.msgs:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("no reply")
		return protocol.Message{}
	}
}

func startEcho(t *testing.T, opts Options, timeout time.Duration) (*Handler, *server.Server[*Session], string) {
	t.Helper()
	opts.Logger = log.New(io.Discard)
	h := New(opts)
	srv := server.New[*Session](h, server.WithLogger(log.New(io.Discard)), server.WithWorkers(2))
	port, err := srv.Start(0, true, timeout)
	require.NoError(t, err)
	t.Cleanup(srv.Stop)
	return h, srv, net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

func dial(t *testing.T, addr string, opts ...client.Option) (*client.Client, *recorder) {
	t.Helper()
	rec := newRecorder()
	opts = append(opts, client.WithLogger(log.New(io.Discard)))
	c, err := client.Dial(context.Background(), addr, rec, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, rec
}

func TestEchoRoundTrip(t *testing.T) {
	t.Parallel()

	_, _, addr := startEcho(t, Options{}, 0)
	c, rec := dial(t, addr)

	for _, payload := range [][]byte{[]byte("hello"), {}, bytes.Repeat([]byte("x"), 20000)} {
		require.NoError(t, c.Write(APIEcho, payload))
		m := rec.next(t)
		assert.Equal(t, APIEcho, m.API)
		assert.Equal(t, len(payload), len(m.Payload))
		assert.True(t, bytes.Equal(payload, m.Payload))
	}
}

func TestEchoCompressed(t *testing.T) {
	t.Parallel()

	_, _, addr := startEcho(t, Options{Compress: true}, 0)
	c, rec := dial(t, addr, client.WithCompress(true))

	payload := bytes.Repeat([]byte("compress me "), 4096)
	require.NoError(t, c.Write(APIEcho, payload))
	m := rec.next(t)
	assert.True(t, bytes.Equal(payload, m.Payload))
}

func TestStatsReply(t *testing.T) {
	t.Parallel()

	_, _, addr := startEcho(t, Options{}, 0)
	c, rec := dial(t, addr)

	require.NoError(t, c.Write(APIEcho, []byte("ping")))
	rec.next(t)
	require.NoError(t, c.Write(APIStats, nil))
	m := rec.next(t)
	require.Equal(t, APIStats, m.API)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(m.Payload, &snap))
	assert.NotEmpty(t, snap.Conn)
	assert.Equal(t, int64(1), snap.Accepted)
	assert.Equal(t, int64(1), snap.Active)
	assert.Equal(t, int64(2), snap.Messages)
	assert.Positive(t, snap.BytesIn)
}

func TestDelayedEchoUsesWakeup(t *testing.T) {
	t.Parallel()

	h, _, addr := startEcho(t, Options{Delay: 30 * time.Millisecond}, 0)
	c, rec := dial(t, addr)

	start := time.Now()
	require.NoError(t, c.Write(APIDelayed, []byte("one")))
	require.NoError(t, c.Write(APIDelayed, []byte("two")))

	got := map[string]bool{}
	for range 2 {
		m := rec.next(t)
		assert.Equal(t, APIDelayed, m.API)
		got[string(m.Payload)] = true
	}
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, map[string]bool{"one": true, "two": true}, got)
	assert.Positive(t, h.Snapshot().Wakeups)

	// 唤醒之后连接回到读等待
	require.NoError(t, c.Write(APIEcho, []byte("after")))
	assert.Equal(t, "after", string(rec.next(t).Payload))
}

func TestIdleTimeoutRemoves(t *testing.T) {
	t.Parallel()

	h, srv, addr := startEcho(t, Options{}, 40*time.Millisecond)
	_, rec := dial(t, addr)

	select {
	case err := <-rec.closed:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("idle connection was not closed")
	}
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int64(1), h.Snapshot().Timeouts)
	assert.Equal(t, int64(0), h.Snapshot().Active)
}

func TestMaxConnsRejects(t *testing.T) {
	t.Parallel()

	h, srv, addr := startEcho(t, Options{MaxConns: 1}, 0)
	c1, rec1 := dial(t, addr)
	require.NoError(t, c1.Write(APIEcho, []byte("a")))
	rec1.next(t)

	_, rec2 := dial(t, addr)
	select {
	case <-rec2.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("second connection should be closed")
	}
	assert.Equal(t, int64(1), h.Snapshot().Rejected)
	assert.Equal(t, 1, srv.ConnectionCount())
}

func TestPeerCloseCounted(t *testing.T) {
	t.Parallel()

	h, srv, addr := startEcho(t, Options{}, 0)
	c, rec := dial(t, addr)
	require.NoError(t, c.Write(APIEcho, []byte("bye")))
	rec.next(t)
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int64(1), h.Snapshot().Disconnects)
}
