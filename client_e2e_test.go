package realtime

import (
	"bytes"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// e2eConfig connects to a local server with a short retry delay.
func e2eConfig(url string) ConnectionConfig {
	cfg := NewConnectionConfig(url)
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.ConnectTimeout = 5 * time.Second
	return cfg
}

func TestSocketClientE2E(t *testing.T) {
	t.Run("send and receive", func(t *testing.T) {
		url := wsServer(t, nil, echo)

		c := NewSocketClient()
		defer c.Disconnect()

		r := &recorder{}
		require.NoError(t, c.OnMessage(r.handle))

		_, err := c.Connect(e2eConfig(url))
		require.NoError(t, err)
		waitState(t, c, StateConnected)

		require.NoError(t, c.Send("hello"))
		require.NoError(t, c.Send(map[string]int{"n": 1}))

		require.Eventually(t, func() bool { return r.len() == 2 }, waitTimeout, time.Millisecond)
		msgs := r.messages()
		assert.Equal(t, "hello", msgs[0].Text())
		assert.Equal(t, ImplicitTopic, msgs[0].Topic)
		assert.Equal(t, map[string]any{"n": float64(1)}, msgs[1].Parsed)
	})

	t.Run("reconnects after the server drops", func(t *testing.T) {
		var conns atomic.Int32
		url := wsServer(t, nil, func(conn *websocket.Conn, r *http.Request) {
			if conns.Add(1) == 1 {
				_ = conn.NetConn().Close()
				return
			}
			echo(conn, r)
		})

		var mu sync.Mutex
		var closes []CloseEvent
		c := NewSocketClient(OnClose(func(ev CloseEvent) {
			mu.Lock()
			closes = append(closes, ev)
			mu.Unlock()
		}))
		defer c.Disconnect()

		r := &recorder{}
		require.NoError(t, c.OnMessage(r.handle))

		_, err := c.Connect(e2eConfig(url))
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return conns.Load() >= 2 && c.State() == StateConnected
		}, waitTimeout, time.Millisecond)

		require.NoError(t, c.Send("again"))
		require.Eventually(t, func() bool { return r.len() == 1 }, waitTimeout, time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		require.NotEmpty(t, closes)
		assert.False(t, closes[0].Clean)
	})

	t.Run("disconnect closes cleanly", func(t *testing.T) {
		closed := make(chan error, 1)
		url := wsServer(t, nil, func(conn *websocket.Conn, _ *http.Request) {
			_, _, err := conn.ReadMessage()
			closed <- err
		})

		c := NewSocketClient()
		_, err := c.Connect(e2eConfig(url))
		require.NoError(t, err)
		waitState(t, c, StateConnected)

		require.NoError(t, c.Disconnect())
		<-c.Done()
		assert.Equal(t, StateClosed, c.State())

		select {
		case err := <-closed:
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
		case <-time.After(waitTimeout):
			t.Fatal("server did not see the close")
		}
	})
}

// stompBroker is a minimal STOMP 1.2 broker: it answers CONNECT, confirms
// subscriptions with receipts and routes SEND to matching subscriptions.
type stompBroker struct {
	mu      sync.Mutex
	frames  []*frame.Frame
	counter int
}

func (b *stompBroker) received() []*frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*frame.Frame(nil), b.frames...)
}

func (b *stompBroker) commands() []string {
	var out []string
	for _, f := range b.received() {
		out = append(out, f.Command)
	}
	return out
}

func (b *stompBroker) serve(conn *websocket.Conn, _ *http.Request) {
	subs := make(map[string]string) // id -> destination

	write := func(f *frame.Frame) error {
		var buf bytes.Buffer
		if err := frame.NewWriter(&buf).Write(f); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, buf.Bytes())
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		data = bytes.TrimLeft(data, "\r\n")
		if len(data) == 0 {
			continue
		}

		f, err := frame.NewReader(bytes.NewReader(data)).Read()
		if err != nil || f == nil {
			return
		}

		b.mu.Lock()
		b.frames = append(b.frames, f)
		b.mu.Unlock()

		switch f.Command {
		case frame.CONNECT:
			err = write(frame.New(frame.CONNECTED, "version", "1.2", "heart-beat", "0,0"))

		case frame.SUBSCRIBE:
			subs[f.Header.Get("id")] = f.Header.Get("destination")
			if receipt := f.Header.Get("receipt"); receipt != "" {
				err = write(frame.New(frame.RECEIPT, "receipt-id", receipt))
			}

		case frame.UNSUBSCRIBE:
			delete(subs, f.Header.Get("id"))

		case frame.SEND:
			dest := f.Header.Get("destination")
			for id, d := range subs {
				if d != dest {
					continue
				}
				b.mu.Lock()
				b.counter++
				msgID := b.counter
				b.mu.Unlock()

				msg := frame.New(frame.MESSAGE,
					"subscription", id,
					"message-id", "m-"+strconv.Itoa(msgID),
					"destination", dest,
					"content-type", f.Header.Get("content-type"),
				)
				msg.Body = f.Body
				if err = write(msg); err != nil {
					break
				}
			}

		case frame.DISCONNECT:
			return
		}

		if err != nil {
			return
		}
	}
}

func TestBrokerClientE2E(t *testing.T) {
	broker := &stompBroker{}
	url := wsServer(t, STOMPSubprotocols, broker.serve)

	b := NewBrokerClient()
	defer b.Disconnect()

	_, err := b.Connect(e2eConfig(url))
	require.NoError(t, err)
	waitState(t, b, StateConnected)

	a := &recorder{}
	require.NoError(t, b.Subscribe("/topic/a", a.handle))

	t.Run("publish reaches the subscription", func(t *testing.T) {
		require.NoError(t, b.Publish("/topic/a", map[string]int{"n": 1}))

		require.Eventually(t, func() bool { return a.len() == 1 }, waitTimeout, time.Millisecond)
		msg := a.messages()[0]
		assert.Equal(t, "/topic/a", msg.Topic)
		assert.Equal(t, "/topic/a", msg.Destination)
		assert.Equal(t, map[string]any{"n": float64(1)}, msg.Parsed)
		assert.Equal(t, "application/json", msg.Headers["content-type"])
	})

	t.Run("unsubscribed topics are silent", func(t *testing.T) {
		require.NoError(t, b.Unsubscribe("/topic/a"))

		other := &recorder{}
		require.NoError(t, b.Subscribe("/topic/b", other.handle))

		require.NoError(t, b.Publish("/topic/a", "ignored"))
		require.NoError(t, b.Publish("/topic/b", "seen"))

		require.Eventually(t, func() bool { return other.len() == 1 }, waitTimeout, time.Millisecond)
		assert.Equal(t, "seen", other.messages()[0].Parsed)
		assert.Equal(t, 1, a.len())
		assert.Equal(t, []string{"/topic/b"}, b.Subscriptions())
	})

	t.Run("disconnect says goodbye", func(t *testing.T) {
		require.NoError(t, b.Disconnect())
		<-b.Done()

		require.Eventually(t, func() bool {
			cmds := broker.commands()
			return len(cmds) > 0 && cmds[len(cmds)-1] == frame.DISCONNECT
		}, waitTimeout, time.Millisecond)

		cmds := broker.commands()
		assert.Equal(t, frame.CONNECT, cmds[0])
		assert.Contains(t, cmds, frame.SUBSCRIBE)
		assert.Contains(t, cmds, frame.UNSUBSCRIBE)
		assert.Contains(t, cmds, frame.SEND)
	})
}
