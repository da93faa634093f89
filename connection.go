package deckwire

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"
)

var ErrDisconnected = errors.New("<disconnected>")

// connection owns a single websocket session. It dies on the first
// transport error and is never reused: the owning Relay actor opens a fresh
// one on reconnect.
type connection struct {
	conn         *ws.Conn
	cancel       context.CancelCauseFunc
	writeQueue   chan writeRequest
	closed       *atomic.Bool
	closedNotify chan struct{}
	closeMutex   sync.Mutex
}

type writeRequest struct {
	msg    []byte
	answer chan error
}

func newConnection(
	ctx context.Context,
	cancel context.CancelCauseFunc,
	url string,
	handshakeTimeout time.Duration,
	handleMessage func(string),
	requestHeader http.Header,
	tlsConfig *tls.Config,
) (*connection, error) {
	log.Debug().Str("relay", url).Msg("connecting")

	dialCtx := ctx
	if _, ok := dialCtx.Deadline(); !ok {
		var cancelDial context.CancelFunc
		dialCtx, cancelDial = context.WithTimeoutCause(ctx, handshakeTimeout, errors.New("connection took too long"))
		defer cancelDial()
	}

	c, _, err := ws.Dial(dialCtx, url, getConnectionOptions(requestHeader, tlsConfig))
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(2 << 24) // 33MB

	// ping every 29 seconds
	ticker := time.NewTicker(29 * time.Second)

	// main websocket loop
	writeQueue := make(chan writeRequest)
	readQueue := make(chan string)

	conn := &connection{
		conn:         c,
		cancel:       cancel,
		writeQueue:   writeQueue,
		closed:       &atomic.Bool{},
		closedNotify: make(chan struct{}),
	}

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				conn.doClose(ws.StatusNormalClosure, "")
				log.Debug().Str("relay", url).AnErr("cause", context.Cause(ctx)).Msg("closing, context done")
				return
			case <-conn.closedNotify:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeoutCause(ctx, time.Millisecond*800, errors.New("ping took too long"))
				err := c.Ping(ctx)
				cancel()
				if err != nil {
					log.Debug().Str("relay", url).Err(err).Msg("closing, ping failed")
					conn.doClose(ws.StatusAbnormalClosure, "ping took too long")
					return
				}
			case wr := <-writeQueue:
				log.Debug().Str("relay", url).Str("msg", string(wr.msg)).Msg("sending")
				ctx, cancel := context.WithTimeoutCause(ctx, time.Second*10, errors.New("write took too long"))
				err := c.Write(ctx, ws.MessageText, wr.msg)
				cancel()
				if err != nil {
					log.Debug().Str("relay", url).Err(err).Msg("closing, write failed")
					conn.doClose(ws.StatusAbnormalClosure, "write failed")
					if wr.answer != nil {
						wr.answer <- err
					}
					return
				}
				if wr.answer != nil {
					close(wr.answer)
				}
			case msg := <-readQueue:
				log.Debug().Str("relay", url).Str("msg", msg).Msg("received")
				handleMessage(msg)
			}
		}
	}()

	// read loop -- loops back to the main loop
	go func() {
		buf := new(bytes.Buffer)

		for {
			buf.Reset()

			_, reader, err := c.Reader(ctx)
			if err != nil {
				log.Debug().Str("relay", url).Err(err).Msg("closing, reader failure")
				conn.doClose(ws.StatusAbnormalClosure, "failed to get reader")
				return
			}
			if _, err := io.Copy(buf, reader); err != nil {
				log.Debug().Str("relay", url).Err(err).Msg("closing, read failure")
				conn.doClose(ws.StatusAbnormalClosure, "failed to read")
				return
			}

			select {
			case readQueue <- buf.String():
			case <-conn.closedNotify:
				return
			}
		}
	}()

	return conn, nil
}

func (c *connection) doClose(code ws.StatusCode, reason string) {
	wasClosed := c.closed.Swap(true)
	if !wasClosed {
		c.conn.Close(code, reason)
		c.cancel(fmt.Errorf("doClose(): %s", reason))
		c.closeMutex.Lock()
		close(c.closedNotify)
		c.closeMutex.Unlock()
	}
}

// write hands a request to the session's write queue, giving up if the
// session dies or ctx expires first. Returns false if the request was not
// accepted (its answer channel, if any, was not taken over).
func (c *connection) write(ctx context.Context, wr writeRequest) bool {
	select {
	case c.writeQueue <- wr:
		return true
	case <-c.closedNotify:
		return false
	case <-ctx.Done():
		return false
	}
}

func getConnectionOptions(requestHeader http.Header, tlsConfig *tls.Config) *ws.DialOptions {
	return &ws.DialOptions{
		HTTPHeader:      requestHeader,
		CompressionMode: ws.CompressionContextTakeover,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
	}
}
