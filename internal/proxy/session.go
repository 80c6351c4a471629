package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solarwatch/growattproxy/internal/codec"
	"github.com/solarwatch/growattproxy/internal/decodemsg"
	"github.com/solarwatch/growattproxy/pkg/attrs"
)

// persistTimeout bounds each store call so a stalled database degrades a
// session's throughput (the spec's intended backpressure) without wedging
// it forever.
const persistTimeout = 5 * time.Second

// Session is one accepted inbound connection paired with its dialed
// upstream connection: two independent copy loops sharing one
// cancellation signal, grounded on the teacher's boot/conn.Conn
// read-loop/write-loop shape and on the reference implementation's
// copy_with_abort/handle_connection.
type Session struct {
	ID string

	cfg *Config

	inbound  net.Conn
	upstream net.Conn

	attrs *attrs.Store[string, any]

	ctx    context.Context
	cancel context.CancelFunc

	decoder *decodemsg.Decoder

	bytesInbound  atomic.Int64
	bytesUpstream atomic.Int64

	closeOnce sync.Once
}

// Accept wraps a freshly accepted inbound connection. Start must be
// called to dial upstream and begin relaying.
func Accept(inbound net.Conn, cfg *Config) *Session {
	return &Session{
		ID:      cfg.IDGenerator(),
		cfg:     cfg,
		inbound: inbound,
		attrs:   attrs.New[string, any](),
		decoder: cfg.decoder(),
	}
}

func (s *Session) InboundAddr() net.Addr  { return s.inbound.RemoteAddr() }
func (s *Session) UpstreamAddr() net.Addr { return s.upstream.RemoteAddr() }
func (s *Session) Attrs() *attrs.Store[string, any] { return s.attrs }

// Start dials the upstream endpoint and, on success, spawns the two copy
// loops. wg is owned by the Listener so it can drain in-flight sessions
// on shutdown. Start never blocks past the dial.
func (s *Session) Start(parent context.Context, wg *sync.WaitGroup) {
	s.ctx, s.cancel = context.WithCancel(parent)

	dialer := net.Dialer{Timeout: s.cfg.DialTimeout}
	upstream, err := dialer.DialContext(s.ctx, "tcp", s.cfg.RemoteAddr)
	if err != nil {
		s.cfg.Hook.OnDial(s, nil, err)
		_ = s.inbound.Close()
		s.cancel()
		return
	}
	s.upstream = upstream
	s.cfg.Hook.OnDial(s, upstream.RemoteAddr(), nil)

	applyTCPOptions(s.inbound, s.cfg)
	applyTCPOptions(s.upstream, s.cfg)

	s.cfg.Hook.OnAccept(s)

	wg.Add(2)
	go s.run(wg, Inbound, s.inbound, s.upstream, &s.bytesInbound)
	go s.run(wg, Upstream, s.upstream, s.inbound, &s.bytesUpstream)

	go func() {
		wg.Wait()
		s.close()
	}()
}

func applyTCPOptions(conn net.Conn, cfg *Config) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if cfg.KeepAlive {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(cfg.KeepAlivePeriod)
	}
	if cfg.NoDelay {
		_ = tc.SetNoDelay(true)
	}
}

// run is one direction's copy loop: read a chunk, process it for its
// side effect (decode+persist, or unscramble+persist), then forward the
// unmodified chunk. Processing happens before the write, per the spec's
// backpressure rule, but errors in either step never stop the relay.
func (s *Session) run(wg *sync.WaitGroup, dir Direction, src, dst net.Conn, counter *atomic.Int64) {
	defer wg.Done()
	defer s.cancel() // wake the peer loop promptly on any exit

	buf := make([]byte, s.cfg.ReadBufferSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_ = src.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		n, err := src.Read(buf)

		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.process(dir, chunk)

			if werr := writeAll(dst, chunk, s.cfg.WriteTimeout); werr != nil {
				s.cfg.Logger.Warn("session %s: write error (%s): %v", s.ID, dir, werr)
				return
			}
			counter.Add(int64(n))
		}

		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				return
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			s.cfg.Logger.Warn("session %s: read error (%s): %v", s.ID, dir, err)
			return
		}
	}
}

func writeAll(conn net.Conn, buf []byte, timeout time.Duration) error {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err := conn.Write(buf)
	return err
}

// process is the side-effecting half of each direction: decode (inbound)
// or unscramble (upstream), then persist. It never returns an error, and
// every store call for one chunk shares a single persistTimeout deadline —
// relay fidelity means the chunk above is forwarded regardless of what
// happens here.
func (s *Session) process(dir Direction, chunk []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	switch dir {
	case Inbound:
		s.processInbound(ctx, chunk)
	case Upstream:
		s.processUpstream(ctx, chunk)
	}
}

func (s *Session) processInbound(ctx context.Context, chunk []byte) {
	msg, warnings, err := s.decoder.Decode(chunk)
	if err != nil {
		s.cfg.Pool.Submit(func() { s.cfg.Hook.OnDecodeError(s, Inbound, err) })
		return
	}
	for _, w := range warnings {
		s.cfg.Logger.Warn("session %s: %v", s.ID, w)
	}

	if msg.SerialNumber != nil {
		s.attrs.Set("serial_number", *msg.SerialNumber)
	}

	id, err := s.cfg.Store.InsertInverterMessage(ctx, msg.Raw, msg.TypeTag(), msg.Header[:], msg.Timestamp, msg.SerialNumber)
	if err != nil {
		s.cfg.Pool.Submit(func() { s.cfg.Hook.OnPersistError(s, Inbound, err) })
		return
	}

	for key, value := range msg.Fields {
		if ferr := s.cfg.Store.InsertField(ctx, id, key, value); ferr != nil {
			s.cfg.Pool.Submit(func() { s.cfg.Hook.OnPersistError(s, Inbound, ferr) })
		}
	}
}

func (s *Session) processUpstream(ctx context.Context, chunk []byte) {
	if _, err := codec.Unscramble(chunk); err != nil {
		s.cfg.Pool.Submit(func() { s.cfg.Hook.OnDecodeError(s, Upstream, err) })
	}

	if _, err := s.cfg.Store.InsertRemoteMessage(ctx, chunk, time.Now()); err != nil {
		s.cfg.Pool.Submit(func() { s.cfg.Hook.OnPersistError(s, Upstream, err) })
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		_ = s.inbound.Close()
		if s.upstream != nil {
			_ = s.upstream.Close()
		}
		inB, upB := s.bytesInbound.Load(), s.bytesUpstream.Load()
		s.cfg.Logger.Info("session %s closed: %d bytes inbound, %d bytes upstream", s.ID, inB, upB)
		s.cfg.Pool.Submit(func() { s.cfg.Hook.OnClose(s, inB, upB) })
	})
}
