package proxy

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// acceptTimeout bounds each Accept call so the accept loop can observe
// context cancellation promptly, grounded on the teacher's
// boot/conn.AcceptTimeout deadline-polling pattern.
const acceptTimeout = 2 * time.Second

// Listener binds one TCP address and spawns a Session per accepted
// connection, grounded on the teacher's boot/tcp.Server.
type Listener struct {
	network string
	address string

	ln   net.Listener
	addr net.Addr

	cfg *Config

	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool

	stopOnce sync.Once
	stopped  chan struct{}

	wg sync.WaitGroup
}

// NewListener builds a Listener bound to addr ("host:port"). cfg is
// defaulted in place via WithDefault before use.
func NewListener(parent context.Context, addr string, cfg *Config) *Listener {
	cfg.WithDefault()
	ctx, cancel := context.WithCancel(parent)
	return &Listener{
		network: "tcp",
		address: addr,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
}

func (l *Listener) Addr() net.Addr { return l.addr }

// Listen binds the address and serves until Stop is called or the
// parent context ends. It blocks for the lifetime of the listener.
func (l *Listener) Listen() error {
	ln, err := net.Listen(l.network, l.address)
	if err != nil {
		l.cfg.Hook.OnListenError(err)
		return err
	}

	l.ln = ln
	l.addr = ln.Addr()
	l.running.Store(true)
	l.cfg.Logger.Info("listening on %s://%s", l.network, l.addr)
	l.cfg.Hook.OnListen(l.addr)

	return l.serve()
}

// Stop cancels the accept loop and every in-flight session, then blocks
// until they have all drained.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.cancel()
		<-l.stopped
	})
}

func (l *Listener) serve() error {
	defer l.clear()

	tcpLn, _ := l.ln.(*net.TCPListener)

	for {
		select {
		case <-l.ctx.Done():
			return nil
		default:
		}

		if tcpLn != nil {
			_ = tcpLn.SetDeadline(time.Now().Add(acceptTimeout))
		}

		raw, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}

			l.cfg.Logger.Warn("accept error: %v", err)
			return err
		}

		session := Accept(raw, l.cfg)
		session.Start(l.ctx, &l.wg)
	}
}

func (l *Listener) clear() {
	if !l.running.Load() {
		close(l.stopped)
		return
	}
	l.running.Store(false)

	if l.ln != nil {
		_ = l.ln.Close()
	}

	l.wg.Wait()

	l.cfg.Logger.Info("stopped listening on %s://%s", l.network, l.addr)
	l.cfg.Hook.OnStop(l.addr)

	close(l.stopped)
}
