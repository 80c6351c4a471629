package proxy

import (
	"runtime"
	"time"

	"github.com/solarwatch/growattproxy/internal/decodemsg"
	"github.com/solarwatch/growattproxy/internal/schema"
	"github.com/solarwatch/growattproxy/internal/store"
	"github.com/solarwatch/growattproxy/pkg/logger"
	"github.com/solarwatch/growattproxy/pkg/pool"
	"github.com/solarwatch/growattproxy/pkg/uuid"
)

const (
	defaultReadTimeout    = 2 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultReadBufferSize = 65535 // one read == one frame, per the wire format's 16-bit length field
)

// Config configures a Listener and every Session it spawns. It is built
// once at startup and shared by reference — nothing in it is mutated
// after WithDefault runs, the same publication discipline the shared
// schema.Schema follows.
type Config struct {
	// RemoteAddr is the upstream endpoint each session dials.
	RemoteAddr string

	// Schema drives DATA4 decoding. Required.
	Schema schema.Schema

	// Store persists decoded messages and remote chunks. Required.
	Store store.Store

	Logger logger.Logger
	Pool   pool.Pool
	Hook   Hook

	IDGenerator func() string

	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ReadBufferSize  int
	KeepAlive       bool
	KeepAlivePeriod time.Duration
	NoDelay         bool
}

// WithDefault fills the zero-valued logger, pool, hook, ID generator,
// remote address, timeouts, buffer size and keepalive period with the
// proxy's defaults, the way uno's conf.Config.WithDefault seeds a runtime
// config. Schema, Store, KeepAlive and NoDelay are left as given.
func (c *Config) WithDefault() {
	if c.Logger == nil {
		c.Logger = logger.Default("growattproxy", logger.INFO)
	}
	if c.Pool == nil {
		c.Pool = pool.New(
			pool.WithMaxWorkers(runtime.GOMAXPROCS(0)*8),
			pool.WithQueue(8192),
			pool.WithNonBlocking(),
			pool.WithPanicHandler(func(r any) {
				c.Logger.Error("hook dispatch panic: %v", r)
			}),
		)
	}
	if c.Hook == nil {
		c.Hook = NoopHook{}
	}
	if c.IDGenerator == nil {
		c.IDGenerator = uuid.NewSessionID
	}
	if c.RemoteAddr == "" {
		c.RemoteAddr = "server.growatt.com:5279"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaultReadBufferSize
	}
	if c.KeepAlivePeriod <= 0 {
		c.KeepAlivePeriod = 2 * time.Minute
	}
}

func (c *Config) decoder() *decodemsg.Decoder {
	return decodemsg.New(c.Schema, nil)
}
