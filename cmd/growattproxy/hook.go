package main

import (
	"net"

	"github.com/solarwatch/growattproxy/internal/proxy"
	"github.com/solarwatch/growattproxy/pkg/logger"
)

// loggingHook is the proxy's default observability hook: every lifecycle
// event becomes one log line, nothing more.
type loggingHook struct {
	proxy.NoopHook
	log logger.Logger
}

func (h *loggingHook) OnListen(addr net.Addr) {
	h.log.Info("listening on %s", addr)
}

func (h *loggingHook) OnListenError(err error) {
	h.log.Error("failed to listen: %v", err)
}

func (h *loggingHook) OnStop(addr net.Addr) {
	h.log.Info("stopped listening on %s", addr)
}

func (h *loggingHook) OnAccept(s *proxy.Session) {
	h.log.Debug("session %s accepted from %s", s.ID, s.InboundAddr())
}

func (h *loggingHook) OnDial(s *proxy.Session, remote net.Addr, err error) {
	if err != nil {
		h.log.Warn("session %s: dial upstream failed: %v", s.ID, err)
		return
	}
	h.log.Debug("session %s dialed upstream %s", s.ID, remote)
}

func (h *loggingHook) OnClose(s *proxy.Session, inboundBytes, upstreamBytes int64) {
	if serial, ok := s.Attrs().Get("serial_number"); ok {
		h.log.Info("session %s closed: inverter %v, %d bytes inbound, %d bytes upstream", s.ID, serial, inboundBytes, upstreamBytes)
		return
	}
	h.log.Info("session %s closed: %d bytes inbound, %d bytes upstream", s.ID, inboundBytes, upstreamBytes)
}

func (h *loggingHook) OnDecodeError(s *proxy.Session, direction proxy.Direction, err error) {
	h.log.Warn("session %s: decode error (%s): %v", s.ID, direction, err)
}

func (h *loggingHook) OnPersistError(s *proxy.Session, direction proxy.Direction, err error) {
	h.log.Warn("session %s: persist error (%s): %v", s.ID, direction, err)
}
