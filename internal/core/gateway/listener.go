package gateway

import (
	"net"
	"sync"

	"whitelistd/internal/logging"
	"whitelistd/internal/metrics"
	"whitelistd/internal/netaddr"
)

// GuardListener closes connections from non-whitelisted peers as they are
// accepted, so the server never reads from them.
type GuardListener struct {
	net.Listener
	whitelist Checker
	logger    *logging.Logger
	metrics   *metrics.Collector
}

// NewGuardListener wraps ln. logger and m may be nil.
func NewGuardListener(ln net.Listener, whitelist Checker, logger *logging.Logger, m *metrics.Collector) *GuardListener {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GuardListener{Listener: ln, whitelist: whitelist, logger: logger, metrics: m}
}

// Accept returns the next admitted connection.
func (l *GuardListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		addr, err := netaddr.FromNetAddr(conn.RemoteAddr())
		if err != nil {
			l.logger.Warn("Closing connection with unusable peer address",
				logging.String("remote_addr", conn.RemoteAddr().String()), logging.Error(err))
			conn.Close()
			continue
		}

		allowed := l.whitelist.IsWhitelisted(addr)
		if l.metrics != nil {
			l.metrics.RecordCheck(addr.Family.String(), allowed)
		}
		if !allowed {
			l.logger.LogPeerRejected("accept", addr.String())
			conn.Close()
			continue
		}

		if l.metrics == nil {
			return conn, nil
		}
		l.metrics.ConnectionOpened()
		return &trackedConn{Conn: conn, closed: l.metrics.ConnectionClosed}, nil
	}
}

// trackedConn reports its close exactly once.
type trackedConn struct {
	net.Conn
	once   sync.Once
	closed func()
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.closed)
	return err
}
