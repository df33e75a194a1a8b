package mesh

import (
	"time"

	"go.uber.org/zap"
)

// startProbe pings conn every ProbeInterval until the connection is
// disposed.
func (m *Manager) startProbe(conn *peerConn) {
	conn.stopProber()
	stop := make(chan struct{})
	conn.stopProbe = stop
	ev := probeEvent{peerID: conn.peerID, gen: conn.gen}
	go func() {
		ticker := time.NewTicker(m.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.post(ev)
			}
		}
	}()
}

func (m *Manager) handleProbe(ev probeEvent) {
	conn := m.reg.get(ev.peerID)
	if conn == nil || conn.gen != ev.gen || !conn.connected() {
		return
	}
	m.sendPayload(conn, Payload{Type: PayloadPing, Timestamp: time.Now().UnixMilli()})
}

func (m *Manager) onPong(conn *peerConn, sent int64) {
	rtt := time.Duration(time.Now().UnixMilli()-sent) * time.Millisecond
	if rtt < 0 {
		rtt = 0
	}
	m.log.Debug("latency", zap.String("peer", conn.peerID), zap.Duration("rtt", rtt))
	m.obs.LatencyMeasured(conn.peerID, rtt)
}
