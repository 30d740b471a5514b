package discovery

import (
	"context"
	"net"
	"time"
)

// runInterfaceTask joins the multicast group on iface, broadcasts the
// local record immediately, then drives the adaptive query schedule,
// announce timer and inbound packet reader until ctx is cancelled
// (interface went down, or the manager itself is stopping).
func (m *Manager) runInterfaceTask(ctx context.Context, iface net.Interface) {
	group := &net.UDPAddr{IP: net.ParseIP(multicastIPv4), Port: multicastPort}
	conn, err := net.ListenMulticastUDP("udp4", &iface, group)
	if err != nil {
		return
	}
	defer conn.Close()

	go m.readLoop(ctx, conn)

	m.sendResponse(conn, group)

	announce := time.NewTicker(m.cfg.AnnounceInterval)
	defer announce.Stop()

	queryInterval := 500 * time.Millisecond
	queryTimer := time.NewTimer(queryInterval)
	defer queryTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-announce.C:
			m.sendResponse(conn, group)
		case <-queryTimer.C:
			m.sendQuery(conn, group)
			queryInterval *= 2
			if queryInterval > m.cfg.QueryInterval {
				queryInterval = m.cfg.QueryInterval
			}
			queryTimer.Reset(queryInterval)
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, maxRecordSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		m.handlePacket(data, src.IP.String())
	}
}

func (m *Manager) sendResponse(conn *net.UDPConn, dst *net.UDPAddr) {
	data, err := encode(m.localRecord(), false, m.nextTxID(), uint32(m.cfg.TTL/time.Second))
	if err != nil {
		return
	}
	conn.WriteToUDP(data, dst)
}

func (m *Manager) sendQuery(conn *net.UDPConn, dst *net.UDPAddr) {
	data, err := encode(m.localRecord(), true, m.nextTxID(), uint32(m.cfg.TTL/time.Second))
	if err != nil {
		return
	}
	conn.WriteToUDP(data, dst)
}
