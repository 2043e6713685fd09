package ws

import "sync/atomic"

// Metrics tracks connection statistics.
type Metrics struct {
	connects          atomic.Int64
	reconnects        atomic.Int64
	reconnectAttempts atomic.Int64
	faults            atomic.Int64
	framesIn          atomic.Int64
	framesOut         atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of connection statistics.
type MetricsSnapshot struct {
	Connects          int64
	Reconnects        int64
	ReconnectAttempts int64
	Faults            int64
	FramesIn          int64
	FramesOut         int64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Connects:          m.connects.Load(),
		Reconnects:        m.reconnects.Load(),
		ReconnectAttempts: m.reconnectAttempts.Load(),
		Faults:            m.faults.Load(),
		FramesIn:          m.framesIn.Load(),
		FramesOut:         m.framesOut.Load(),
	}
}
