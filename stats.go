package eventbus

// Stats is a point-in-time snapshot of bus occupancy, polled by the
// metrics package for its Prometheus gauges.
type Stats struct {
	Addresses       int
	TotalHandlers   int
	OpenConnections int
	PendingFrames   int
}

func (b *bus) Stats() Stats {
	rs := b.reg.Snapshot()
	ps := b.pool.Stats()
	return Stats{
		Addresses:       rs.Addresses,
		TotalHandlers:   rs.TotalHandlers,
		OpenConnections: ps.OpenConnections,
		PendingFrames:   ps.PendingFrames,
	}
}
