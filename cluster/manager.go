package cluster

import (
	"sync"

	"github.com/najoast/msgbus/wire"
)

// ClusterManager supplies the bus with a subscription map, the local
// node's identity, and node-membership notifications. It is the seam a
// production deployment plugs a real gossip/Raft/etcd-backed
// implementation into; this package ships only LocalClusterManager, a
// single-node stand-in used when the bus is started without cluster
// config.
type ClusterManager interface {
	// SubscriptionMap returns the cluster-wide address -> node map.
	SubscriptionMap() SubscriptionMap

	// LocalNode returns this process's NodeID.
	LocalNode() wire.NodeID

	// NodeAdded notifies of nodes joining the cluster.
	NodeAdded() <-chan wire.NodeID

	// NodeLeft notifies of nodes leaving the cluster.
	NodeLeft() <-chan wire.NodeID

	// Close stops the manager. Notification channels are closed after
	// Close returns; they emit no further events.
	Close() error
}

// LocalClusterManager is a ClusterManager for a single, unclustered
// node: SubscriptionMap is a LocalSubscriptionMap seeded with no peers,
// and node-membership channels never fire. No gossip, no election;
// real membership tracking is a pluggable backend's job.
type LocalClusterManager struct {
	self wire.NodeID
	subs *LocalSubscriptionMap

	added chan wire.NodeID
	left  chan wire.NodeID

	closeOnce sync.Once
}

// NewLocalClusterManager returns a ClusterManager whose local node is
// self and whose subscription map starts empty.
func NewLocalClusterManager(self wire.NodeID) *LocalClusterManager {
	return &LocalClusterManager{
		self:  self,
		subs:  NewLocalSubscriptionMap(),
		added: make(chan wire.NodeID),
		left:  make(chan wire.NodeID),
	}
}

func (m *LocalClusterManager) SubscriptionMap() SubscriptionMap { return m.subs }

func (m *LocalClusterManager) LocalNode() wire.NodeID { return m.self }

func (m *LocalClusterManager) NodeAdded() <-chan wire.NodeID { return m.added }

func (m *LocalClusterManager) NodeLeft() <-chan wire.NodeID { return m.left }

func (m *LocalClusterManager) Close() error {
	m.closeOnce.Do(func() {
		close(m.added)
		close(m.left)
	})
	return nil
}
