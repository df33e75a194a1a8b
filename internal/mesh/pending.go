package mesh

import "github.com/mossy-p/lanmesh/internal/transport"

// pendingQueue holds, per peer, signals that could not be applied yet. They
// are replayed in arrival order once the peer's connection comes up.
type pendingQueue struct {
	signals map[string][]transport.Signal
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{signals: make(map[string][]transport.Signal)}
}

func (q *pendingQueue) push(peerID string, s transport.Signal) {
	q.signals[peerID] = append(q.signals[peerID], s)
}

// take removes and returns the queue for peerID.
func (q *pendingQueue) take(peerID string) []transport.Signal {
	s := q.signals[peerID]
	delete(q.signals, peerID)
	return s
}

func (q *pendingQueue) clear(peerID string) {
	delete(q.signals, peerID)
}

func (q *pendingQueue) clearAll() {
	q.signals = make(map[string][]transport.Signal)
}

func (q *pendingQueue) snapshot() map[string][]transport.Signal {
	out := make(map[string][]transport.Signal, len(q.signals))
	for id, s := range q.signals {
		out[id] = append([]transport.Signal(nil), s...)
	}
	return out
}
