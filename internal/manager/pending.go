package manager

import (
	"errors"

	"github.com/cdpfleet/cdpfleet/internal/protocol"
)

// pendingReply records one command written to the wire whose response
// has not yet been routed to its owner. Single-writer (Manager), like
// tabRegistry.
type pendingReply struct {
	owner  OwnerID
	method string
	reply  chan CommandReply
}

type pendingTable struct {
	byID map[int64]pendingReply
}

func newPendingTable() *pendingTable {
	return &pendingTable{byID: make(map[int64]pendingReply)}
}

func (p *pendingTable) add(id int64, entry pendingReply) {
	p.byID[id] = entry
}

func (p *pendingTable) take(id int64) (pendingReply, bool) {
	entry, ok := p.byID[id]
	if ok {
		delete(p.byID, id)
	}
	return entry, ok
}

// failAll delivers err to every outstanding pending reply and clears
// the table. Used on disconnect, where every in-flight command must
// resolve to CDP_DISCONNECTED before the tab table is cleared.
func (p *pendingTable) failAll(message string) {
	err := errors.New(protocol.Describe(protocol.CDPDisconnected, message, ""))
	for id, entry := range p.byID {
		deliver(entry.reply, CommandReply{Err: err})
		delete(p.byID, id)
	}
}

// deliver sends a reply without blocking forever on an owner that
// never reads it (the reply channel is always buffered by 1 from the
// tab handle side, but this guards against a double-delivery bug
// rather than ever actually blocking in practice).
func deliver(ch chan CommandReply, reply CommandReply) {
	select {
	case ch <- reply:
	default:
	}
}
