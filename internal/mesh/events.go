package mesh

import (
	"github.com/mossy-p/lanmesh/internal/models"
	"github.com/mossy-p/lanmesh/internal/transport"
)

// event is anything the manager loop processes. All mutable core state is
// touched only while handling one of these.
type event interface {
	isEvent()
}

type serverEvent struct {
	msg models.Message
}

type transportEventKind int

const (
	transportSignal transportEventKind = iota
	transportConnect
	transportData
	transportError
	transportClose
)

type transportEvent struct {
	peerID string
	gen    uint64
	kind   transportEventKind
	signal transport.Signal
	data   []byte
	err    error
}

// applyEvent fires when the head of a peer's inbound signal list is due.
type applyEvent struct {
	peerID string
}

type recreateEvent struct {
	peerID string
	gen    uint64
	role   role
}

type probeEvent struct {
	peerID string
	gen    uint64
}

type callEvent struct {
	fn   func()
	done chan struct{}
}

func (serverEvent) isEvent()    {}
func (transportEvent) isEvent() {}
func (applyEvent) isEvent()     {}
func (recreateEvent) isEvent()  {}
func (probeEvent) isEvent()     {}
func (callEvent) isEvent()      {}

// connHandler stamps transport callbacks with the connection generation and
// posts them to the loop.
type connHandler struct {
	m      *Manager
	peerID string
	gen    uint64
}

func (h connHandler) post(ev transportEvent) {
	ev.peerID, ev.gen = h.peerID, h.gen
	h.m.post(ev)
}

func (h connHandler) HandleSignal(s transport.Signal) {
	h.post(transportEvent{kind: transportSignal, signal: s})
}

func (h connHandler) HandleConnect() {
	h.post(transportEvent{kind: transportConnect})
}

func (h connHandler) HandleData(b []byte) {
	h.post(transportEvent{kind: transportData, data: append([]byte(nil), b...)})
}

func (h connHandler) HandleError(err error) {
	h.post(transportEvent{kind: transportError, err: err})
}

func (h connHandler) HandleClose() {
	h.post(transportEvent{kind: transportClose})
}
