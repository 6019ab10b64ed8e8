package wire

// OutboundFrame is one item on a connection's outbound queue. Handlers
// producing asynchronous output (PTY data, agent events) push these
// directly; the connection loop drains the queue and writes each as the
// websocket message type Binary calls for, text otherwise.
type OutboundFrame struct {
	Binary bool
	Data   []byte
}
