package core

// Frame is an encoded signaling payload ready for the wire.
type Frame []byte

// SignalConnection abstracts a participant's messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues without blocking. ErrBackpressure-style failures
	// mean the outbound queue is full and the frame was dropped.
	TrySend(Frame) error
	Close()
}
