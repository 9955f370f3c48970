package ring

// Message is a view over one extracted frame payload. It does not own Data:
// the slice aliases the Buffer and must be consumed (or copied with Clone)
// before the next Append or ReadMessage on the same Buffer.
type Message struct {
	Data    []byte
	FieldID uint32
	// Fatal is set on every message returned after a framing failure.
	Fatal bool

	valid bool
	gen   uint64
}

// Valid reports whether the message carries a payload. A valid message may
// still have an empty payload.
func (m Message) Valid() bool { return m.valid }

func (m Message) Len() int { return len(m.Data) }

// Clone returns a copy of m whose Data is owned by the caller.
func (m Message) Clone() Message {
	out := m
	if m.Data != nil {
		out.Data = append(make([]byte, 0, len(m.Data)), m.Data...)
	}
	return out
}
