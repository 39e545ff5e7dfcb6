package stream

// SeqResult classifies an arriving sequence number
type SeqResult int

const (
	SeqFirst SeqResult = iota
	SeqInOrder
	SeqGap
	SeqDuplicate
	// SeqRestart is a jump too large to be loss or reordering; the tracker
	// resynchronizes on it
	SeqRestart
)

const (
	// MaxDropout is the largest forward jump still counted as packet loss
	MaxDropout = 3000
	// MaxMisorder is how far behind the cursor a packet is treated as late
	MaxMisorder = 100
)

// SequenceTracker follows one RTP sequence space, wrap-aware
type SequenceTracker struct {
	last    uint16
	started bool

	Gaps       uint64 // packets missing across all forward jumps
	Duplicates uint64
	Restarts   uint64
}

// Check classifies seq and returns the sequence that was expected. A
// duplicate or late packet does not move the tracker. A jump outside the
// dropout and misorder windows is a sender restarting its sequence space and
// moves the cursor to seq.
func (t *SequenceTracker) Check(seq uint16) (expected uint16, res SeqResult) {
	if !t.started {
		t.started = true
		t.last = seq
		return seq, SeqFirst
	}

	expected = t.last + 1
	delta := seq - t.last
	switch {
	case delta == 0 || delta > 0xFFFF-MaxMisorder:
		t.Duplicates++
		return expected, SeqDuplicate
	case delta == 1:
		t.last = seq
		return expected, SeqInOrder
	case delta < MaxDropout:
		t.Gaps += uint64(delta - 1)
		t.last = seq
		return expected, SeqGap
	default:
		t.Restarts++
		t.last = seq
		return expected, SeqRestart
	}
}
