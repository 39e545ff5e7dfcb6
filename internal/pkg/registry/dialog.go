package registry

import (
	"sort"
	"time"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/phone"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

// State is a dialog's position in the call state machine
type State int

const (
	Idle State = iota
	Trying
	Ringing
	InCall
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Trying:
		return "TRYING"
	case Ringing:
		return "RINGING"
	case InCall:
		return "IN_CALL"
	case Terminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Result is how a dialog ended
type Result string

const (
	ResultNone        Result = ""
	ResultOK          Result = "ok"
	ResultCancelled   Result = "cancelled"
	ResultBusy        Result = "busy"
	ResultNoAnswer    Result = "no_answer"
	ResultTransferred Result = "transferred"
	ResultUnknown     Result = "unknown"
)

// Dialog is the registry's record of one Call-ID. It is only mutated by
// the registry; everyone else works on Snapshots.
type Dialog struct {
	CallID       string
	State        State
	FromNumber   string
	ToNumber     string
	Inbound      bool // callee is a local extension
	StartTime    time.Time
	AnsweredAt   time.Time
	EndTime      time.Time
	Result       Result
	Local        types.EndpointSet
	Remote       types.EndpointSet
	Own          types.EndpointSet // announced by the recorded extension's side
	ReferTarget  string
	LastActivity time.Time
	Activated    uint64 // activation order; 0 until IN_CALL
}

// Snapshot is an immutable copy of a Dialog
type Snapshot Dialog

func (d *Dialog) snapshot() Snapshot {
	s := Snapshot(*d)
	s.Local = d.Local.Clone()
	s.Remote = d.Remote.Clone()
	s.Own = d.Own.Clone()
	return s
}

// Direction is "inbound" or "outbound" as recorded in artifact records
func (s Snapshot) Direction() string {
	if s.Inbound {
		return "inbound"
	}
	return "outbound"
}

// IntraExtension reports whether both parties are local extensions
func (s Snapshot) IntraExtension() bool {
	return phone.IsExtension(s.FromNumber) && phone.IsExtension(s.ToNumber)
}

// ExternalNumber is the party outside the PBX: the caller of an inbound
// call, the callee of an outbound one.
func (s Snapshot) ExternalNumber() string {
	if s.Inbound {
		return s.FromNumber
	}
	return s.ToNumber
}

// HasMedia reports whether any SDP endpoint was learned
func (s Snapshot) HasMedia() bool {
	return len(s.Local) > 0 || len(s.Remote) > 0
}

// Answered reports whether the dialog reached IN_CALL
func (s Snapshot) Answered() bool {
	return !s.AnsweredAt.IsZero()
}

// MediaEndpoints returns local endpoints then remote ones, each sorted
func (s Snapshot) MediaEndpoints() []types.Endpoint {
	out := s.Local.Sorted()
	return append(out, s.Remote.Sorted()...)
}

func sortByActivation(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Activated > snaps[j].Activated
	})
}
