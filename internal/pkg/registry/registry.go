// Package registry tracks SIP dialogs by Call-ID: their state machine, the
// RTP endpoints their SDP announced, and the REFER bookkeeping used to name
// transferred calls. Terminated dialogs are handed to a finalize queue.
package registry

import (
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/phone"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/sip"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stats"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

const (
	// DefaultReferTTL bounds how long a pending transfer or REFER mapping lives
	DefaultReferTTL = 10 * time.Minute
	// registerDedupeTTL matches a typical REGISTER refresh interval
	registerDedupeTTL = time.Hour
)

// Job is a finalize request for a terminated dialog
type Job struct {
	CallID       string
	Dialog       Snapshot
	TerminatedAt time.Time
}

// Queue receives finalize jobs. Enqueue must not block.
type Queue interface {
	Enqueue(job Job)
}

// QueueFunc adapts a function to Queue
type QueueFunc func(job Job)

// Enqueue calls f(job)
func (f QueueFunc) Enqueue(job Job) {
	f(job)
}

// Notifier receives local extensions seen in REGISTER requests
type Notifier interface {
	Publish(extension string)
}

// Options configures a Registry
type Options struct {
	LocalPrefixes []string
	Queue         Queue
	Notifier      Notifier
	Stats         *stats.Collector
	ReferTTL      time.Duration
}

// Registry is the in-memory dialog index. HandleMessage, ForceTerminate,
// TerminateAll and Expire are called from the single packet reader; the
// read accessors may be used from any goroutine.
type Registry struct {
	mu               sync.RWMutex
	dialogs          map[string]*Dialog
	activations      uint64
	latestTerminated string

	// REFER bookkeeping: target number -> original external number until the
	// transferred INVITE shows up, then Call-ID -> original external number.
	pendingTransfers *cache.Cache
	referMappings    *cache.Cache
	registered       *cache.Cache

	localPrefixes []string
	queue         Queue
	notifier      Notifier
	stats         *stats.Collector
	referTTL      time.Duration
}

// New creates an empty registry
func New(opts Options) *Registry {
	ttl := opts.ReferTTL
	if ttl <= 0 {
		ttl = DefaultReferTTL
	}
	return &Registry{
		dialogs:          make(map[string]*Dialog),
		pendingTransfers: cache.New(ttl, time.Minute),
		referMappings:    cache.New(ttl, time.Minute),
		registered:       cache.New(registerDedupeTTL, 10*time.Minute),
		localPrefixes:    opts.LocalPrefixes,
		queue:            opts.Queue,
		notifier:         opts.Notifier,
		stats:            opts.Stats,
		referTTL:         ttl,
	}
}

// HandleMessage applies one SIP message observed at time at
func (r *Registry) HandleMessage(msg *sip.Message, at time.Time) {
	if msg == nil || msg.CallID == "" {
		return
	}
	r.stats.Inc(stats.SIPMessages)

	var job *Job
	r.mu.Lock()
	if msg.IsRequest {
		job = r.handleRequest(msg, at)
	} else {
		job = r.handleResponse(msg, at)
	}
	r.mu.Unlock()

	r.dispatch(job)
}

func (r *Registry) handleRequest(msg *sip.Message, at time.Time) *Job {
	d := r.dialogs[msg.CallID]

	switch msg.Method {
	case "INVITE":
		if d == nil {
			d = r.createDialog(msg, at)
		}
		if d.State == Terminated {
			return nil
		}
		d.LastActivity = at
		r.addSDP(d, msg)

	case "ACK":
		if d != nil && d.State != Terminated {
			d.LastActivity = at
			r.addSDP(d, msg)
		}

	case "BYE":
		if d == nil || d.State != InCall {
			return nil
		}
		result := ResultOK
		if d.Result == ResultTransferred {
			result = ResultTransferred
		}
		return r.terminate(d, result, at)

	case "CANCEL":
		if d == nil || (d.State != Trying && d.State != Ringing) {
			return nil
		}
		return r.terminate(d, ResultCancelled, at)

	case "REFER":
		if d == nil || d.State != InCall {
			return nil
		}
		r.handleRefer(d, msg, at)

	case "REGISTER":
		if d == nil {
			r.handleRegister(msg)
		}
	}
	return nil
}

func (r *Registry) handleResponse(msg *sip.Message, at time.Time) *Job {
	d := r.dialogs[msg.CallID]
	if d == nil || d.State == Terminated {
		// 100 Trying ahead of the INVITE, or late responses after termination
		return nil
	}
	d.LastActivity = at

	if msg.CSeqMethod != "INVITE" {
		return nil
	}
	r.addSDP(d, msg)

	code := msg.StatusCode
	switch {
	case code == 100:
	case code > 100 && code < 200:
		if d.State == Trying {
			r.transition(d, Ringing)
		}
	case code >= 200 && code < 300:
		if d.State == Trying || d.State == Ringing {
			r.transition(d, InCall)
			d.AnsweredAt = at
			r.activations++
			d.Activated = r.activations
		}
	case code == 401 || code == 407:
		// auth challenge; the INVITE is retried on the same Call-ID
	case code >= 400:
		if d.State == Trying || d.State == Ringing {
			return r.terminate(d, failureResult(code), at)
		}
	}
	return nil
}

func failureResult(code int) Result {
	switch code {
	case 486, 600, 603:
		return ResultBusy
	default:
		return ResultNoAnswer
	}
}

func (r *Registry) createDialog(msg *sip.Message, at time.Time) *Dialog {
	d := &Dialog{
		CallID:       msg.CallID,
		State:        Idle,
		FromNumber:   msg.FromNumber,
		ToNumber:     msg.ToNumber,
		Inbound:      phone.IsExtension(msg.ToNumber),
		StartTime:    at,
		LastActivity: at,
		Local:        types.NewEndpointSet(),
		Remote:       types.NewEndpointSet(),
		Own:          types.NewEndpointSet(),
	}
	r.dialogs[msg.CallID] = d
	r.transition(d, Trying)
	r.stats.Inc(stats.DialogsCreated)

	if original, ok := r.pendingTransfers.Get(msg.ToNumber); ok && msg.ToNumber != "" {
		r.pendingTransfers.Delete(msg.ToNumber)
		r.referMappings.Set(msg.CallID, original.(string), r.referTTL)
		logger.Info("Transferred call leg detected",
			"call_id", msg.CallID,
			"target", msg.ToNumber,
			"original_number", original)
	}

	logger.Info("Dialog created",
		"call_id", msg.CallID,
		"from", d.FromNumber,
		"to", d.ToNumber,
		"inbound", d.Inbound)
	return d
}

func (r *Registry) handleRefer(d *Dialog, msg *sip.Message, at time.Time) {
	target := phone.Digits(msg.ReferTo())
	if target == "" {
		logger.Debug("REFER without usable Refer-To", "call_id", d.CallID, "refer_to", msg.ReferTo())
		return
	}
	d.LastActivity = at
	d.ReferTarget = target
	d.Result = ResultTransferred

	original := d.snapshot().ExternalNumber()
	if original != "" {
		r.pendingTransfers.Set(target, original, r.referTTL)
	}
	logger.Info("Call transfer requested",
		"call_id", d.CallID,
		"target", target,
		"original_number", original)
}

func (r *Registry) handleRegister(msg *sip.Message) {
	if err := r.registered.Add(msg.CallID, struct{}{}, cache.DefaultExpiration); err != nil {
		return // refresh of a registration already seen
	}
	ext := msg.FromNumber
	if !phone.IsExtension(ext) {
		return
	}
	r.stats.Inc(stats.ExtensionsRegistered)
	if r.notifier != nil {
		r.notifier.Publish(ext)
	}
	logger.Debug("Extension registered", "extension", ext, "call_id", msg.CallID)
}

// transition moves d forward. Backward moves are ignored.
func (r *Registry) transition(d *Dialog, to State) bool {
	if to <= d.State {
		return false
	}
	logger.Debug("Dialog state change", "call_id", d.CallID, "from", d.State.String(), "to", to.String())
	d.State = to
	return true
}

// terminate is the single-shot TERMINATED edge; the latest-terminated slot is
// updated before the job leaves the registry.
func (r *Registry) terminate(d *Dialog, result Result, at time.Time) *Job {
	if !r.transition(d, Terminated) {
		return nil
	}
	d.Result = result
	d.EndTime = at
	d.LastActivity = at
	r.latestTerminated = d.CallID
	r.stats.Inc(stats.DialogsTerminated)

	logger.Info("Dialog terminated",
		"call_id", d.CallID,
		"result", string(result),
		"from", d.FromNumber,
		"to", d.ToNumber)

	return &Job{CallID: d.CallID, Dialog: d.snapshot(), TerminatedAt: at}
}

func (r *Registry) dispatch(jobs ...*Job) {
	if r.queue == nil {
		return
	}
	for _, job := range jobs {
		if job != nil {
			r.queue.Enqueue(*job)
		}
	}
}

// addSDP files the endpoints of msg's SDP. The sender is the From party of
// a request and the To party of a response, so a re-INVITE from the callee is
// credited to the callee. The recorded extension is the callee of an inbound
// dialog and the caller of an outbound one.
func (r *Registry) addSDP(d *Dialog, msg *sip.Message) {
	own := sentByCaller(d, msg) != d.Inbound
	for _, ep := range msg.SDP.AudioEndpoints() {
		if own {
			d.Own.Add(ep)
		}
		if r.IsLocal(ep.IP) {
			d.Local.Add(ep)
		} else {
			d.Remote.Add(ep)
		}
	}
}

func sentByCaller(d *Dialog, msg *sip.Message) bool {
	if msg.IsRequest {
		return msg.FromNumber == "" || msg.FromNumber == d.FromNumber
	}
	return msg.FromNumber != "" && msg.FromNumber != d.FromNumber
}

// IsLocal reports whether addr matches one of the local-subnet prefixes
func (r *Registry) IsLocal(addr netip.Addr) bool {
	s := addr.String()
	for _, prefix := range r.localPrefixes {
		if prefix != "" && strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// ActiveInCall returns IN_CALL dialogs, most recently activated first
func (r *Registry) ActiveInCall() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.dialogs))
	for _, d := range r.dialogs {
		if d.State == InCall {
			out = append(out, d.snapshot())
		}
	}
	sortByActivation(out)
	return out
}

// Get returns a snapshot of the dialog for callID
func (r *Registry) Get(callID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dialogs[callID]
	if !ok {
		return Snapshot{}, false
	}
	return d.snapshot(), true
}

// Len returns the number of tracked dialogs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dialogs)
}

// Remove drops a dialog; the finalizer calls it once the call is written out
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	delete(r.dialogs, callID)
	r.mu.Unlock()
}

// LatestTerminated is the Call-ID that most recently entered TERMINATED
func (r *Registry) LatestTerminated() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latestTerminated
}

// ReferMapping returns the original external number recorded for a
// transferred call leg
func (r *Registry) ReferMapping(callID string) (string, bool) {
	v, ok := r.referMappings.Get(callID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// ClearRefer forgets the REFER mapping of callID
func (r *Registry) ClearRefer(callID string) {
	r.referMappings.Delete(callID)
}

// ForceTerminate terminates a live dialog with result, e.g. on stream idle
func (r *Registry) ForceTerminate(callID string, result Result, at time.Time) bool {
	r.mu.Lock()
	var job *Job
	if d, ok := r.dialogs[callID]; ok {
		job = r.terminate(d, result, at)
	}
	r.mu.Unlock()

	r.dispatch(job)
	return job != nil
}

// TerminateAll terminates every IN_CALL dialog with result and every dialog
// still ringing with no_answer; used at shutdown
func (r *Registry) TerminateAll(result Result, at time.Time) int {
	r.mu.Lock()
	var jobs []*Job
	for _, d := range r.dialogs {
		res := result
		if d.State != InCall {
			res = ResultNoAnswer
		}
		if job := r.terminate(d, res, at); job != nil {
			jobs = append(jobs, job)
		}
	}
	r.mu.Unlock()

	r.dispatch(jobs...)
	return len(jobs)
}

// Expire terminates dialogs that never got answered within ringTimeout and
// returns their Call-IDs.
func (r *Registry) Expire(now time.Time, ringTimeout time.Duration) []string {
	if ringTimeout <= 0 {
		return nil
	}
	r.mu.Lock()
	var jobs []*Job
	var expired []string
	for id, d := range r.dialogs {
		if (d.State == Trying || d.State == Ringing) && now.Sub(d.StartTime) >= ringTimeout {
			if job := r.terminate(d, ResultNoAnswer, now); job != nil {
				jobs = append(jobs, job)
				expired = append(expired, id)
			}
		}
	}
	r.mu.Unlock()

	r.dispatch(jobs...)
	return expired
}

// ClassifyMedia finds the IN_CALL dialog owning a packet's endpoints and the
// packet's direction. When several dialogs match, the most recently activated
// wins. Only the winning dialog is copied.
func (r *Registry) ClassifyMedia(src, dst types.Endpoint) (Snapshot, types.Direction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Dialog
	var bestDir types.Direction
	for _, d := range r.dialogs {
		if d.State != InCall {
			continue
		}
		dir, ok := types.ClassifyDirection(src, dst, d.Local, d.Remote, d.Own)
		if !ok {
			continue
		}
		if best == nil || d.Activated > best.Activated {
			best, bestDir = d, dir
		}
	}
	if best == nil {
		return Snapshot{}, types.In, false
	}
	return best.snapshot(), bestDir, true
}
