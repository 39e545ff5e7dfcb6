// Package finalizer turns a terminated dialog into its IN, OUT and MERGE
// recordings: it slices the call out of the rotating capture, rebuilds the
// legs from the slice, mixes them and publishes a catalog record.
package finalizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/audio"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/catalog"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/mixer"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/phone"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/registry"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/slicer"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stats"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

const (
	DefaultWorkers       = 4
	DefaultStabilization = time.Second

	labelIn    = "IN"
	labelOut   = "OUT"
	labelMerge = "MERGE"
)

// Dialogs is the registry surface the finalizer needs
type Dialogs interface {
	LatestTerminated() string
	ReferMapping(callID string) (string, bool)
	ClearRefer(callID string)
	Remove(callID string)
}

// Capture is the packet source surface the finalizer needs
type Capture interface {
	Flush() error
	CaptureFiles() []string
	Hold()
	Release()
}

// Streams finalizes the live legs written during the call
type Streams interface {
	FinalizeCall(callID string) map[types.Direction]string
}

// Options configures a Finalizer
type Options struct {
	Dialogs Dialogs
	Capture Capture
	Streams Streams
	Slicer  slicer.Slicer
	Mixer   mixer.Mixer
	Catalog catalog.Sink

	SaveRoot      string
	SliceDir      string
	SampleRate    int
	Stabilization time.Duration
	Workers       int
	Stats         *stats.Collector
}

// Outcome describes one finalized call
type Outcome struct {
	CallID    string
	Dir       string
	InPath    string
	OutPath   string
	MergePath string
	Record    catalog.Record
	Skipped   bool
}

// Finalizer is the worker pool behind the finalize queue
type Finalizer struct {
	opts  Options
	queue *jobQueue
	locks *keyedMutex

	mu      sync.Mutex
	started bool
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// New returns an idle finalizer; call Start to run workers
func New(opts Options) *Finalizer {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 8000
	}
	if opts.Stabilization < 0 {
		opts.Stabilization = 0
	}
	return &Finalizer{
		opts:  opts,
		queue: newJobQueue(),
		locks: newKeyedMutex(),
	}
}

// Start launches the workers. They outlive ctx's cancellation so that
// Shutdown can drain the queue after the capture has stopped.
func (f *Finalizer) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return
	}
	f.started = true

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f.cancel = cancel
	f.group, wctx = errgroup.WithContext(wctx)

	for i := 0; i < f.opts.Workers; i++ {
		f.group.Go(func() error {
			f.work(wctx)
			return nil
		})
	}
	logger.Info("Finalizer started", "workers", f.opts.Workers)
}

// Enqueue implements registry.Queue. It never blocks; the capture is held
// against rotation until the job's slice is cut.
func (f *Finalizer) Enqueue(job registry.Job) {
	f.opts.Capture.Hold()
	if !f.queue.push(job) {
		f.opts.Capture.Release()
		f.opts.Stats.Inc(stats.FinalizeFailed)
		logger.Warn("Finalizer stopped, dropping job", "call_id", job.CallID)
	}
}

// Pending is the number of queued jobs not yet picked up
func (f *Finalizer) Pending() int {
	return f.queue.len()
}

// Shutdown stops accepting jobs and waits up to timeout for queued and
// in-flight jobs. On timeout in-flight jobs are cancelled and the rest
// abandoned.
func (f *Finalizer) Shutdown(timeout time.Duration) error {
	f.queue.close()
	logger.Info("Draining finalizer", "pending", f.Pending(), "timeout", timeout)

	f.mu.Lock()
	group, cancel := f.group, f.cancel
	f.mu.Unlock()
	if group == nil {
		f.abandon()
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		logger.Info("Finalizer drained")
		return nil
	case <-time.After(timeout):
		cancel()
		<-done
		n := f.abandon()
		logger.Error("Finalizer shutdown deadline exceeded", "abandoned", n, "timeout", timeout)
		return fmt.Errorf("%w: %d jobs abandoned", ErrShutdownDeadline, n)
	}
}

func (f *Finalizer) abandon() int {
	jobs := f.queue.drain()
	for _, job := range jobs {
		f.opts.Capture.Release()
		logger.Warn("Finalize abandoned", "call_id", job.CallID)
	}
	return len(jobs)
}

func (f *Finalizer) work(ctx context.Context) {
	for {
		job, ok := f.queue.pop(ctx)
		if !ok {
			return
		}
		outcome, err := f.Finalize(ctx, job)
		switch {
		case err != nil:
			f.opts.Stats.Inc(stats.FinalizeFailed)
			logger.Error("Finalize failed", "call_id", job.CallID, "error", err)
		case outcome.Skipped:
			f.opts.Stats.Inc(stats.FinalizeSkipped)
			logger.Debug("Finalize skipped, call never produced media", "call_id", job.CallID)
		default:
			f.opts.Stats.Inc(stats.FinalizeOK)
			logger.Info("Call finalized",
				"call_id", job.CallID,
				"path", outcome.Dir,
				"duration", outcome.Record.DurationSeconds)
		}
	}
}

// Finalize runs every step for one job. The capture hold taken by Enqueue
// is released once the slice is cut, whatever the outcome. A failed call is
// still dropped from the registry; its partial outputs and slice remain.
func (f *Finalizer) Finalize(ctx context.Context, job registry.Job) (Outcome, error) {
	unlock := f.locks.Lock(job.CallID)
	defer unlock()

	outcome, err := f.finalize(ctx, job)
	if err != nil {
		f.housekeeping(job.CallID, "")
	}
	return outcome, err
}

func (f *Finalizer) finalize(ctx context.Context, job registry.Job) (Outcome, error) {
	held := true
	release := func() {
		if held {
			held = false
			f.opts.Capture.Release()
		}
	}
	defer release()

	snap := job.Dialog
	callID := job.CallID
	outcome := Outcome{CallID: callID}

	if err := sleepCtx(ctx, f.opts.Stabilization); err != nil {
		return outcome, failed(callID, "cancelled", err)
	}

	live := f.opts.Streams.FinalizeCall(callID)

	if !snap.Answered() && len(live) == 0 {
		release()
		f.housekeeping(callID, "")
		outcome.Skipped = true
		return outcome, nil
	}

	legs, slicePath := f.sliceLegs(ctx, snap, callID)
	release()

	// REFER substitution is decided now, after stabilization, against
	// whichever call terminated last.
	from := snap.FromNumber
	if f.opts.Dialogs.LatestTerminated() == callID {
		if original, ok := f.opts.Dialogs.ReferMapping(callID); ok {
			logger.Info("Naming transferred call after original party", "call_id", callID, "from", from, "original", original)
			from = original
		}
	}
	// no digits leaves that part of the name empty: "_1427"
	fromDigits := phone.Digits(from)
	toDigits := phone.Digits(snap.ToNumber)

	date := snap.StartTime
	if date.IsZero() {
		date = job.TerminatedAt
	}
	dir := audio.CallDir(f.opts.SaveRoot, date, fromDigits, toDigits)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return outcome, failed(callID, "create call directory", err)
	}
	outcome.Dir = dir

	var err error
	outcome.InPath, err = f.emitLeg(dir, date, labelIn, fromDigits, toDigits, callID, legs.In, live[types.In])
	if err != nil {
		return outcome, failed(callID, "write IN leg", err)
	}
	outcome.OutPath, err = f.emitLeg(dir, date, labelOut, fromDigits, toDigits, callID, legs.Out, live[types.Out])
	if err != nil {
		return outcome, failed(callID, "write OUT leg", err)
	}

	if outcome.InPath == "" && outcome.OutPath == "" {
		if !snap.Answered() {
			f.housekeeping(callID, slicePath)
			outcome.Skipped = true
			return outcome, nil
		}
		return outcome, failed(callID, "no valid rtp streams", nil)
	}

	mergePath, err := audio.UniquePath(dir, audio.FinalFilename(date, labelMerge, fromDigits, toDigits, callID))
	if err == nil {
		err = f.opts.Mixer.Mix(ctx, outcome.InPath, outcome.OutPath, mergePath)
	}
	if err != nil {
		f.opts.Stats.Inc(stats.MixFailures)
		logger.Warn("Mix failed, keeping legs only", "call_id", callID, "error", err)
	} else {
		outcome.MergePath = mergePath
	}

	outcome.Record = f.record(snap, job, fromDigits, toDigits, outcome)
	if err := f.opts.Catalog.Insert(ctx, outcome.Record); err != nil {
		logger.Warn("Catalog insert failed", "call_id", callID, "error", err)
	}

	f.housekeeping(callID, slicePath)
	for _, p := range live {
		_ = os.Remove(p)
	}
	return outcome, nil
}

// sliceLegs cuts the call from the retained captures and rebuilds its legs.
// A slicing failure degrades to the live legs rather than failing the call.
func (f *Finalizer) sliceLegs(ctx context.Context, snap registry.Snapshot, callID string) (Legs, string) {
	if err := f.opts.Capture.Flush(); err != nil {
		logger.Warn("Capture flush failed before slicing", "call_id", callID, "error", err)
	}
	if err := os.MkdirAll(f.opts.SliceDir, 0750); err != nil {
		logger.Warn("Cannot create slice directory", "path", f.opts.SliceDir, "error", err)
		return Legs{}, ""
	}

	slicePath := slicer.Path(f.opts.SliceDir, callID)
	spec := slicer.FilterSpec{CallID: callID, Endpoints: snap.Local.Sorted()}
	n, err := f.opts.Slicer.Slice(ctx, f.opts.Capture.CaptureFiles(), spec, slicePath)
	if err != nil {
		logger.Warn("Slicing failed, using live legs", "call_id", callID, "error", err)
		return Legs{}, slicePath
	}

	legs, err := ExtractLegs(slicePath, snap.Local, snap.Remote, snap.Own)
	if err != nil {
		logger.Warn("Slice reparse failed, using live legs", "call_id", callID, "error", err)
		return Legs{}, slicePath
	}
	logger.Debug("Call sliced", "call_id", callID, "packets", n, "streams", legs.Streams)
	return legs, slicePath
}

// emitLeg writes the leg from the slice when it has one, else copies the
// live stream file. An empty path means the leg has no audio.
func (f *Finalizer) emitLeg(dir string, date time.Time, label, from, to, callID string, samples []int, live string) (string, error) {
	if samples == nil && live == "" {
		return "", nil
	}
	path, err := audio.UniquePath(dir, audio.FinalFilename(date, label, from, to, callID))
	if err != nil {
		return "", err
	}
	if samples != nil {
		return path, audio.WriteWAV(path, samples, f.opts.SampleRate)
	}
	return path, audio.CopyFile(live, path)
}

func (f *Finalizer) record(snap registry.Snapshot, job registry.Job, fromDigits, toDigits string, o Outcome) catalog.Record {
	rec := catalog.NewRecord(job.CallID)
	rec.FromNumber = fromDigits
	rec.ToNumber = toDigits
	rec.OriginalFromNumber = snap.FromNumber
	rec.Direction = snap.Direction()
	rec.Result = string(snap.Result)
	rec.StartTime = snap.StartTime
	rec.EndTime = job.TerminatedAt
	rec.Date = snap.StartTime.Format("2006-01-02")
	rec.InPath = o.InPath
	rec.OutPath = o.OutPath
	rec.MergePath = o.MergePath

	// duration and size come from MERGE, else the first leg present
	for _, p := range []string{o.MergePath, o.InPath, o.OutPath} {
		if p == "" {
			continue
		}
		d, err := audio.Duration(p)
		if err != nil {
			continue
		}
		rec.DurationSeconds = d.Seconds()
		if fi, err := os.Stat(p); err == nil {
			rec.FileSize = fi.Size()
		}
		break
	}
	return rec
}

func (f *Finalizer) housekeeping(callID, slicePath string) {
	if slicePath != "" {
		if err := os.Remove(slicePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to delete slice", "path", slicePath, "error", err)
		}
	}
	f.opts.Dialogs.ClearRefer(callID)
	f.opts.Dialogs.Remove(callID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
