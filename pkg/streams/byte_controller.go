package streams

import (
	"github.com/vnykmshr/streamkit/pkg/metrics"
	"github.com/vnykmshr/streamkit/pkg/promise"
	"github.com/vnykmshr/streamkit/pkg/queue"
)

// UnderlyingByteSource supplies the callbacks that drive a readable byte
// stream. AutoAllocateChunkSize, when positive, makes the engine allocate a
// buffer of that size per pull so that plain default readers work against a
// byte source without supplying buffers themselves.
type UnderlyingByteSource struct {
	Start  func(*ByteController) error
	Pull   func(*ByteController) error
	Cancel func(reason error) error

	AutoAllocateChunkSize int
}

// readerKind records which reader variant a pull-into descriptor serves.
// A descriptor becomes kindNone when its reader detaches before the source
// responds; its data is then salvaged into the queue instead of delivered.
type readerKind int

const (
	readerKindDefault readerKind = iota
	readerKindBYOB
	readerKindNone
)

// pullIntoDescriptor tracks one in-progress fill of a caller-supplied (or
// auto-allocated) buffer.
type pullIntoDescriptor struct {
	buffer      *Buffer
	byteOffset  int
	byteLength  int
	bytesFilled int
	minimumFill int
	elementSize int
	kind        readerKind
}

// byteEntry is one queued slice of a transferred backing buffer.
type byteEntry struct {
	buffer     *Buffer
	byteOffset int
	byteLength int
}

// ByteController is the byte-oriented controller variant. On top of the
// default controller's duties it manages pull-into descriptors for BYOB
// reads and enforces buffer ownership transfer on every enqueue.
type ByteController struct {
	stream *ReadableStream[[]byte]
	queue  *queue.SizedQueue[byteEntry]

	highWaterMark         float64
	autoAllocateChunkSize int

	pullFn   func(*ByteController) error
	cancelFn func(reason error) *promise.Promise[struct{}]

	started        bool
	pulling        bool
	pullAgain      bool
	closeRequested bool

	pendingPullIntos []*pullIntoDescriptor
	byobRequest      *BYOBRequest
}

// NewReadableByteStream creates a byte stream with a high-water mark of 0:
// the source is pulled only when a reader is actually waiting.
func NewReadableByteStream(source UnderlyingByteSource) *ReadableStream[[]byte] {
	s, _ := NewReadableByteStreamWithHighWaterMark(source, 0)
	return s
}

// NewReadableByteStreamWithHighWaterMark creates a byte stream that keeps up
// to highWaterMark bytes buffered ahead of the reader.
func NewReadableByteStreamWithHighWaterMark(source UnderlyingByteSource, highWaterMark float64) (*ReadableStream[[]byte], error) {
	if highWaterMark < 0 || highWaterMark != highWaterMark {
		return nil, ErrInvalidHighWaterMark
	}

	s := &ReadableStream[[]byte]{kind: kindReadableByte}
	c := &ByteController{
		stream:                s,
		queue:                 queue.New[byteEntry](),
		highWaterMark:         highWaterMark,
		autoAllocateChunkSize: source.AutoAllocateChunkSize,
		pullFn:                source.Pull,
		cancelFn:              adaptCancel(source.Cancel),
	}
	s.controller = c
	metrics.DefaultRegistry.StreamsOpened.WithLabelValues(s.kind).Inc()

	if source.Start != nil {
		if err := source.Start(c); err != nil {
			c.Error(err)
			return s, nil
		}
	}
	s.mu.Lock()
	c.started = true
	s.mu.Unlock()
	c.maybePull()
	return s, nil
}

// newByteReadableWithAlgorithms is the internal constructor used by tee,
// whose cancel algorithm settles natively instead of running a user
// callback to completion.
func newByteReadableWithAlgorithms(
	pull func(*ByteController) error,
	cancel func(reason error) *promise.Promise[struct{}],
) *ReadableStream[[]byte] {
	s := &ReadableStream[[]byte]{kind: kindReadableByte}
	c := &ByteController{
		stream:   s,
		queue:    queue.New[byteEntry](),
		pullFn:   pull,
		cancelFn: cancel,
	}
	s.controller = c
	metrics.DefaultRegistry.StreamsOpened.WithLabelValues(s.kind).Inc()

	s.mu.Lock()
	c.started = true
	s.mu.Unlock()
	c.maybePull()
	return s
}

// Enqueue makes the bytes of view available to the stream. The view's
// backing buffer is transferred to the controller: after Enqueue returns,
// the caller's handle is detached and any mutation attempt fails. If a BYOB
// read is pending the bytes are copied straight into its destination; if a
// default read is waiting it receives a zero-copy slice of the transferred
// buffer; otherwise the bytes join the queue.
func (c *ByteController) Enqueue(view *View) error {
	if view == nil || view.ByteLength() == 0 {
		return ErrZeroLengthChunk
	}
	if view.Buffer().Detached() {
		return ErrBufferDetached
	}

	s := c.stream
	s.mu.Lock()
	if s.state != Readable || c.closeRequested {
		s.mu.Unlock()
		return ErrStreamClosed
	}

	transferred, err := view.Buffer().Transfer()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	entry := byteEntry{buffer: transferred, byteOffset: view.ByteOffset(), byteLength: view.ByteLength()}

	if len(c.pendingPullIntos) > 0 {
		first := c.pendingPullIntos[0]
		if first.buffer.Detached() {
			s.mu.Unlock()
			return ErrBufferDetached
		}
		c.invalidateBYOBRequestLocked()
		first.buffer, _ = first.buffer.Transfer()
		if first.kind == readerKindNone {
			c.enqueueDetachedPullIntoLocked(first)
		}
	}

	switch r := s.reader.(type) {
	case *DefaultReader[[]byte]:
		if r.pendingReadsLocked() == 0 {
			c.enqueueChunkLocked(entry)
		} else {
			// An auto-allocated descriptor belongs to this read; it is
			// superseded by the direct handoff.
			if len(c.pendingPullIntos) > 0 && c.pendingPullIntos[0].kind == readerKindDefault {
				c.shiftPendingPullIntoLocked()
			}
			data, _ := entry.buffer.Bytes()
			req := r.requests[0]
			r.requests = r.requests[1:]
			req.p.Resolve(readResult[[]byte]{value: data[entry.byteOffset : entry.byteOffset+entry.byteLength]})
			metrics.DefaultRegistry.ChunksDelivered.WithLabelValues(s.kind).Inc()
		}
	case *BYOBReader:
		c.enqueueChunkLocked(entry)
		c.processPullIntosLocked()
	default:
		c.enqueueChunkLocked(entry)
	}
	s.mu.Unlock()

	metrics.DefaultRegistry.ChunksEnqueued.WithLabelValues(s.kind).Inc()
	metrics.DefaultRegistry.BytesQueued.WithLabelValues(s.kind).Add(float64(entry.byteLength))
	c.maybePull()
	return nil
}

// Close marks the byte stream as finished. With bytes still queued the close
// is deferred until drain; a partially-filled pull-into descriptor that ends
// mid-element errors the stream instead, since the element can never
// complete.
func (c *ByteController) Close() error {
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Readable || c.closeRequested {
		return ErrStreamClosed
	}
	if c.queue.TotalSize() > 0 {
		c.closeRequested = true
		return nil
	}
	if len(c.pendingPullIntos) > 0 {
		first := c.pendingPullIntos[0]
		if first.bytesFilled%first.elementSize != 0 {
			err := ErrInvalidRespond
			c.clearStateLocked()
			s.errorLocked(err)
			return err
		}
	}
	c.clearAlgorithmsLocked()
	s.closeLocked()
	return nil
}

// Error moves the stream to the errored state, discarding queued bytes and
// pending pull-into descriptors.
func (c *ByteController) Error(err error) {
	if err == nil {
		err = ErrStreamErrored
	}
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Readable {
		return
	}
	c.clearStateLocked()
	s.errorLocked(err)
}

// DesiredSize returns the headroom below the high-water mark in bytes. ok is
// false when the stream is errored; a closed stream reports 0.
func (c *ByteController) DesiredSize() (float64, bool) {
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case ReadableErrored:
		return 0, false
	case ReadableClosed:
		return 0, true
	}
	return c.highWaterMark - c.queue.TotalSize(), true
}

// BYOBRequest exposes the head pull-into descriptor as a writable view so a
// byte source can fill the consumer's buffer in place. It returns nil when
// no read-into is pending. The request object is invalidated whenever the
// underlying descriptor advances.
func (c *ByteController) BYOBRequest() *BYOBRequest {
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.byobRequest == nil && len(c.pendingPullIntos) > 0 {
		d := c.pendingPullIntos[0]
		view := &View{
			buffer:     d.buffer,
			byteOffset: d.byteOffset + d.bytesFilled,
			byteLength: d.byteLength - d.bytesFilled,
			elemSize:   1,
		}
		c.byobRequest = &BYOBRequest{controller: c, view: view}
	}
	return c.byobRequest
}

// Respond completes (or advances) the head pull-into descriptor after the
// source wrote bytesWritten bytes into its BYOB request view. Once the
// descriptor's minimum fill is reached it is committed to the waiting read;
// leftover bytes past the last whole element are re-queued.
func (c *ByteController) Respond(bytesWritten int) error {
	s := c.stream
	s.mu.Lock()

	if len(c.pendingPullIntos) == 0 {
		s.mu.Unlock()
		return ErrNoPendingRequest
	}
	first := c.pendingPullIntos[0]

	if s.state == ReadableClosed {
		if bytesWritten != 0 {
			s.mu.Unlock()
			return ErrInvalidRespond
		}
	} else {
		if bytesWritten <= 0 || first.bytesFilled+bytesWritten > first.byteLength {
			s.mu.Unlock()
			return ErrInvalidRespond
		}
	}
	if first.buffer.Detached() {
		s.mu.Unlock()
		return ErrBufferDetached
	}

	c.respondInternalLocked(bytesWritten)
	s.mu.Unlock()

	c.maybePull()
	return nil
}

// RespondWithNewView completes the head descriptor with a replacement view.
// The view must start exactly where the descriptor's filled region ends and
// fit in its remaining capacity; its buffer is transferred to the engine.
func (c *ByteController) RespondWithNewView(view *View) error {
	if view == nil {
		return ErrInvalidView
	}

	s := c.stream
	s.mu.Lock()

	if len(c.pendingPullIntos) == 0 {
		s.mu.Unlock()
		return ErrNoPendingRequest
	}
	first := c.pendingPullIntos[0]

	if view.Buffer().Detached() {
		s.mu.Unlock()
		return ErrBufferDetached
	}
	if view.ByteOffset() != first.byteOffset+first.bytesFilled {
		s.mu.Unlock()
		return ErrInvalidRespond
	}
	if s.state == ReadableClosed {
		if view.ByteLength() != 0 {
			s.mu.Unlock()
			return ErrInvalidRespond
		}
	} else if view.ByteLength() == 0 || first.bytesFilled+view.ByteLength() > first.byteLength {
		s.mu.Unlock()
		return ErrInvalidRespond
	}

	transferred, err := view.Buffer().Transfer()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	first.buffer = transferred
	c.respondInternalLocked(view.ByteLength())
	s.mu.Unlock()

	c.maybePull()
	return nil
}

func (c *ByteController) respondInternalLocked(bytesWritten int) {
	s := c.stream
	first := c.pendingPullIntos[0]
	c.invalidateBYOBRequestLocked()

	if s.state == ReadableClosed {
		if moved, err := first.buffer.Transfer(); err == nil {
			first.buffer = moved
		}
		if first.kind == readerKindNone {
			c.shiftPendingPullIntoLocked()
		}
		if br, ok := s.reader.(*BYOBReader); ok {
			for len(br.requests) > 0 && len(c.pendingPullIntos) > 0 {
				d := c.shiftPendingPullIntoLocked()
				c.commitDescriptorLocked(d)
			}
		}
		return
	}

	first.bytesFilled += bytesWritten

	if first.kind == readerKindNone {
		// The reader detached mid-read; salvage what was filled.
		c.enqueueDetachedPullIntoLocked(first)
		c.processPullIntosLocked()
		return
	}

	if first.bytesFilled < first.minimumFill {
		return
	}
	c.shiftPendingPullIntoLocked()

	remainder := first.bytesFilled % first.elementSize
	if remainder > 0 {
		// Split the trailing partial element back onto the queue so no
		// bytes are lost when the element size exceeds one.
		end := first.byteOffset + first.bytesFilled
		data, _ := first.buffer.Bytes()
		cp := make([]byte, remainder)
		copy(cp, data[end-remainder:end])
		c.enqueueChunkLocked(byteEntry{buffer: NewBufferFrom(cp), byteOffset: 0, byteLength: remainder})
		first.bytesFilled -= remainder
	}
	c.commitDescriptorLocked(first)
	c.processPullIntosLocked()
}

// processPullIntosLocked fills as many pending descriptors from the queue as
// the buffered bytes allow, committing each one that reaches its minimum.
func (c *ByteController) processPullIntosLocked() {
	for len(c.pendingPullIntos) > 0 && c.queue.TotalSize() > 0 {
		d := c.pendingPullIntos[0]
		if !c.fillFromQueueLocked(d) {
			return
		}
		c.shiftPendingPullIntoLocked()
		c.commitDescriptorLocked(d)
	}
}

// fillFromQueueLocked copies queued bytes into d, consuming entries and
// re-queueing the unread remainder of a partially-consumed entry. It reports
// whether d reached its minimum fill on a whole-element boundary.
func (c *ByteController) fillFromQueueLocked(d *pullIntoDescriptor) bool {
	maxBytesToCopy := min(int(c.queue.TotalSize()), d.byteLength-d.bytesFilled)
	maxBytesFilled := d.bytesFilled + maxBytesToCopy

	remaining := maxBytesToCopy
	ready := false
	maxAligned := maxBytesFilled - maxBytesFilled%d.elementSize
	if maxAligned >= d.minimumFill {
		remaining = maxAligned - d.bytesFilled
		ready = true
	}

	for remaining > 0 {
		entry, ok := c.queue.Dequeue()
		if !ok {
			break
		}
		n := min(remaining, entry.byteLength)
		dst, _ := d.buffer.Bytes()
		src, _ := entry.buffer.Bytes()
		copy(dst[d.byteOffset+d.bytesFilled:], src[entry.byteOffset:entry.byteOffset+n])

		if n < entry.byteLength {
			entry.byteOffset += n
			entry.byteLength -= n
			_ = c.queue.EnqueueFront(entry, float64(entry.byteLength))
		}
		d.bytesFilled += n
		remaining -= n
	}
	return ready
}

// commitDescriptorLocked converts a filled descriptor into the view (or byte
// slice) its reader asked for and settles the waiting request.
func (c *ByteController) commitDescriptorLocked(d *pullIntoDescriptor) {
	s := c.stream
	done := s.state == ReadableClosed

	switch d.kind {
	case readerKindNone:
		// Nobody is waiting; the descriptor's data was already salvaged.
	case readerKindDefault:
		if r, ok := s.reader.(*DefaultReader[[]byte]); ok && r.pendingReadsLocked() > 0 {
			req := r.requests[0]
			r.requests = r.requests[1:]
			if done && d.bytesFilled == 0 {
				req.p.Resolve(readResult[[]byte]{done: true})
				return
			}
			data, _ := d.buffer.Bytes()
			req.p.Resolve(readResult[[]byte]{
				value: data[d.byteOffset : d.byteOffset+d.bytesFilled],
				done:  done,
			})
			metrics.DefaultRegistry.ChunksDelivered.WithLabelValues(s.kind).Inc()
		}
	case readerKindBYOB:
		if r, ok := s.reader.(*BYOBReader); ok && len(r.requests) > 0 {
			req := r.requests[0]
			r.requests = r.requests[1:]
			view := &View{
				buffer:     d.buffer,
				byteOffset: d.byteOffset,
				byteLength: d.bytesFilled,
				elemSize:   d.elementSize,
			}
			req.p.Resolve(readIntoResult{view: view, done: done})
			metrics.DefaultRegistry.ChunksDelivered.WithLabelValues(s.kind).Inc()
		}
	}
}

func (c *ByteController) enqueueChunkLocked(entry byteEntry) {
	_ = c.queue.Enqueue(entry, float64(entry.byteLength))
}

// enqueueDetachedPullIntoLocked salvages the filled prefix of the head
// descriptor (whose reader is gone) into the queue and drops the descriptor.
func (c *ByteController) enqueueDetachedPullIntoLocked(d *pullIntoDescriptor) {
	if d.bytesFilled > 0 {
		data, _ := d.buffer.Bytes()
		cp := make([]byte, d.bytesFilled)
		copy(cp, data[d.byteOffset:d.byteOffset+d.bytesFilled])
		c.enqueueChunkLocked(byteEntry{buffer: NewBufferFrom(cp), byteOffset: 0, byteLength: d.bytesFilled})
	}
	c.shiftPendingPullIntoLocked()
}

func (c *ByteController) shiftPendingPullIntoLocked() *pullIntoDescriptor {
	c.invalidateBYOBRequestLocked()
	d := c.pendingPullIntos[0]
	c.pendingPullIntos = c.pendingPullIntos[1:]
	return d
}

func (c *ByteController) invalidateBYOBRequestLocked() {
	if c.byobRequest == nil {
		return
	}
	c.byobRequest.controller = nil
	c.byobRequest.view = nil
	c.byobRequest = nil
}

func (c *ByteController) clearStateLocked() {
	c.queue.Reset()
	c.invalidateBYOBRequestLocked()
	c.pendingPullIntos = nil
	c.clearAlgorithmsLocked()
}

func (c *ByteController) clearAlgorithmsLocked() {
	c.pullFn = nil
}

// pullStepsLocked services a default read against the byte queue, falling
// back to an auto-allocated pull-into descriptor when the queue is empty.
func (c *ByteController) pullStepsLocked(req *readRequest[[]byte]) bool {
	s := c.stream

	if c.queue.TotalSize() > 0 {
		entry, _ := c.queue.Dequeue()
		closedNow := false
		if c.queue.TotalSize() == 0 && c.closeRequested {
			c.clearAlgorithmsLocked()
			s.closeLocked()
			closedNow = true
		}
		data, _ := entry.buffer.Bytes()
		req.p.Resolve(readResult[[]byte]{value: data[entry.byteOffset : entry.byteOffset+entry.byteLength]})
		metrics.DefaultRegistry.ChunksDelivered.WithLabelValues(s.kind).Inc()
		return !closedNow
	}

	if c.autoAllocateChunkSize > 0 {
		c.pendingPullIntos = append(c.pendingPullIntos, &pullIntoDescriptor{
			buffer:      NewBuffer(c.autoAllocateChunkSize),
			byteLength:  c.autoAllocateChunkSize,
			minimumFill: 1,
			elementSize: 1,
			kind:        readerKindDefault,
		})
	}

	r := s.reader.(*DefaultReader[[]byte])
	r.requests = append(r.requests, req)
	return true
}

// pullIntoLocked registers a BYOB read. Reports whether pull scheduling
// should run afterwards.
func (c *ByteController) pullIntoLocked(req *readIntoRequest, view *View, r *BYOBReader) bool {
	s := c.stream

	transferred, err := view.Buffer().Transfer()
	if err != nil {
		req.p.Reject(err)
		return false
	}
	d := &pullIntoDescriptor{
		buffer:      transferred,
		byteOffset:  view.ByteOffset(),
		byteLength:  view.ByteLength(),
		minimumFill: view.ElementSize(),
		elementSize: view.ElementSize(),
		kind:        readerKindBYOB,
	}

	// Another descriptor is ahead of us; queue behind it and let the
	// in-flight operation drive progress.
	if len(c.pendingPullIntos) > 0 {
		c.pendingPullIntos = append(c.pendingPullIntos, d)
		r.requests = append(r.requests, req)
		return false
	}

	if s.state == ReadableClosed {
		empty := &View{buffer: d.buffer, byteOffset: d.byteOffset, byteLength: 0, elemSize: d.elementSize}
		req.p.Resolve(readIntoResult{view: empty, done: true})
		return false
	}

	if c.queue.TotalSize() > 0 {
		if c.fillFromQueueLocked(d) {
			filled := &View{buffer: d.buffer, byteOffset: d.byteOffset, byteLength: d.bytesFilled, elemSize: d.elementSize}
			closedNow := false
			if c.queue.TotalSize() == 0 && c.closeRequested {
				c.clearAlgorithmsLocked()
				s.closeLocked()
				closedNow = true
			}
			req.p.Resolve(readIntoResult{view: filled, done: false})
			metrics.DefaultRegistry.ChunksDelivered.WithLabelValues(s.kind).Inc()
			return !closedNow
		}
		if c.closeRequested {
			err := ErrStreamClosed
			c.clearStateLocked()
			s.errorLocked(err)
			req.p.Reject(err)
			return false
		}
	}

	c.pendingPullIntos = append(c.pendingPullIntos, d)
	r.requests = append(r.requests, req)
	return true
}

func (c *ByteController) cancelStepsLocked(reason error) func() *promise.Promise[struct{}] {
	c.invalidateBYOBRequestLocked()
	c.pendingPullIntos = nil
	c.queue.Reset()
	cancelFn := c.cancelFn
	c.cancelFn = nil
	c.clearAlgorithmsLocked()

	return func() *promise.Promise[struct{}] {
		if cancelFn == nil {
			return promise.Resolved(struct{}{})
		}
		return cancelFn(reason)
	}
}

func (c *ByteController) releaseStepsLocked() {
	if len(c.pendingPullIntos) == 0 {
		return
	}
	// Keep only the head descriptor so an in-flight respond still has a
	// target; its data will be salvaged rather than delivered.
	first := c.pendingPullIntos[0]
	first.kind = readerKindNone
	c.pendingPullIntos = []*pullIntoDescriptor{first}
}

func (c *ByteController) maybePull() {
	s := c.stream
	s.mu.Lock()
	if !c.shouldPullLocked() {
		s.mu.Unlock()
		return
	}
	if c.pulling {
		c.pullAgain = true
		s.mu.Unlock()
		return
	}
	c.pulling = true
	pull := c.pullFn
	s.mu.Unlock()

	go func() {
		var err error
		if pull != nil {
			err = pull(c)
		}

		s.mu.Lock()
		c.pulling = false
		again := c.pullAgain
		c.pullAgain = false
		s.mu.Unlock()

		if err != nil {
			c.Error(err)
			return
		}
		if again {
			c.maybePull()
		}
	}()
}

func (c *ByteController) shouldPullLocked() bool {
	s := c.stream
	if s.state != Readable || c.closeRequested || !c.started {
		return false
	}
	if c.pullFn == nil {
		return false
	}
	switch r := s.reader.(type) {
	case *DefaultReader[[]byte]:
		if r.pendingReadsLocked() > 0 {
			return true
		}
	case *BYOBReader:
		if len(r.requests) > 0 {
			return true
		}
	}
	return c.highWaterMark-c.queue.TotalSize() > 0
}

// BYOBRequest is the writable window a byte source fills to satisfy the
// oldest pending read-into. It becomes invalid (View returns nil) once the
// underlying descriptor is consumed or its buffer transferred.
type BYOBRequest struct {
	controller *ByteController
	view       *View
}

// View returns the writable window, or nil if the request has been
// invalidated.
func (r *BYOBRequest) View() *View {
	return r.view
}

// Respond reports that bytesWritten bytes were written into the view.
func (r *BYOBRequest) Respond(bytesWritten int) error {
	if r.controller == nil {
		return ErrNoPendingRequest
	}
	return r.controller.Respond(bytesWritten)
}

// RespondWithNewView completes the request with a replacement view.
func (r *BYOBRequest) RespondWithNewView(view *View) error {
	if r.controller == nil {
		return ErrNoPendingRequest
	}
	return r.controller.RespondWithNewView(view)
}
