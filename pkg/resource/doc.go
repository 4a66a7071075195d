/*
Package resource bridges streams to io: it wraps an io.ReadCloser as a
readable byte stream and an io.WriteCloser as a writable stream, with
lifecycle management on top.

Reads land directly in consumer-supplied buffers when a BYOB read is
waiting, so file-to-file pipes move bytes without intermediate copies.

	r, _ := resource.OpenReadable("in.dat", resource.Config{})
	w, _ := resource.OpenWritable("out.dat", resource.Config{})
	err := r.Stream().PipeTo(ctx, w.Stream(), streams.PipeOptions{})

Extract is the fast path for handing a stream to code that speaks io: while
the stream is pristine (unread, unlocked) the original ReadCloser can be
taken back intact, skipping the streaming machinery entirely.

With AutoClose set a finalizer closes the underlying resource if the handle
is garbage collected without being consumed; it is a safety net, not a
substitute for closing streams.
*/
package resource
