/*
Package promise provides the single-assignment settlement primitive the
stream engines are built on.

A Promise starts pending and settles exactly once, with a value or an error.
Double settlement is a silent no-op, which matters because cancel, close and
error paths inside a stream may race to terminate it: whichever settles first
wins and the others change nothing.

	p := promise.New[int]()

	go func() { p.Resolve(42) }()

	v, err := p.Await(ctx)

Await is context-aware: cancellation of ctx abandons the wait without
settling the promise. Done exposes the settlement channel for select loops,
and MarkHandled suppresses unobserved-rejection accounting on promises whose
error is surfaced through another path.
*/
package promise
