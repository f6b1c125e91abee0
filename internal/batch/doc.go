// Package batch implements a generic debounced, deduplicating request
// coalescer: keys enqueued within a short window are collapsed into one
// bulk execution, and every caller gets its own key's result fanned back
// out.
//
// The debounce is trailing: each enqueue that touches the pending batch
// restarts the window, so a burst collapses into a single execution. A
// burst that never pauses for the whole window starves the flush; that is
// accepted behavior, bounded by the caller's burst pattern, not a bug.
//
// While a batch executes, its keys stay marked in-flight: a second
// enqueue for the same key joins the in-flight result instead of fetching
// again. Enqueues for other keys accumulate the next batch concurrently -
// there is at most one pending (not yet fired) batch and any number of
// executing ones. Batches fire in timer order but their executions may
// settle in any order.
package batch
