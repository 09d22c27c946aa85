// Package preroll provides the rolling buffers that hold recent input while no
// recording is active.
//
// Every buffer is bounded both by the span of captured content and by its
// byte size. Bounds are enforced after each push by evicting from the oldest
// end, so a buffer never grows beyond its configured ceilings regardless of
// how dense the input stream is.
//
// Buffers are not safe for concurrent use. Owners guard them with their own
// lock, which is held only for a single push or drain.
package preroll
