// Package requestqueue is the ordered channel between one client connection
// and its agent runtime.
//
// Invariants:
// - Frames are popped in exactly the order they were pushed.
// - No frame is accepted after Close; Close is idempotent and safe to call
//   concurrently with Push and Pop.
// - Every blocking Push or Pop returns promptly once the queue is closed or
//   its context is cancelled.
// - Malformed frames are never accepted.
//
// Usage:
//
//	q := requestqueue.New(requestqueue.Options{Capacity: 256})
//	defer q.Close()
//	_ = q.Push(ctx, frame.TextMessage{Text: "hi"})
//	f, err := q.Pop(ctx)
package requestqueue
