// Package agent connects a tutoring session to a live conversational runtime.
//
// Invariants:
// - A Runtime consumes its request Source in order and stops when the Source closes.
// - Each Runtime has at most one Stream; Stream.Next returns io.EOF once the
//   runtime ends normally.
// - Close is idempotent and unblocks any pending Next.
//
// Usage:
//
//	conn, _ := agent.NewConnector(agent.Options{Provider: agent.ProviderLoopback})
//	rt, _ := conn.Connect(ctx, handle, queue)
//	defer rt.Close()
//	stream, _ := rt.Subscribe(ctx)
//	ev, err := stream.Next(ctx)
package agent
