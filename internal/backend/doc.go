// Package backend is the in-process DBGP engine.
//
// A Debugger holds what every debugged goroutine shares: the breakpoint
// table, the filename cache, the expression evaluator and the source
// filesystem. Each goroutine that wants a debugging session connects to
// the IDE and gets a Client:
//
//	dbg := backend.New(backend.WithLogger(log))
//	c, err := dbg.Connect(ctx, backend.ConnectOptions{
//		Address:  "localhost:9000",
//		IDEKey:   "dev",
//		Filename: "main.go",
//	})
//	...
//	for each event {
//		if !c.Trace(backend.EventLine, frame, nil) {
//			break // stopped or detached
//		}
//	}
//	c.Finish(ctx)
//
// The host reports line, call, return and exception events through
// Trace. Trace decides whether the event stops (stepping, breakpoints,
// an asynchronous break) and, if so, serves IDE commands until a
// continuation command resumes the program. While the program runs, a
// reader goroutine answers status, break, stop, detach and stdin.
package backend
