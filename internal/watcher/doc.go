// Package watcher scans a worker process's output for marker lines.
//
// A Watcher owns one reader goroutine per attached stream (stdout and stderr
// are attached separately) that drains the stream into an in-memory line
// queue, so a stream nobody is waiting on can never fill its pipe and stall
// the worker. AwaitMatch consumes queued lines up to and including the first
// line accepted by a Matcher; lines after the match stay queued for the next
// call, so no line is matched twice.
//
//	w := watcher.New("node-0")
//	w.Attach(watcher.Stdout, stdout)
//	w.Attach(watcher.Stderr, stderr)
//
//	line, err := w.AwaitMatch(ctx, watcher.Contains("Server is up and running in"), 30*time.Second)
//	switch {
//	case errors.Is(err, watcher.ErrMiss):   // deadline passed
//	case errors.Is(err, watcher.ErrClosed): // worker closed its output
//	}
package watcher
