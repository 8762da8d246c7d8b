// Package command writes line-terminated commands to a worker's stdin.
//
// A Channel fails with ErrChannelBroken, never a panic, once the worker
// process has exited, the stream has been closed, or a write hits its
// deadline. A broken Channel stays broken.
package command
