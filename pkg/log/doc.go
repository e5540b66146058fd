// Package log provides structured logging for the mirror engine using
// zerolog. It wraps a single global logger with component-scoped child
// loggers (component, fs, dir_path, instance_id) so that every package
// in the module emits JSON- or console-formatted logs without threading
// a logger through every function signature.
//
// # Usage
//
//	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
//	logger := log.WithComponent("coordinator")
//	logger.Info().Str("dir_path", "/a").Msg("acquire notified")
//
// Background goroutines (the throttle tick, the Finisher, the instance
// watcher) never propagate errors to a caller: a failed directory-map
// write is logged at Error and its path re-enqueued, and a failed
// instance poll is retried silently on the watcher's next tick.
package log
