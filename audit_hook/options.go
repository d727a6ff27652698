package audithook

import "log/slog"

// Option configures a Hook.
type Option func(*Hook)

// WithActions narrows the hook to the listed actions; everything else
// is dropped before it reaches the recorder. Without this option every
// action is recorded. Action names that match nothing are harmless.
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobCancelled,
//	        audithook.ActionJobFailed,
//	    ),
//	)
func WithActions(actions ...string) Option {
	return func(h *Hook) {
		h.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			h.enabled[a] = true
		}
	}
}

// WithLogger sets the logger used for recorder failures, and the sink
// for the default LogRecorder when New is given a nil recorder.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hook) { h.logger = l }
}
