package job

// Options carries optional per-job metadata supplied at submission.
type Options struct {
	// Title is a display name for the job. Empty means untitled.
	Title string

	// Language is a BCP 47 hint for the transcription engine. Empty
	// means autodetect.
	Language string
}

// DefaultOptions returns the zero options.
func DefaultOptions() Options {
	return Options{}
}

// Option is a functional option applied at job creation.
type Option func(*Options)

// WithTitle sets the display title.
func WithTitle(title string) Option {
	return func(o *Options) {
		o.Title = title
	}
}

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(o *Options) {
		o.Language = lang
	}
}
