package config

// Change describes what differs between two configs and how the running
// daemon can absorb each difference.
type Change struct {
	// LogLevelChanged: the logger level can be swapped immediately.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LanguageChanged: applied through the same path as the set_language
	// command, so a loaded streaming engine picks it up too.
	LanguageChanged bool
	NewLanguage     string

	// NotificationsChanged: the notifier toggle flips immediately.
	NotificationsChanged bool
	NotificationsEnabled bool

	// PipelineChanged marks fields the pipeline reads only when it starts
	// (VAD tuning, gain, chunking, streaming window, timeouts). They take
	// effect on the next start command.
	PipelineChanged bool

	// RestartRequired marks fields fixed for the life of the process
	// (model selection, rate limiting, history store, telemetry listener).
	RestartRequired bool
}

// Any reports whether the change carries any difference at all.
func (c Change) Any() bool {
	return c.LogLevelChanged || c.LanguageChanged || c.NotificationsChanged ||
		c.PipelineChanged || c.RestartRequired
}

// Diff compares old and new configs and returns what changed, bucketed by
// how the daemon can apply it.
func Diff(old, new *Config) Change {
	var d Change

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if old.Whisper.Language != new.Whisper.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Whisper.Language
	}

	if old.Notifications != new.Notifications {
		d.NotificationsChanged = true
		d.NotificationsEnabled = new.Notifications.Enabled
	}

	if old.Audio != new.Audio ||
		old.VAD != new.VAD ||
		old.Streaming != new.Streaming ||
		old.Output != new.Output ||
		old.Buffer != new.Buffer ||
		old.Whisper.StreamingMode != new.Whisper.StreamingMode ||
		old.Whisper.TranscribeTimeoutMS != new.Whisper.TranscribeTimeoutMS {
		d.PipelineChanged = true
	}

	if old.Whisper.ModelURL != new.Whisper.ModelURL ||
		old.Whisper.ModelChecksum != new.Whisper.ModelChecksum ||
		old.RateLimit != new.RateLimit ||
		old.History != new.History ||
		old.Telemetry != new.Telemetry {
		d.RestartRequired = true
	}

	return d
}
