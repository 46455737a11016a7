package config

// ConfigDiff describes what changed between two configs. Only the log level
// is applied live; every other change is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the changed settings that only take effect after
	// a restart, in config file order.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("discord", old.Discord != new.Discord)
	restart("recorder", old.Recorder != new.Recorder)
	restart("soundboard", old.Soundboard != new.Soundboard)
	restart("store", old.Store != new.Store)

	return d
}
