package port

// Logger is the leveled logging interface injected into services. Args are
// alternating key/value pairs, slog style.
type Logger interface {
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
