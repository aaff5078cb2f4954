package core

// Logger logs messages and reports errors.
// args may contain errors, maps of extra data and the user.User performing the request.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
