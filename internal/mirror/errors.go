package mirror

import "fmt"

// Errno constants, negative-errno convention (spec.md §7).
const (
	EINVAL = -22
	ENOENT = -2
	EEXIST = -17
	EAGAIN = -11
)

// Error carries a numeric errno and a human message, matching the
// management-facing (rc, json_body, err_msg) contract of spec.md §6/§7.
type Error struct {
	Errno int
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (errno %d)", e.Msg, e.Errno)
}

func NewError(errno int, format string, args ...interface{}) *Error {
	return &Error{Errno: errno, Msg: fmt.Sprintf(format, args...)}
}

func InvalidArgument(format string, args ...interface{}) *Error {
	return NewError(EINVAL, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return NewError(ENOENT, format, args...)
}

func AlreadyExists(format string, args ...interface{}) *Error {
	return NewError(EEXIST, format, args...)
}

func RemovalInProgress(format string, args ...interface{}) *Error {
	return NewError(EAGAIN, format, args...)
}

// Errno extracts the negative-errno code from err, or 0 if err is nil
// and -1 for any error not produced by this package.
func Errno(err error) int {
	if err == nil {
		return 0
	}
	if me, ok := err.(*Error); ok {
		return me.Errno
	}
	return -1
}
