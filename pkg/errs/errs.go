// Package errs defines the wire-visible error kinds. Each kind is
// a small category of numeric codes reported on the dispatcher's response node
// as {"code": N, "message": "..."}; they are never used as control-flow
// exceptions on the control thread.
package errs

import "fmt"

// Category groups a family of wire error codes.
type Category string

// Wire-visible error categories.
const (
	CompileLoad    Category = "CompileLoad"
	FileCommand    Category = "FileCommand"
	PackageCommand Category = "PackageCommand"
	Listener       Category = "Listener"
	InstallProgram Category = "InstallProgram"
)

// CompileLoad codes.
const (
	CompileLoadUnknown = iota
	CompileLoadSourceWriteFailed
	CompileLoadCompileFailed
	CompileLoadLibraryNotFound
	CompileLoadInvalidRequestObject
	CompileLoadAudioNotActive
	CompileLoadSourceFileDoesNotExist
	CompileLoadVersionMismatch
	CompileLoadCancelled
)

// FileCommand codes.
const (
	FileCommandUnknown = iota
	FileCommandWriteFailed
	FileCommandDecodeFailed
	FileCommandInvalidRequestObject
	FileCommandDeleteFailed
	FileCommandReadFailed
)

// PackageCommand codes.
const (
	PackageCommandUnknown = iota
	PackageCommandNotFound
	PackageCommandWriteFailed
)

// Listener codes.
const (
	ListenerReceived = iota
	ListenerCompleted
	ListenerFailed
)

// InstallProgram codes.
const (
	InstallProgramUnknown = iota
	InstallProgramInvalidRequestObject
	InstallProgramFileNotFound
	InstallProgramNotEnabled
)

// GenericCode is emitted by the dispatcher loop when it catches an unexpected
// failure outside any specific category.
const GenericCode = 1000

// Error is a wire error: a stable (category, code) pair plus a human message.
type Error struct {
	Category Category
	Code      int
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s[%d]: %s", e.Category, e.Code, e.Message)
}

// New constructs a wire Error.
func New(cat Category, code int, format string, args ...interface{}) *Error {
	return &Error{Category: cat, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Generic wraps an unexpected error with the generic code-1000 fallback.
func Generic(err error) *Error {
	return &Error{Category: "", Code: GenericCode, Message: err.Error()}
}
