package errors

// Storage error codes shared by the run, report and table stores
const (
	CodeStorageInvalidConfig = "INVALID_CONFIG"
	CodeStorageNotConnected  = "NOT_CONNECTED"
	CodeStorageNotFound      = "NOT_FOUND"
	CodeStorageWriteFailed   = "WRITE_FAILED"
	CodeStorageReadFailed    = "READ_FAILED"
	CodeStorageSerialization = "SERIALIZATION_FAILED"
	CodeStorageConnection    = "CONNECTION_FAILED"
)

var (
	ErrStorageNotFound     = NewStorageError(CodeStorageNotFound, "storage record not found")
	ErrStorageNotConnected = NewStorageError(CodeStorageNotConnected, "storage not connected")
)

// IsStorageNotFound reports whether err is a missing-record storage error
func IsStorageNotFound(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Type == ErrorTypeStorage && appErr.Code == CodeStorageNotFound
}
