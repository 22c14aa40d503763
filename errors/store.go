package errors

import "fmt"

var (
	ErrDocumentNotFound = fmt.Errorf("document not found")
	ErrInvalidPath      = fmt.Errorf("invalid document path")
	ErrUnknownDriver    = fmt.Errorf("unknown store driver")
)
