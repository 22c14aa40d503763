// Package uid generates the ids used for documents and outbox jobs.
package uid

import (
	"encoding/base64"

	"github.com/gofrs/uuid"
)

// NewId returns a 16 character URL safe id taken from a random v4 uuid.
func NewId() string {
	id := uuid.Must(uuid.NewV4())
	return base64.RawURLEncoding.EncodeToString(id.Bytes()[:12])
}
