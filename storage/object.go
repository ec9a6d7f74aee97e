package storage

import (
	"errors"
	"fmt"

	"github.com/ruteri/qkd-kme/interfaces"
)

// ErrContentMismatch is returned when fetched bytes do not hash to the
// requested content id.
var ErrContentMismatch = errors.New("content does not match its identifier")

// objectName is the backend independent location of a blob: "<kind>/<hex id>".
func objectName(id interfaces.ContentID, kind interfaces.SnapshotKind) string {
	return string(kind) + "/" + id.String()
}

func verifyContent(id interfaces.ContentID, data []byte) error {
	if !id.Matches(data) {
		return fmt.Errorf("%w: %s", ErrContentMismatch, id)
	}
	return nil
}
