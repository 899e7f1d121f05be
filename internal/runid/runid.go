package runid

import (
	"github.com/google/uuid"
)

// New returns a random identifier that ties together the log lines of one bootstrap run.
func New() string {
	return uuid.NewString()
}
