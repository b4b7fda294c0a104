package turn

import (
	"time"

	"github.com/rtvoice/rtvoice/pkg/speech"
)

// Turn is one finalized unit of user speech awaiting a response.
type Turn struct {
	Result     speech.Result
	EnqueuedAt time.Time
}
