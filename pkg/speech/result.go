package speech

import "time"

// Result is one recognizer output. Partial results are provisional and
// revisable; only final results represent a committed turn of user speech.
type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Language   string
	Timestamp  time.Time
}

// Handler receives recognizer callbacks. Implementations must tolerate being
// invoked from the recognizer's own goroutine.
type Handler interface {
	OnPartial(Result)
	OnFinal(Result)
}
