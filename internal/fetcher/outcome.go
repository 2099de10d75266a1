package fetcher

import (
	"errors"
	"net/http"
	"time"

	iconhttp "github.com/ligustah/iconsync/internal/http"
)

// Item is one icon to fetch.
type Item struct {
	ID  string
	URL string
}

// OutcomeKind is the disposition of a single transfer attempt.
type OutcomeKind int

const (
	Succeeded OutcomeKind = iota
	// FailedPermanent means the asset does not exist upstream; never retried.
	FailedPermanent
	// FailedTransient covers every other failure; retried once.
	FailedTransient
)

func (k OutcomeKind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case FailedPermanent:
		return "failed-permanent"
	case FailedTransient:
		return "failed-transient"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of a transfer attempt.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// Result records one attempt of one item.
type Result struct {
	Item     Item
	Pass     int
	Outcome  Outcome
	Bytes    int64
	Duration time.Duration
}

// Classify turns a transfer error into an Outcome. A 404 status is permanent;
// other statuses, transport errors and write errors are transient.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Kind: Succeeded}
	}

	var statusErr *iconhttp.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return Outcome{Kind: FailedPermanent, Err: err}
	}
	return Outcome{Kind: FailedTransient, Err: err}
}
