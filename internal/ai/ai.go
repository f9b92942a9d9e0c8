package ai

import (
	"context"
	"errors"

	"github.com/spigell/jobscout/internal/profile"
	"github.com/spigell/jobscout/internal/segment"
)

// ErrMalformedResponse is returned when the model output cannot be decoded.
// Callers treat it as a non-match.
var ErrMalformedResponse = errors.New("malformed model response")

// Decision is the classifier verdict for one listing, with the listing
// fields normalised by the model.
type Decision struct {
	Matched     bool
	Role        string
	Company     string
	Location    string
	Description string
	Reason      string
	Raw         string
}

type Classifier interface {
	Classify(ctx context.Context, candidate *profile.Profile, itemText string) (*Decision, error)
}

// ProfileBuilder turns résumé sections into a candidate profile.
type ProfileBuilder interface {
	Build(ctx context.Context, sections []segment.Section) (*profile.Profile, error)
}
