package timeunit

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/roboto-ai/topicdata/pkg/models"
)

// Hints are the candidate sources for a timestamp's unit, highest
// precedence first.
type Hints struct {
	// Override is the caller's explicit choice.
	Override Unit
	// Declared is the unit carried by the value's own type.
	Declared Unit
	// Metadata is the out-of-band unit string recorded at ingestion.
	Metadata string
}

// Resolve picks a unit. An override that disagrees with the inferred unit is
// logged and still wins.
func Resolve(h Hints, logger zerolog.Logger) (Unit, error) {
	inferred := h.Declared
	if inferred == "" && h.Metadata != "" {
		u, err := ParseUnit(h.Metadata)
		if err != nil && h.Override == "" {
			return "", err
		}
		inferred = u
	}

	if h.Override != "" {
		if !h.Override.Valid() {
			return "", fmt.Errorf("%w: unknown time unit %q", models.ErrInvalidArgument, h.Override)
		}
		if inferred != "" && inferred != h.Override {
			logger.Warn().
				Str("override", h.Override.String()).
				Str("inferred", inferred.String()).
				Msg("Timestamp unit override differs from inferred unit, using override")
		}
		return h.Override, nil
	}

	if inferred == "" {
		return "", fmt.Errorf("%w: unable to determine timestamp unit", models.ErrMalformed)
	}
	return inferred, nil
}
