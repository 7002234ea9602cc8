package convid

import (
	"errors"
	"sort"

	"github.com/google/uuid"
)

// Separator joins the two participant ids of a direct conversation.
const Separator = "_"

var ErrInvalidArity = errors.New("direct conversation requires exactly 2 participants")

// DeriveDirectID returns the sorted, underscore-joined pair. The result does not
// depend on argument order.
func DeriveDirectID(participantIDs []string) (string, error) {
	if len(participantIDs) != 2 {
		return "", ErrInvalidArity
	}
	pair := []string{participantIDs[0], participantIDs[1]}
	sort.Strings(pair)
	return pair[0] + Separator + pair[1], nil
}

// NewGroupID allocates an opaque id for a group conversation.
func NewGroupID() string {
	return uuid.NewString()
}
