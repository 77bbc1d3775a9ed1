package mutation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wolfeidau/leaguesync/internal/models"
)

// ErrInvalidPayload is returned when a record does not decode as its kind.
var ErrInvalidPayload = errors.New("invalid payload")

// Validate checks payload decodes into the entity for kind, that it is named,
// and that updates carry an id. Fields the entity does not know are allowed.
func Validate(kind Kind, payload models.Row, mode Mode) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	var id, name string
	switch kind {
	case KindDraft:
		var v models.Draft
		err = json.Unmarshal(data, &v)
		id, name = v.ID, v.Name
	case KindTemplate:
		var v models.Template
		err = json.Unmarshal(data, &v)
		id, name = v.ID, v.Name
	case KindSport:
		var v models.Sport
		err = json.Unmarshal(data, &v)
		id, name = v.ID, v.Name
	case KindVenue:
		var v models.Venue
		err = json.Unmarshal(data, &v)
		id, name = v.ID, v.Name
	case KindOrganization:
		var v models.Organization
		err = json.Unmarshal(data, &v)
		id, name = v.ID, v.Name
	default:
		return fmt.Errorf("unknown kind: %q", kind)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, kind, err)
	}

	if name == "" {
		return fmt.Errorf("%w: %s name is required", ErrInvalidPayload, kind)
	}
	if mode == ModeUpdate && id == "" {
		return fmt.Errorf("%w: %s id is required to update", ErrInvalidPayload, kind)
	}
	return nil
}
