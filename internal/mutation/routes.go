package mutation

import "fmt"

// Kind names an entity type that can be written.
type Kind string

const (
	KindDraft        Kind = "draft"
	KindTemplate     Kind = "template"
	KindSport        Kind = "sport"
	KindVenue        Kind = "venue"
	KindOrganization Kind = "organization"
)

// Mode selects between creating and updating a record.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeUpdate Mode = "update"
)

// Style selects how a kind's endpoint maps operations to HTTP methods.
type Style int

const (
	// StyleResource uses POST to create, PUT to update and DELETE {path}/{id} to remove.
	StyleResource Style = iota

	// StyleAction POSTs both create and update with the mode in the body and
	// removes with DELETE {path}?id={id}.
	StyleAction
)

// Route is the write endpoint for one kind.
type Route struct {
	Path  string
	Style Style
}

// DefaultRoutes are the write endpoints exposed by the league site.
func DefaultRoutes() map[Kind]Route {
	return map[Kind]Route{
		KindDraft:        {Path: "/api/drafts", Style: StyleResource},
		KindTemplate:     {Path: "/api/templates", Style: StyleAction},
		KindSport:        {Path: "/api/sports", Style: StyleResource},
		KindVenue:        {Path: "/api/venues", Style: StyleResource},
		KindOrganization: {Path: "/api/organizations", Style: StyleResource},
	}
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := DefaultRoutes()[k]; !ok {
		return "", fmt.Errorf("unknown kind: %q", s)
	}
	return k, nil
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCreate, ModeUpdate:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode: %q", s)
	}
}
