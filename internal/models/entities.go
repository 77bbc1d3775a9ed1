package models

import "time"

// Location is stored as a JSON column on leagues, drafts and venues.
type Location struct {
	Name    string  `json:"name,omitempty"`
	Address string  `json:"address,omitempty"`
	City    string  `json:"city,omitempty"`
	Region  string  `json:"region,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
}

// Draft is an unpublished league owned by an organizer.
type Draft struct {
	ID             string         `json:"id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	OwnerID        string         `json:"owner_id,omitempty"`
	Name           string         `json:"name"`
	Status         string         `json:"status,omitempty"`
	LeagueData     map[string]any `json:"league_data,omitempty"`
	CreatedAt      time.Time      `json:"created_at,omitzero"`
	UpdatedAt      time.Time      `json:"updated_at,omitzero"`
}

// Template is a reusable league definition used to seed drafts.
type Template struct {
	ID             string         `json:"id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	OwnerID        string         `json:"owner_id,omitempty"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	LeagueData     map[string]any `json:"league_data,omitempty"`
	CreatedAt      time.Time      `json:"created_at,omitzero"`
}

// Sport is an entry in the sport catalogue.
type Sport struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Venue is a playing location that can be attached to leagues.
type Venue struct {
	ID             string   `json:"id,omitempty"`
	OrganizationID string   `json:"organization_id,omitempty"`
	Name           string   `json:"name"`
	Location       Location `json:"location"`
	Surface        string   `json:"surface,omitempty"`
}
