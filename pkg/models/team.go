package models

// Team is a direct child team as listed by the upstream API.
type Team struct {
	Name        string `json:"name"`
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}
