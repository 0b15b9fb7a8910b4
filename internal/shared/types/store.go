package types

import "time"

// StoreListing is a catalog entry from the remote add-on store
type StoreListing struct {
	ID          string    `json:"id"`
	AddonID     string    `json:"addon_id"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Author      string    `json:"author,omitempty"`
	Description string    `json:"description,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	DownloadURL string    `json:"download_url"`
	Checksum    string    `json:"checksum,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
	RatingAvg   float64   `json:"rating_avg"`
	RatingCount int       `json:"rating_count"`
	PublishedAt time.Time `json:"published_at"`
}

// Rating is a user rating of an add-on
type Rating struct {
	AddonID   string    `json:"addon_id"`
	User      string    `json:"user,omitempty"`
	Rating    int       `json:"rating"`
	Review    string    `json:"review,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
