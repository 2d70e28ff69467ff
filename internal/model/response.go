package model

import "time"

// Response is the last observation of one status code for one site. A site
// has at most one Response per distinct status code; UpdatedAt advances each
// time that status is observed again.
type Response struct {
	ID         int64     `json:"id"`
	StatusCode int       `json:"status_code"`
	SiteID     int64     `json:"site_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
