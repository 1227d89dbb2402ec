package domain

import (
	"fmt"
	"time"
)

// Site is a domain root aggregating pages. Identity is the normalized
// scheme://domain pair; pages are owned via CONTAINS edges.
type Site struct {
	URL         string // normalized scheme://domain
	Domain      string
	PageCount   int
	ActivePages int
	TotalVisits int
	LastUpdated time.Time
}

// NewSite builds a site root for a scheme and domain.
func NewSite(scheme, domain string) *Site {
	return &Site{
		URL:         fmt.Sprintf("%s://%s", scheme, domain),
		Domain:      domain,
		LastUpdated: time.Now(),
	}
}
