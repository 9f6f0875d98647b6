package model

import (
	"net/url"
	"strings"
	"time"
)

// DefaultShortPrefix is the fixed host prefix of every tracked short link.
const DefaultShortPrefix = "http://bit.ly/"

// ShortLink is a discovered short-link record. Records are created once and
// never updated or deleted.
type ShortLink struct {
	ShortLink string    `json:"short_link" db:"short_link" gorm:"primaryKey;size:255"`
	TargetURL string    `json:"target_url" db:"target_url" gorm:"type:text;not null"`
	Title     string    `json:"title,omitempty" db:"title" gorm:"type:text"`
	Domain    string    `json:"domain" db:"domain" gorm:"size:255;not null;index"`
	CreatedAt time.Time `json:"created_at" db:"created_at" gorm:"autoCreateTime"`
}

// HashOf returns "Wozuff" for "http://bit.ly/Wozuff" or "http://bit.ly/Wozuff/".
// Links that do not carry prefix are returned with only the trailing slash removed.
func HashOf(shortLink, prefix string) string {
	hash := strings.TrimPrefix(shortLink, prefix)
	return strings.TrimSuffix(hash, "/")
}

// ShortLinkFor builds the canonical short link for hash.
func ShortLinkFor(hash, prefix string) string {
	return prefix + hash
}

// RootDomain derives the tracked domain of a target URL. A leading "www." is
// dropped so per-link lookups agree with domain search results.
func RootDomain(targetURL string) string {
	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// TableName keeps the collection name stable regardless of struct naming.
func (ShortLink) TableName() string {
	return "short_links"
}
