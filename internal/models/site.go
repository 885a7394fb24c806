package models

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// RemoteSite is a configured replication target.
type RemoteSite struct {
	ID        int64  `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	SiteURL   string `yaml:"site_url" json:"site_url"`
	APIURL    string `yaml:"api_url" json:"api_url"`
	APIKey    string `yaml:"api_key" json:"-"`
	APISecret string `yaml:"api_secret" json:"-"`
}

// Validate reports whether the site carries everything a dispatch needs.
// A site failing validation must never be dispatched to.
func (s *RemoteSite) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.ID, validation.Required, validation.Min(int64(1))),
		validation.Field(&s.SiteURL, validation.Required, is.URL),
		validation.Field(&s.APIURL, validation.Required, is.URL),
		validation.Field(&s.APIKey, validation.Required),
		validation.Field(&s.APISecret, validation.Required),
	)
}
