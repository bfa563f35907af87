package search

import (
	"github.com/kiranshivaraju/snapfind/internal/config"
	"github.com/kiranshivaraju/snapfind/internal/credentials"
	"github.com/kiranshivaraju/snapfind/internal/search/dataforseo"
	"github.com/kiranshivaraju/snapfind/internal/search/paapi"
	"github.com/kiranshivaraju/snapfind/internal/search/rapidapi"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

// DefaultBackends lists the supported backends in auto-mode priority order.
func DefaultBackends(cfg config.SearchConfig) []BackendSpec {
	return []BackendSpec{
		{
			Name:        "paapi",
			Credentials: []string{credentials.AmazonAccessKey, credentials.AmazonSecretKey, credentials.AmazonAssociateTag},
			Build: func(c map[string]string) models.SearchBackend {
				return paapi.New(c[credentials.AmazonAccessKey], c[credentials.AmazonSecretKey], c[credentials.AmazonAssociateTag],
					paapi.Config{Timeout: cfg.RequestTimeout})
			},
		},
		{
			Name:        "dataforseo",
			Credentials: []string{credentials.DataForSEOLogin, credentials.DataForSEOPassword},
			Build: func(c map[string]string) models.SearchBackend {
				return dataforseo.New(c[credentials.DataForSEOLogin], c[credentials.DataForSEOPassword],
					dataforseo.Config{Timeout: cfg.RequestTimeout})
			},
		},
		{
			Name:        "rapidapi",
			Credentials: []string{credentials.RapidAPIKey},
			Build: func(c map[string]string) models.SearchBackend {
				return rapidapi.New(c[credentials.RapidAPIKey], rapidapi.Config{Country: cfg.Country, Timeout: cfg.RequestTimeout})
			},
		},
	}
}
