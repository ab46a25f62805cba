// Package provider implements the per-provider capability adapters and
// their registry.
package provider

import (
	"fmt"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
)

// GoogleConfig holds the Gmail OAuth client configuration. Google's device
// flow requires the client secret.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
}

// MicrosoftConfig holds the Outlook OAuth client configuration. Device flow
// on public clients carries no secret.
type MicrosoftConfig struct {
	ClientID string
	TenantID string // "common" for multi-tenant
}

// RegistryConfig holds all provider configurations.
type RegistryConfig struct {
	Google    *GoogleConfig
	Microsoft *MicrosoftConfig
}

// Registry resolves the capability adapter for a provider tag.
type Registry struct {
	providers map[domain.Provider]out.MailProvider
}

// NewRegistry builds the four provider variants with their fixed endpoints.
func NewRegistry(cfg *RegistryConfig) *Registry {
	return &Registry{
		providers: map[domain.Provider]out.MailProvider{
			domain.ProviderICloud: &passwordProvider{
				host: "imap.mail.me.com",
				port: 993,
			},
			domain.ProviderIMAP: &passwordProvider{},
			domain.ProviderGmail: &oauthProvider{
				host:     "imap.gmail.com",
				port:     993,
				provider: domain.ProviderGmail,
				oauth:    newGoogleTokenConfig(cfg.Google),
			},
			domain.ProviderOutlook: &oauthProvider{
				host:     "outlook.office365.com",
				port:     993,
				provider: domain.ProviderOutlook,
				oauth:    newMicrosoftTokenConfig(cfg.Microsoft),
			},
		},
	}
}

// For implements out.ProviderRegistry.
func (r *Registry) For(provider domain.Provider) (out.MailProvider, error) {
	p, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider type: %s", provider)
	}
	return p, nil
}
