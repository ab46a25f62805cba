package provider

import (
	"context"
	"fmt"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
)

// passwordProvider serves iCloud and generic IMAP accounts. A fixed host
// means iCloud; otherwise the host comes from the account itself.
type passwordProvider struct {
	host string
	port int
}

func (p *passwordProvider) ConnectionParams(account *domain.Account, creds *domain.Credentials) (*out.ConnectionParams, error) {
	if creds.Type != domain.CredentialPassword {
		return nil, fmt.Errorf("provider %s requires password credentials, got %s", account.Provider, creds.Type)
	}

	params := &out.ConnectionParams{
		Host:       p.host,
		Port:       p.port,
		Security:   domain.SecuritySSL,
		AuthMethod: out.AuthMethodLogin,
		Username:   creds.Username,
		Password:   creds.Password,
	}
	if params.Username == "" {
		params.Username = account.Email
	}

	if p.host == "" { // generic IMAP: endpoint lives on the account
		if account.IMAPHost == "" {
			return nil, fmt.Errorf("account %s: generic imap requires a host", account.ID)
		}
		params.Host = account.IMAPHost
		params.Port = account.IMAPPort
		if params.Port == 0 {
			params.Port = 993
		}
		params.Security = account.Security
		if params.Security == "" {
			params.Security = domain.SecuritySSL
		}
	}
	return params, nil
}

func (p *passwordProvider) NeedsRefresh(_ *domain.Credentials) bool {
	return false
}

func (p *passwordProvider) Refresh(_ context.Context, _ *domain.Credentials) (*domain.Credentials, error) {
	return nil, fmt.Errorf("refresh is not defined for password providers")
}
