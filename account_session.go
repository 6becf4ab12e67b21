package main

import (
	"log/slog"
	"net/http"

	"github.com/MSBasha93/ETA-Invetcher/internal/config"
	"github.com/MSBasha93/ETA-Invetcher/internal/eta"
	"github.com/MSBasha93/ETA-Invetcher/internal/sync"
)

// AccountSession holds the authenticated registry client for one account,
// for commands that talk to the registry outside a sync run.
type AccountSession struct {
	Account config.Account
	Auth    *eta.Session
	Client  *eta.Client
}

// NewAccountSession builds the same session and client a sync run would use,
// sharing the account's token cache.
func NewAccountSession(resolved *config.Resolved, acct config.Account, httpClient *http.Client, logger *slog.Logger) *AccountSession {
	logger = logger.With(slog.String("account", acct.Name))

	auth := eta.NewSession(eta.SessionConfig{
		ClientID:      acct.ClientID,
		ClientSecret:  acct.ClientSecret,
		TokenURL:      resolved.API.TokenURL,
		RefreshMargin: resolved.API.RefreshMargin(),
		CachePath:     config.TokenPath(resolved.DataDir, acct.Name),
		HTTPClient:    httpClient,
	}, logger)

	return &AccountSession{
		Account: acct,
		Auth:    auth,
		Client:  eta.NewClient(sync.ClientOptions(resolved.API, httpClient), auth, logger),
	}
}
