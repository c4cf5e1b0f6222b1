// ABOUTME: Slack OAuth v2 install URL and code exchange
// ABOUTME: Wraps slack-go's oauth.v2.access call with a bounded timeout

package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

const authorizeURL = "https://slack.com/oauth/v2/authorize"

// Installation is the result of a successful OAuth exchange.
type Installation struct {
	TeamID      string
	TeamName    string
	BotUserID   string
	AppID       string
	Scope       string
	AccessToken string
}

// InstallURL builds the Slack authorize URL for adding the app to a workspace.
func InstallURL(clientID string, scopes []string, redirectURI, state string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("scope", strings.Join(scopes, ","))
	if redirectURI != "" {
		q.Set("redirect_uri", redirectURI)
	}
	if state != "" {
		q.Set("state", state)
	}
	return authorizeURL + "?" + q.Encode()
}

// OAuthExchanger trades an authorization code for a bot token.
type OAuthExchanger interface {
	Exchange(ctx context.Context, code, redirectURI string) (*Installation, error)
}

// SlackOAuth exchanges codes against oauth.v2.access.
type SlackOAuth struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// Exchange completes the OAuth flow for code.
func (o *SlackOAuth) Exchange(ctx context.Context, code, redirectURI string) (*Installation, error) {
	if code == "" {
		return nil, errors.New("missing oauth code")
	}
	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := slack.GetOAuthV2ResponseContext(ctx, httpClient, o.ClientID, o.ClientSecret, code, redirectURI)
	if err != nil {
		return nil, fmt.Errorf("slack oauth.v2.access: %w", err)
	}
	if resp.AccessToken == "" || resp.Team.ID == "" {
		return nil, errors.New("slack oauth.v2.access: response missing token or team")
	}

	return &Installation{
		TeamID:      resp.Team.ID,
		TeamName:    resp.Team.Name,
		BotUserID:   resp.BotUserID,
		AppID:       resp.AppID,
		Scope:       resp.Scope,
		AccessToken: resp.AccessToken,
	}, nil
}
