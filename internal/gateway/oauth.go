// ABOUTME: Slack app installation: authorize URL issuance and the OAuth callback
// ABOUTME: The callback exchanges the code for a bot token and upserts the workspace

package gateway

import (
	"net/http"
	"strings"

	"github.com/2389/slack-pulse/internal/auth"
	"github.com/2389/slack-pulse/internal/messaging"
	"github.com/2389/slack-pulse/internal/store"
)

const oauthStateSubject = "slack-install"

func (g *Gateway) redirectURI() string {
	base := strings.TrimRight(g.config.Server.BaseURL, "/")
	if base == "" {
		return ""
	}
	return base + "/slack/oauth"
}

// handleInstall returns the authorize URL, or redirects to it with ?redirect=1.
func (g *Gateway) handleInstall(w http.ResponseWriter, r *http.Request) {
	if g.config.Slack.ClientID == "" {
		respondError(w, http.StatusServiceUnavailable, "slack.client_id not configured")
		return
	}

	var state string
	if g.tokens != nil {
		s, err := g.tokens.Generate(oauthStateSubject, auth.PurposeOAuthState, oauthStateTTL)
		if err != nil {
			g.logger.Error("minting oauth state failed", "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		state = s
	}

	url := messaging.InstallURL(g.config.Slack.ClientID, g.config.Slack.Scopes, g.redirectURI(), state)
	if r.URL.Query().Get("redirect") == "1" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleOAuthCallback completes an installation.
func (g *Gateway) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		g.logger.Info("installation declined", "error", e)
		respondError(w, http.StatusBadRequest, "installation declined: "+e)
		return
	}

	code := q.Get("code")
	if code == "" {
		respondError(w, http.StatusBadRequest, "missing code")
		return
	}

	if g.tokens != nil {
		if _, err := g.tokens.Verify(q.Get("state"), auth.PurposeOAuthState); err != nil {
			g.logger.Warn("oauth state rejected", "error", err)
			respondError(w, http.StatusBadRequest, "invalid state")
			return
		}
	}

	if g.oauth == nil {
		respondError(w, http.StatusServiceUnavailable, "slack.client_id not configured")
		return
	}

	inst, err := g.oauth.Exchange(r.Context(), code, g.redirectURI())
	if err != nil {
		g.logger.Error("oauth exchange failed", "error", err)
		respondError(w, http.StatusInternalServerError, "OAuth failed")
		return
	}

	ws := &store.Workspace{
		TeamID:    inst.TeamID,
		TeamName:  inst.TeamName,
		BotUserID: inst.BotUserID,
		BotToken:  inst.AccessToken,
	}
	if err := g.store.UpsertWorkspace(r.Context(), ws); err != nil {
		g.logger.Error("saving workspace failed", "team_id", inst.TeamID, "error", err)
		respondError(w, http.StatusInternalServerError, "OAuth failed")
		return
	}

	g.logger.Info("workspace installed", "team_id", ws.TeamID, "team_name", ws.TeamName, "workspace_id", ws.ID)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Installation successful!"})
}
