// ABOUTME: Tests for gateway routes: health, install/OAuth, admin API, and webhook-to-job flow
// ABOUTME: Assembles the gateway over in-memory fakes and drives it with httptest

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/slack-pulse/internal/analysis"
	"github.com/2389/slack-pulse/internal/auth"
	"github.com/2389/slack-pulse/internal/config"
	"github.com/2389/slack-pulse/internal/dispatch"
	"github.com/2389/slack-pulse/internal/llm"
	"github.com/2389/slack-pulse/internal/messaging"
	"github.com/2389/slack-pulse/internal/metrics"
	"github.com/2389/slack-pulse/internal/store"
)

const (
	testSigningSecret = "signing-secret"
	testJWTSecret     = "gateway-test-jwt-secret-32-bytes!"
)

type fakeOAuth struct {
	inst     *messaging.Installation
	err      error
	gotCode  string
	gotRedir string
}

func (f *fakeOAuth) Exchange(ctx context.Context, code, redirectURI string) (*messaging.Installation, error) {
	f.gotCode, f.gotRedir = code, redirectURI
	if f.err != nil {
		return nil, f.err
	}
	return f.inst, nil
}

type testGateway struct {
	gw        *Gateway
	srv       *httptest.Server
	store     *store.MockStore
	messenger *messaging.MockMessenger
	llm       *llm.MockCompleter
	oauth     *fakeOAuth
	tokens    *auth.JWTVerifier
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0", BaseURL: "https://pulse.example.com/"},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Auth:     config.AuthConfig{JWTSecret: testJWTSecret},
		Slack:    config.SlackConfig{SigningSecret: testSigningSecret, ClientID: "123.456"},
		Metrics:  config.MetricsConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.Config) *testGateway {
	t.Helper()
	tg := &testGateway{
		store:     store.NewMockStore(),
		messenger: messaging.NewMockMessenger(),
		llm:       &llm.MockCompleter{Reply: "Overall sentiment: upbeat"},
		oauth: &fakeOAuth{inst: &messaging.Installation{
			TeamID: "T1", TeamName: "Acme", BotUserID: "UBOT", AccessToken: "xoxb-new",
		}},
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}
	gw, err := Assemble(cfg, Deps{
		Store:     tg.store,
		Connector: messaging.NewMockConnector(tg.messenger),
		LLM:       tg.llm,
		OAuth:     tg.oauth,
		Metrics:   m,
	}, nil)
	require.NoError(t, err)
	tg.gw = gw

	if cfg.Auth.JWTSecret != "" {
		tg.tokens, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		require.NoError(t, err)
	}

	tg.srv = httptest.NewServer(gw.Handler())
	t.Cleanup(tg.srv.Close)
	return tg
}

func (tg *testGateway) installWorkspace(t *testing.T) *store.Workspace {
	t.Helper()
	ws := &store.Workspace{TeamID: "T1", TeamName: "Acme", BotUserID: "UBOT", BotToken: "xoxb-acme"}
	require.NoError(t, tg.store.UpsertWorkspace(context.Background(), ws))
	return ws
}

func (tg *testGateway) adminToken(t *testing.T) string {
	t.Helper()
	token, err := tg.tokens.Generate("tester", auth.PurposeAdmin, time.Hour)
	require.NoError(t, err)
	return token
}

func (tg *testGateway) do(t *testing.T, method, path, token string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, tg.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthEndpoints(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	resp := tg.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = tg.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	resp := tg.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cfg := testConfig()
	cfg.Metrics.Enabled = false
	tg = newTestGateway(t, cfg)
	resp = tg.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInstallReturnsAuthorizeURL(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	resp := tg.do(t, http.MethodGet, "/slack/install", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)

	u, err := url.Parse(body["url"])
	require.NoError(t, err)
	assert.Equal(t, "slack.com", u.Host)
	q := u.Query()
	assert.Equal(t, "123.456", q.Get("client_id"))
	assert.Equal(t, "app_mentions:read,chat:write,files:read,channels:history,groups:history", q.Get("scope"))
	assert.Equal(t, "https://pulse.example.com/slack/oauth", q.Get("redirect_uri"))

	_, err = tg.tokens.Verify(q.Get("state"), auth.PurposeOAuthState)
	assert.NoError(t, err)
}

func TestInstallRedirect(t *testing.T) {
	tg := newTestGateway(t, testConfig())

	resp := tg.do(t, http.MethodGet, "/slack/install?redirect=1", "", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "https://slack.com/oauth/v2/authorize?"))
}

func TestOAuthCallback(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	state, err := tg.tokens.Generate(oauthStateSubject, auth.PurposeOAuthState, time.Minute)
	require.NoError(t, err)

	t.Run("missing code", func(t *testing.T) {
		resp := tg.do(t, http.MethodGet, "/slack/oauth?state="+state, "", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("bad state", func(t *testing.T) {
		resp := tg.do(t, http.MethodGet, "/slack/oauth?code=abc&state=forged", "", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Empty(t, tg.oauth.gotCode)
	})

	t.Run("success", func(t *testing.T) {
		resp := tg.do(t, http.MethodGet, "/slack/oauth?code=abc&state="+url.QueryEscape(state), "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]string
		decode(t, resp, &body)
		assert.Equal(t, "Installation successful!", body["message"])
		assert.Equal(t, "abc", tg.oauth.gotCode)
		assert.Equal(t, "https://pulse.example.com/slack/oauth", tg.oauth.gotRedir)

		ws, err := tg.store.GetWorkspaceByTeamID(context.Background(), "T1")
		require.NoError(t, err)
		assert.Equal(t, "xoxb-new", ws.BotToken)
		assert.Equal(t, "UBOT", ws.BotUserID)
	})

	t.Run("reinstall updates token", func(t *testing.T) {
		tg.oauth.inst = &messaging.Installation{TeamID: "T1", TeamName: "Acme", BotUserID: "UBOT", AccessToken: "xoxb-rotated"}
		resp := tg.do(t, http.MethodGet, "/slack/oauth?code=def&state="+url.QueryEscape(state), "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		all, err := tg.store.ListWorkspaces(context.Background())
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "xoxb-rotated", all[0].BotToken)
	})

	t.Run("exchange failure", func(t *testing.T) {
		tg.oauth.err = errors.New("invalid_code")
		defer func() { tg.oauth.err = nil }()
		resp := tg.do(t, http.MethodGet, "/slack/oauth?code=bad&state="+url.QueryEscape(state), "", "")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		var body map[string]string
		decode(t, resp, &body)
		assert.Equal(t, "OAuth failed", body["error"])
	})
}

func TestAdminAPIRequiresToken(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	resp := tg.do(t, http.MethodGet, "/api/workspaces", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	cfg := testConfig()
	cfg.Auth.JWTSecret = ""
	tg = newTestGateway(t, cfg)
	resp = tg.do(t, http.MethodGet, "/api/workspaces", "anything", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAdminListWorkspacesHidesTokens(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	tg.installWorkspace(t)

	resp := tg.do(t, http.MethodGet, "/api/workspaces", tg.adminToken(t), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string][]map[string]any
	decode(t, resp, &raw)
	require.Len(t, raw["workspaces"], 1)
	assert.Equal(t, "T1", raw["workspaces"][0]["team_id"])
	for k, v := range raw["workspaces"][0] {
		assert.NotContains(t, k, "token")
		assert.NotEqual(t, "xoxb-acme", v)
	}
}

func TestAdminAnalyzeThenJobStatus(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	ws := tg.installWorkspace(t)
	token := tg.adminToken(t)

	resp := tg.do(t, http.MethodPost, "/api/workspaces/T1/channels/C1/analyze", token, `{"hours":2}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted map[string]string
	decode(t, resp, &accepted)
	require.NotEmpty(t, accepted["job_id"])
	assert.Equal(t, "queued", accepted["status"])
	assert.Equal(t, "tester", accepted["requested_by"])

	job, err := tg.store.GetJob(context.Background(), accepted["job_id"])
	require.NoError(t, err)
	var params analysis.Params
	require.NoError(t, json.Unmarshal(job.Payload, &params))
	assert.Equal(t, analysis.Params{WorkspaceID: ws.ID, ChannelID: "C1", Hours: 2}, params)

	resp = tg.do(t, http.MethodGet, "/api/jobs/"+accepted["job_id"], token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status JobResponse
	decode(t, resp, &status)
	assert.Equal(t, store.JobQueued, status.Status)

	resp = tg.do(t, http.MethodGet, "/api/jobs/nope", token, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminAnalyzeUnknownWorkspace(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	resp := tg.do(t, http.MethodPost, "/api/workspaces/T404/channels/C1/analyze", tg.adminToken(t), `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminListAnalyses(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	ws := tg.installWorkspace(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, tg.store.CreateAnalysisResult(ctx, &store.ChannelAnalysisResult{
			WorkspaceID: ws.ID, ChannelID: "C1", AnalysisText: "run " + strconv.Itoa(i), MessageCount: i, Hours: 1,
		}))
	}
	token := tg.adminToken(t)

	resp := tg.do(t, http.MethodGet, "/api/workspaces/T1/channels/C1/analyses?limit=2", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string][]AnalysisResponse
	decode(t, resp, &body)
	require.Len(t, body["analyses"], 2)
	assert.Equal(t, "run 3", body["analyses"][0].Text)

	resp = tg.do(t, http.MethodGet, "/api/workspaces/T1/channels/C1/analyses?limit=zero", token, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSlashCommandRunsAnalysisJob(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	tg.installWorkspace(t)
	tg.messenger.HistoryOf = []messaging.Message{
		{TS: "1700000002.000000", User: "U2", Text: "shipped it!"},
		{TS: "1700000001.000000", User: "U1", Text: "how is the release going?"},
	}

	body := "command=%2Fanalyze&text=3&team_id=T1&channel_id=C1&user_id=U1"
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req, err := http.NewRequest(http.MethodPost, tg.srv.URL+"/slack/commands", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(dispatch.HeaderTimestamp, ts)
	req.Header.Set(dispatch.HeaderSignature, messaging.ComputeSignature(testSigningSecret, []byte(body), ts))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	posted := tg.messenger.Messages()
	require.Len(t, posted, 1)
	assert.Equal(t, analysis.ScheduledText(3), posted[0].Text)

	ran, err := tg.gw.Queue().RunNext(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	posted = tg.messenger.Messages()
	require.Len(t, posted, 2)
	assert.Equal(t, "Overall sentiment: upbeat", posted[1].Text)
	assert.Equal(t, 2, tg.store.RecordCount())

	results, err := tg.store.ListAnalysisResults(context.Background(), tg.installWorkspaceID(t), "C1", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].MessageCount)
	assert.Equal(t, 3, results[0].Hours)
}

func (tg *testGateway) installWorkspaceID(t *testing.T) string {
	t.Helper()
	ws, err := tg.store.GetWorkspaceByTeamID(context.Background(), "T1")
	require.NoError(t, err)
	return ws.ID
}

func TestShutdownWithoutRun(t *testing.T) {
	tg := newTestGateway(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, tg.gw.Shutdown(ctx))
}
