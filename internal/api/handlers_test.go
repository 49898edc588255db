package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/okchat/okchat/internal/auth"
	"github.com/okchat/okchat/internal/core"
	"github.com/okchat/okchat/internal/llm"
	"github.com/okchat/okchat/internal/store"
)

type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	f.calls++
	return f.reply, f.err
}

type fakeIdentityProvider struct {
	identity *auth.Identity
	err      error
}

func (f *fakeIdentityProvider) AuthURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (f *fakeIdentityProvider) Exchange(ctx context.Context, code string) (*auth.Identity, error) {
	return f.identity, f.err
}

type testServer struct {
	srv    *httptest.Server
	client *http.Client
	llm    *fakeLLM
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	fake := &fakeLLM{reply: "Hello back"}
	identity := &fakeIdentityProvider{identity: &auth.Identity{Email: "oauth@example.com", DisplayName: "OAuth User"}}

	handler := NewAPIHandler(
		core.NewAccountService(db, logger),
		core.NewChatService(db, logger),
		core.NewAssistantService(fake, time.Second, logger),
		auth.NewSessionManager("test-session-secret"),
		identity,
		logger,
	)

	srv := httptest.NewServer(NewRouter(handler))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testServer{srv: srv, client: client, llm: fake}
}

func (ts *testServer) postJSON(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := ts.client.Post(ts.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (ts *testServer) signup(t *testing.T, username string) {
	t.Helper()
	resp, body := ts.postJSON(t, "/signup", map[string]string{"username": username, "password": "s3cret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
}

func (ts *testServer) getChats(t *testing.T) []map[string]interface{} {
	t.Helper()
	resp, err := ts.client.Get(ts.srv.URL + "/get_chats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var chats []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chats))
	return chats
}

func TestSignupEstablishesSession(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice")

	// An authenticated endpoint must now work on the same cookie jar.
	chats := ts.getChats(t)
	assert.Empty(t, chats)
}

func TestSignupDuplicate(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice")

	resp, body := ts.postJSON(t, "/signup", map[string]string{"username": "alice", "password": "different"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestLoginFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice")

	// Fresh client, no cookies.
	fresh := &http.Client{}
	resp, err := fresh.Get(ts.srv.URL + "/get_chats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := ts.postJSON(t, "/login", map[string]string{"username": "alice", "password": "s3cret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, body = ts.postJSON(t, "/login", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid credentials", body["message"])
}

func TestLogoutClearsSession(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice")

	resp, err := ts.client.Get(ts.srv.URL + "/logout")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	resp, err = ts.client.Get(ts.srv.URL + "/get_chats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice")

	resp, body := ts.postJSON(t, "/create_chat", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	chat := body["chat"].(map[string]interface{})
	chatID := chat["id"].(string)
	assert.Nil(t, chat["title"])

	resp, body = ts.postJSON(t, fmt.Sprintf("/chat/%s/add_message", chatID), map[string]string{
		"sender": "user", "text": "Hello there, this is a long message",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])

	resp, body = ts.postJSON(t, fmt.Sprintf("/chat/%s/add_message", chatID), map[string]string{
		"sender": "assistant", "text": "Hi",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])

	chats := ts.getChats(t)
	require.Len(t, chats, 1)
	assert.Equal(t, "Hello there, this is a long me...", chats[0]["title"])
	messages := chats[0]["messages"].([]interface{})
	require.Len(t, messages, 2)
	first := messages[0].(map[string]interface{})
	assert.Equal(t, "user", first["sender"])
	assert.Equal(t, "Hello there, this is a long message", first["text"])
	second := messages[1].(map[string]interface{})
	assert.Equal(t, "assistant", second["sender"])
	assert.Equal(t, "Hi", second["text"])
}

func TestEditAndDeleteMessage(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice")

	_, body := ts.postJSON(t, "/create_chat", nil)
	chatID := body["chat"].(map[string]interface{})["id"].(string)

	_, body = ts.postJSON(t, fmt.Sprintf("/chat/%s/add_message", chatID), map[string]string{"sender": "user", "text": "typo"})
	require.Equal(t, true, body["success"])

	resp, body := ts.postJSON(t, fmt.Sprintf("/chat/%s/edit_message", chatID), map[string]interface{}{"index": 0, "text": "fixed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])

	resp, body = ts.postJSON(t, fmt.Sprintf("/chat/%s/edit_message", chatID), map[string]interface{}{"index": 3, "text": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])

	chats := ts.getChats(t)
	messages := chats[0]["messages"].([]interface{})
	require.Len(t, messages, 1)
	assert.Equal(t, "fixed", messages[0].(map[string]interface{})["text"])

	resp, body = ts.postJSON(t, fmt.Sprintf("/chat/%s/delete_message", chatID), map[string]interface{}{"index": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])

	chats = ts.getChats(t)
	assert.Empty(t, chats[0]["messages"].([]interface{}))
}

func TestAddMessageToForeignChat(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice")
	_, body := ts.postJSON(t, "/create_chat", nil)
	chatID := body["chat"].(map[string]interface{})["id"].(string)

	// A different user must not be able to touch alice's chat.
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	ts.client.Jar = jar
	ts.signup(t, "mallory")

	resp, respBody := ts.postJSON(t, fmt.Sprintf("/chat/%s/add_message", chatID), map[string]string{"sender": "user", "text": "intrusion"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, respBody["success"])
}

func TestAskWithoutSession(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.postJSON(t, "/ask", map[string]string{"message": "Hello"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, core.LoginPrompt, body["reply"])
	assert.Zero(t, ts.llm.calls)
}

func TestAskAuthenticated(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice")

	resp, body := ts.postJSON(t, "/ask", map[string]string{"message": "Hello"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello back", body["reply"])
	assert.Equal(t, 1, ts.llm.calls)
}

func TestAskUpstreamFailureIsReplyText(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice")
	ts.llm.err = errors.New("upstream exploded")
	ts.llm.reply = ""

	resp, body := ts.postJSON(t, "/ask", map[string]string{"message": "Hello"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Error: upstream exploded", body["reply"])
}

func TestChangePasswordAndDeleteAccount(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice")

	resp, body := ts.postJSON(t, "/profile/change_password", map[string]string{"old_password": "nope", "new_password": "next"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, false, body["success"])

	resp, body = ts.postJSON(t, "/profile/change_password", map[string]string{"old_password": "s3cret", "new_password": "next"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])

	resp, body = ts.postJSON(t, "/profile/delete_account", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])

	resp, body = ts.postJSON(t, "/login", map[string]string{"username": "alice", "password": "next"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGoogleOAuthFlow(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.client.Get(ts.srv.URL + "/login/google")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	redirect, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := redirect.Query().Get("state")
	require.NotEmpty(t, state)

	resp, err = ts.client.Get(ts.srv.URL + "/login/google/callback?state=" + state + "&code=authcode")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	// The session from the callback authenticates further requests.
	chats := ts.getChats(t)
	assert.Empty(t, chats)
}

func TestGoogleOAuthCallbackBadState(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.client.Get(ts.srv.URL + "/login/google")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = ts.client.Get(ts.srv.URL + "/login/google/callback?state=forged&code=authcode")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGoogleOAuthCallbackMissingCode(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.client.Get(ts.srv.URL + "/login/google")
	require.NoError(t, err)
	resp.Body.Close()

	redirect, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := redirect.Query().Get("state")

	resp, err = ts.client.Get(ts.srv.URL + "/login/google/callback?state=" + state)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHomePageShowsLoginState(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.client.Get(ts.srv.URL + "/")
	require.NoError(t, err)
	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, buf.String(), "not logged in")

	ts.signup(t, "alice")
	resp, err = ts.client.Get(ts.srv.URL + "/")
	require.NoError(t, err)
	buf.Reset()
	buf.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Contains(t, buf.String(), "data-loggedin=\"true\"")
}
