package perms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEnqueuer struct {
	expireCalls int
	err         error
}

func (e *recordingEnqueuer) EnqueueCacheExpire(ctx context.Context) error {
	e.expireCalls++
	return e.err
}

func newTestServer(t *testing.T, f *fixture, enqueuer TaskEnqueuer) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	NewHandler(nil, f.service, enqueuer).MountRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestListNodesEndpoint(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)

	resp, body := get(t, srv, "/users/"+f.user.String()+"/nodes")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var nodes []Node
	require.NoError(t, json.Unmarshal(body, &nodes))
	require.Len(t, nodes, 2)
	assert.Equal(t, "root:dept1", nodes[0].Key)
	assert.Equal(t, "root:dept1:team1", nodes[1].Key)
}

func TestListNodesBadUserID(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)

	resp, _ := get(t, srv, "/users/not-a-uuid/nodes")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListNodesUnknownUser(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)

	resp, _ := get(t, srv, "/users/00000000-0000-0000-0000-000000000001/nodes")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAssetsEndpoint(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)

	resp, body := get(t, srv, "/users/"+f.user.String()+"/assets")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []struct {
		Hostname    string              `json:"hostname"`
		SystemUsers map[string][]string `json:"system_users"`
	}
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 2)
	assert.Equal(t, "db-1", views[0].Hostname)
	assert.Equal(t, "web-1", views[1].Hostname)
	assert.Equal(t, []string{"connect", "upload"}, views[1].SystemUsers[f.rootAccount.ID.String()])
}

func TestListAssetsHostnameFilter(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)

	resp, body := get(t, srv, "/users/"+f.user.String()+"/assets?hostname=db")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []struct {
		Hostname string `json:"hostname"`
	}
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "db-1", views[0].Hostname)
}

func TestListNodeAssetsDeepParam(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)
	base := fmt.Sprintf("/users/%s/nodes/%s/assets", f.user, f.dept1.ID)

	resp, body := get(t, srv, base)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var direct []json.RawMessage
	require.NoError(t, json.Unmarshal(body, &direct))
	assert.Len(t, direct, 1)

	resp, body = get(t, srv, base+"?all=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deep []json.RawMessage
	require.NoError(t, json.Unmarshal(body, &deep))
	assert.Len(t, deep, 2)
}

func TestListNodeChildrenEndpoint(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)

	resp, body := get(t, srv, "/users/"+f.user.String()+"/nodes/children?key=root:dept1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var nodes []Node
	require.NoError(t, json.Unmarshal(body, &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "root:dept1:team1", nodes[0].Key)
}

func TestListNodeChildrenUnknownKey(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)

	resp, _ := get(t, srv, "/users/"+f.user.String()+"/nodes/children?key=root:nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNodeChildrenTreeEndpoint(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)

	resp, body := get(t, srv, "/users/"+f.user.String()+"/nodes/children/tree?key=root:dept1&assets=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []TreeNodeView
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 2)
	assert.Equal(t, "node", views[0].Meta.Type)
	assert.Equal(t, "asset", views[1].Meta.Type)
	assert.Equal(t, "db-1", views[1].Name)
}

func TestAssetSystemUsersEndpoint(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)

	resp, body := get(t, srv, fmt.Sprintf("/users/%s/assets/%s/system-users", f.user, f.webServer.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []systemUserView
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "root", views[0].Name)
	assert.Equal(t, []string{"connect", "upload"}, views[0].Actions)
}

func TestValidateEndpoint(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)
	base := fmt.Sprintf("/validate?user_id=%s&asset_id=%s&system_user_id=%s", f.user, f.webServer.ID, f.rootAccount.ID)

	resp, body := get(t, srv, base+"&action_name=connect")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msg map[string]bool
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.True(t, msg["msg"])

	resp, body = get(t, srv, base+"&action_name=download")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.False(t, msg["msg"])
}

func TestValidateMissingParams(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)

	resp, _ := get(t, srv, "/validate?user_id="+f.user.String())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, srv, "/validate?user_id=nope&asset_id=nope&system_user_id=nope")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActionsEndpoint(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)

	resp, body := get(t, srv, fmt.Sprintf(
		"/actions?user_id=%s&asset_id=%s&system_user_id=%s", f.user, f.webServer.ID, f.rootAccount.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Actions        ActionSet `json:"actions"`
		ActionsDisplay []string  `json:"actions_display"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, ActionConnect|ActionUpload, payload.Actions)
	assert.Equal(t, []string{"connect", "upload"}, payload.ActionsDisplay)
}

func TestActionsUnknownAssetIsZero(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f, nil)

	resp, body := get(t, srv, fmt.Sprintf(
		"/actions?user_id=%s&asset_id=00000000-0000-0000-0000-000000000009&system_user_id=%s", f.user, f.rootAccount.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Actions        ActionSet `json:"actions"`
		ActionsDisplay []string  `json:"actions_display"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, ActionSet(0), payload.Actions)
	assert.Empty(t, payload.ActionsDisplay)
}

func TestRefreshCacheEndpoint(t *testing.T) {
	f := newFixture(t)
	enq := &recordingEnqueuer{}
	srv := newTestServer(t, f, enq)
	ctx := context.Background()

	_, err := f.service.Resolve(ctx, f.user, PolicyDefault)
	require.NoError(t, err)
	require.Equal(t, 1, f.store.ruleCalls)

	resp, err := srv.Client().Post(srv.URL+"/cache/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, enq.expireCalls)

	_, err = f.service.Resolve(ctx, f.user, PolicyDefault)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.ruleCalls)
}

func TestRefreshCacheEnqueueFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	enq := &recordingEnqueuer{err: fmt.Errorf("broker down")}
	srv := newTestServer(t, f, enq)

	resp, err := srv.Client().Post(srv.URL+"/cache/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
