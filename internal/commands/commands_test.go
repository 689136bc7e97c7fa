package commands

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"omnichat/internal/app"
	"omnichat/internal/config"
	"omnichat/internal/models"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	body := `
[basic_config]
file_base_dir = "uploads"
database = "sqlite3"

[databases.sqlite3]
dsn = "omnichat.db"

[search]
disable_duckduckgo = true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { configFlag = "" })
}

func TestConfigPathPrecedence(t *testing.T) {
	resetFlags(t)
	t.Setenv(configEnv, "")
	assert.Equal(t, "config.json", configPath())

	t.Setenv(configEnv, "/etc/omnichat.toml")
	assert.Equal(t, "/etc/omnichat.toml", configPath())

	configFlag = "local.json"
	assert.Equal(t, "local.json", configPath())
}

func TestLoadConfigMissingFile(t *testing.T) {
	resetFlags(t)
	configFlag = filepath.Join(t.TempDir(), "absent.json")

	_, err := loadConfig(false)
	assert.ErrorIs(t, err, config.ErrNotFound)

	cfg, err := loadConfig(true)
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.BasicConfig.Database)
}

func TestOfflineServicesEcho(t *testing.T) {
	ctx := context.Background()
	ctrl, err := app.New(ctx, offlineServices(), app.Options{})
	require.NoError(t, err)
	ctrl.Init(ctx)

	v := ctrl.Snapshot()
	require.NotNil(t, v.User)
	assert.Equal(t, "local", v.User.Username)

	res, err := ctrl.Send(ctx, "ping", nil)
	require.NoError(t, err)
	assert.False(t, res.Reply.IsError)
	assert.Contains(t, res.Reply.Content, "ping")
}

func TestServerWiring(t *testing.T) {
	gin.SetMode(gin.TestMode)
	resetFlags(t)
	dir := t.TempDir()
	configFlag = writeConfig(t, dir)

	cfg, err := loadConfig(false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, err := newServer(ctx, cfg)
	require.NoError(t, err)
	defer srv.Close()

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gjson.Get(rec.Body.String(), "models.#").Int() > 0, rec.Body.String())

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/users/register", strings.NewReader(`{"username":"ada","password":"secret"}`))
	req.Header.Set("Content-Type", "application/json")
	srv.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	id := gjson.Get(rec.Body.String(), "id").Int()
	svc, err := userServices(srv.backend)(ctx, models.User{UID: strconv.FormatInt(id, 10)})
	require.NoError(t, err)
	assert.True(t, svc.Identity.IsSignedIn())

	_, err = userServices(srv.backend)(ctx, models.User{UID: "not-a-number"})
	assert.Error(t, err)

	assert.FileExists(t, filepath.Join(dir, "omnichat.db"))
	assert.DirExists(t, filepath.Join(dir, "uploads"))
}
