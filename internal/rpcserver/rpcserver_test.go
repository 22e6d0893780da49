package rpcserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDaemon struct {
	forceRunCalled  bool
	cleanHostsArgs  []string
	cleanHostsForce bool
	cleanHostsEmpty bool
	getMeanOverride bool
}

func (f *fakeDaemon) ForceRun() (bool, string) {
	f.forceRunCalled = true
	return true, "ran"
}
func (f *fakeDaemon) CleanHosts(hosts []string, force, useEmpty bool) (bool, string) {
	f.cleanHostsArgs = hosts
	f.cleanHostsForce = force
	f.cleanHostsEmpty = useEmpty
	return true, "cleaned"
}
func (f *fakeDaemon) GetMean(override bool) (bool, string) {
	f.getMeanOverride = override
	return true, "meaned"
}
func (f *fakeDaemon) GetPlan() string  { return "plan text" }
func (f *fakeDaemon) DumpData() string { return "dump text" }

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var r result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	return r
}

func TestVersionReportsSetVersion(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	s := New(&fakeDaemon{})
	req := httptest.NewRequest("GET", "/api/v1/version", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	r := decodeResult(t, rec)
	require.True(t, r.OK)
	require.Equal(t, "1.2.3", r.Text)
}

func TestForceRunDelegatesToDaemon(t *testing.T) {
	d := &fakeDaemon{}
	s := New(d)
	req := httptest.NewRequest("POST", "/api/v1/forcerun", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.True(t, d.forceRunCalled)
	r := decodeResult(t, rec)
	require.True(t, r.OK)
}

func TestCleanHostsParsesRequestBody(t *testing.T) {
	d := &fakeDaemon{}
	s := New(d)
	body := bytes.NewBufferString(`{"hosts":["A","B"],"force":true,"use_empty":true}`)
	req := httptest.NewRequest("POST", "/api/v1/cleanhosts", body)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, []string{"A", "B"}, d.cleanHostsArgs)
	require.True(t, d.cleanHostsForce)
	require.True(t, d.cleanHostsEmpty)
}

func TestGetMeanDefaultsOverrideToFalseWithoutBody(t *testing.T) {
	d := &fakeDaemon{}
	s := New(d)
	req := httptest.NewRequest("POST", "/api/v1/getmean", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.False(t, d.getMeanOverride)
	r := decodeResult(t, rec)
	require.True(t, r.OK)
}

func TestGetPlanAndGetInfoReturnDaemonText(t *testing.T) {
	d := &fakeDaemon{}
	s := New(d)

	req := httptest.NewRequest("GET", "/api/v1/getplan", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, "plan text", decodeResult(t, rec).Text)

	req = httptest.NewRequest("GET", "/api/v1/getinfo", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, "dump text", decodeResult(t, rec).Text)
}
