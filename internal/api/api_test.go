package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"humansign/internal/config"
	"humansign/internal/health"
	"humansign/internal/logging"
	"humansign/internal/metrics"
	"humansign/internal/ratelimit"
	"humansign/internal/session"
	"humansign/internal/store"
	"humansign/internal/verify"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		testKey = k
	})
	return testKey
}

type testEnv struct {
	server  *httptest.Server
	manager *session.Manager
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, limits config.VerifyConfig) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, store.NewMemory(), limits)
}

func newTestEnvWithStore(t *testing.T, st store.Store, limits config.VerifyConfig) *testEnv {
	t.Helper()

	mt := metrics.New()
	mgr, err := session.NewManager(st, signingKey(t),
		session.WithLogger(logging.Discard()),
		session.WithMetrics(mt),
		session.WithPolicy(session.Policy{BlockSize: 3}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	checker := health.NewChecker()
	checker.RegisterFunc("signing_key", true, health.SigningKeyCheck(signingKey(t)))
	checker.SetReady(true)

	srv := NewServer(Options{
		Sessions:    mgr,
		Verifier:    mgr,
		Verify:      limits,
		MetricsPath: "/metrics",
		Logger:      logging.Discard(),
		Metrics:     mt,
		Health:      checker,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, manager: mgr, metrics: mt}
}

// envelope mirrors Response with raw fields for decoding in tests.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func (e *testEnv) startAndSeal(t *testing.T, document string) SealResponse {
	t.Helper()

	code, env := e.do(t, http.MethodPost, "/api/v1/sessions", StartSessionRequest{Subject: "alice", SessionIndex: 1})
	require.Equal(t, http.StatusCreated, code)
	st := decodeData[session.Status](t, env)

	code, _ = e.do(t, http.MethodPost, "/api/v1/sessions/"+st.ID+"/events",
		`{"events": [[1000, "keydown"], [1065, "keyup"], [1105, "keydown"], [1170, "keyup"], [1210, "keydown"]]}`)
	require.Equal(t, http.StatusOK, code)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+st.ID+"/seal", SealRequest{Document: &document})
	require.Equal(t, http.StatusOK, code)
	return decodeData[SealResponse](t, env)
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEnv(t, config.VerifyConfig{})

	code, env := e.do(t, http.MethodPost, "/api/v1/sessions", StartSessionRequest{Subject: "alice", SessionIndex: 2})
	require.Equal(t, http.StatusCreated, code)
	st := decodeData[session.Status](t, env)
	require.NotEmpty(t, st.ID)
	assert.Equal(t, "alice", st.Metadata.Subject)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+st.ID+"/events",
		`{"events": [[1000, "keydown"], [1050, "keyup"], [1100, "keydown"], [1150, "keyup"]]}`)
	require.Equal(t, http.StatusOK, code)
	st = decodeData[session.Status](t, env)
	assert.Equal(t, 4, st.EventCount)
	assert.Equal(t, 1, st.BlockCount)
	assert.Equal(t, 1, st.PendingCount)

	code, env = e.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), st.ID)

	doc := "hello"
	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+st.ID+"/seal", SealRequest{Document: &doc})
	require.Equal(t, http.StatusOK, code)
	sealed := decodeData[SealResponse](t, env)
	assert.Equal(t, 4, sealed.EventCount)
	assert.Equal(t, 2, sealed.BlockCount)
	assert.Equal(t, sealed.Token, sealed.Artifact["jws"])

	code, env = e.do(t, http.MethodGet, "/api/v1/sessions/"+st.ID+"/seals", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"count":1`)

	code, _ = e.do(t, http.MethodDelete, "/api/v1/sessions/"+st.ID, nil)
	require.Equal(t, http.StatusNoContent, code)

	code, env = e.do(t, http.MethodGet, "/api/v1/sessions/"+st.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decodeData[session.Status](t, env).Ended)
	code, _ = e.do(t, http.MethodDelete, "/api/v1/sessions/"+st.ID, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, env = e.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(env.Data), st.ID)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+st.ID+"/events", `{"events": [[2000, "keydown"]]}`)
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "conflict", env.Error.Code)
}

type flakyStore struct {
	store.Store
	fail atomic.Bool
}

func (f *flakyStore) SaveSnapshot(ctx context.Context, snap *store.Snapshot) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.Store.SaveSnapshot(ctx, snap)
}

func TestAddEventsReportsAcceptedPrefix(t *testing.T) {
	st := &flakyStore{Store: store.NewMemory()}
	e := newTestEnvWithStore(t, st, config.VerifyConfig{})

	code, env := e.do(t, http.MethodPost, "/api/v1/sessions", StartSessionRequest{})
	require.Equal(t, http.StatusCreated, code)
	id := decodeData[session.Status](t, env).ID

	st.fail.Store(true)
	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/events",
		`{"events": [[1000, "keydown"], [1050, "keyup"], [1100, "keydown"]]}`)
	require.Equal(t, http.StatusInternalServerError, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "internal_error", env.Error.Code)
	assert.Equal(t, map[string]any{"accepted": float64(1)}, env.Error.Details)

	st.fail.Store(false)
	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/events",
		`{"events": [[1050, "keyup"], [1100, "keydown"]]}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, decodeData[session.Status](t, env).EventCount)

	require.NoError(t, e.manager.End(context.Background(), id))
	code, env = e.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/events", `{"events": [[1200, "keyup"]]}`)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, map[string]any{"accepted": float64(0)}, env.Error.Details)
}

func TestSessionErrors(t *testing.T) {
	e := newTestEnv(t, config.VerifyConfig{})

	code, env := e.do(t, http.MethodGet, "/api/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_found", env.Error.Code)

	code, env = e.do(t, http.MethodPost, "/api/v1/sessions", StartSessionRequest{})
	require.Equal(t, http.StatusCreated, code)
	id := decodeData[session.Status](t, env).ID

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown event type", "/events", `{"events": [[1000, "keypress"]]}`, http.StatusBadRequest},
		{"fractional timestamp", "/events", `{"events": [[1000.5, "keydown"]]}`, http.StatusBadRequest},
		{"no events", "/events", `{"events": []}`, http.StatusBadRequest},
		{"missing document", "/seal", `{}`, http.StatusBadRequest},
		{"empty chain", "/seal", `{"document": "x"}`, http.StatusConflict},
		{"unknown field", "/seal", `{"document": "x", "extra": 1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := e.do(t, http.MethodPost, "/api/v1/sessions/"+id+tt.path, tt.body)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestVerifyEndpoint(t *testing.T) {
	e := newTestEnv(t, config.VerifyConfig{})
	sealed := e.startAndSeal(t, "my essay")

	doc := "my essay"
	code, env := e.do(t, http.MethodPost, "/api/v1/verify", VerifyRequest{Token: sealed.Token, Document: &doc})
	require.Equal(t, http.StatusOK, code)
	res := decodeData[verify.Result](t, env)
	assert.Equal(t, verify.VerdictGenuine, res.Verdict)
	assert.True(t, res.DocumentMatch)
	require.NotNil(t, res.Stats)
	assert.Equal(t, 5, res.Stats.EventCount)

	// The JSON artifact form is accepted too.
	artifact, err := json.Marshal(map[string]string{"jws": sealed.Token})
	require.NoError(t, err)
	code, env = e.do(t, http.MethodPost, "/api/v1/verify", VerifyRequest{JWS: string(artifact)})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, verify.VerdictGenuine, decodeData[verify.Result](t, env).Verdict)

	other := "someone else's essay"
	code, env = e.do(t, http.MethodPost, "/api/v1/verify", VerifyRequest{Token: sealed.Token, Document: &other})
	require.Equal(t, http.StatusOK, code)
	res = decodeData[verify.Result](t, env)
	assert.Equal(t, verify.VerdictGenuine, res.Verdict)
	assert.False(t, res.DocumentMatch)
	assert.True(t, res.HasFailure(verify.KindDocumentMismatch))

	code, env = e.do(t, http.MethodPost, "/api/v1/verify", VerifyRequest{Token: "a.b"})
	require.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)

	code, _ = e.do(t, http.MethodPost, "/api/v1/verify", VerifyRequest{})
	assert.Equal(t, http.StatusBadRequest, code)
}

type upload struct {
	field, filename, contentType string
	body                         []byte
}

func (e *testEnv) postFiles(t *testing.T, files ...upload) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.server.URL+"/api/v1/verify-files", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestVerifyFiles(t *testing.T) {
	e := newTestEnv(t, config.VerifyConfig{MaxArtifactBytes: 64 << 10})
	sealed := e.startAndSeal(t, "essay body")
	artifact := []byte(sealed.Token)

	doc := upload{"document", "essay.txt", "text/plain; charset=utf-8", []byte("essay body")}
	hs := upload{"humansign", "essay.humansign", "application/octet-stream", artifact}

	t.Run("genuine", func(t *testing.T) {
		code, env := e.postFiles(t, doc, hs)
		require.Equal(t, http.StatusOK, code)
		res := decodeData[verify.Result](t, env)
		assert.True(t, res.Genuine())
		assert.True(t, res.DocumentChecked)
		assert.True(t, res.DocumentMatch)
	})

	t.Run("bare token artifact", func(t *testing.T) {
		bare := hs
		bare.body = []byte("\n  " + sealed.Token + "\n")
		code, env := e.postFiles(t, doc, bare)
		require.Equal(t, http.StatusOK, code)
		res := decodeData[verify.Result](t, env)
		assert.True(t, res.Genuine())
	})

	t.Run("document type", func(t *testing.T) {
		img := doc
		img.contentType = "image/png"
		code, _ := e.postFiles(t, img, hs)
		assert.Equal(t, http.StatusUnsupportedMediaType, code)
	})

	t.Run("extension", func(t *testing.T) {
		wrong := hs
		wrong.filename = "essay.json"
		code, _ := e.postFiles(t, doc, wrong)
		assert.Equal(t, http.StatusUnsupportedMediaType, code)
	})

	t.Run("too large", func(t *testing.T) {
		big := doc
		big.body = bytes.Repeat([]byte("a"), 64<<10+1)
		code, env := e.postFiles(t, big, hs)
		assert.Equal(t, http.StatusRequestEntityTooLarge, code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "payload_too_large", env.Error.Code)
	})

	t.Run("missing file", func(t *testing.T) {
		code, _ := e.postFiles(t, doc)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("garbage artifact", func(t *testing.T) {
		bad := hs
		bad.body = []byte("{not json")
		code, _ := e.postFiles(t, doc, bad)
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t, config.VerifyConfig{})
	e.startAndSeal(t, "doc")

	resp, err := http.Get(e.server.URL + "/healthz?full=true")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(e.server.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "humansign_seals_total")
	assert.Contains(t, string(body), `path="/api/v1/sessions/{id}/seal"`)
}

func TestRequestIDHeader(t *testing.T) {
	e := newTestEnv(t, config.VerifyConfig{})

	req, err := http.NewRequest(http.MethodGet, e.server.URL+"/api/v1/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-Id"))
}

func TestVerifyOnlyServer(t *testing.T) {
	v := verify.New(&signingKey(t).PublicKey, verify.WithLogger(logging.Discard()), verify.WithClock(time.Now))
	ts := httptest.NewServer(NewServer(Options{Verifier: v, Logger: logging.Discard()}).Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/sessions", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/v1/verify", "application/json", strings.NewReader(`{"token": "x.y.z"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	v := verify.New(&signingKey(t).PublicKey, verify.WithLogger(logging.Discard()))
	limiter := ratelimit.NewKeyed(0, 2, 0)
	defer limiter.Close()
	ts := httptest.NewServer(NewServer(Options{Verifier: v, RateLimit: limiter, Logger: logging.Discard()}).Router())
	defer ts.Close()

	post := func(ip string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/verify", strings.NewReader(`{"token": "x.y.z"}`))
		require.NoError(t, err)
		req.Header.Set("X-Real-IP", ip)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	for i := 0; i < 2; i++ {
		resp := post("10.0.0.1")
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	}

	resp := post("10.0.0.1")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "rate_limited", env.Error.Code)

	other := post("10.0.0.2")
	other.Body.Close()
	assert.Equal(t, http.StatusOK, other.StatusCode)
}

func TestStartSessionDefaultSubject(t *testing.T) {
	mgr, err := session.NewManager(store.NewMemory(), signingKey(t), session.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer mgr.Close()
	ts := httptest.NewServer(NewServer(Options{
		Sessions:       mgr,
		Verifier:       mgr,
		DefaultSubject: "house-author",
		Logger:         logging.Discard(),
	}).Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/sessions", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	var st session.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "house-author", st.Metadata.Subject)
}
