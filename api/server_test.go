package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/contract-assistant/config"
	"github.com/fabfab/contract-assistant/contracts"
	"github.com/fabfab/contract-assistant/engine"
)

type runCall struct {
	useCase engine.UseCase
	req     engine.Request
}

type stubRunner struct {
	mu     sync.Mutex
	calls  []runCall
	result engine.Result
	err    error
}

func (s *stubRunner) Run(_ context.Context, uc engine.UseCase, req engine.Request) (engine.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, runCall{useCase: uc, req: req})
	return s.result, s.err
}

type stubStore struct {
	records map[uuid.UUID]contracts.Record
	content map[uuid.UUID][]byte
	limit   int
}

func newStubStore() *stubStore {
	return &stubStore{records: map[uuid.UUID]contracts.Record{}, content: map[uuid.UUID][]byte{}}
}

func (s *stubStore) Upload(_ context.Context, filename, encoded string) (contracts.Record, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || !bytes.HasPrefix(data, []byte("%PDF-")) {
		return contracts.Record{}, contracts.ErrInvalidDocument
	}
	rec := contracts.Record{ID: uuid.New(), Filename: filename, ContentType: "application/pdf", SizeBytes: int64(len(data))}
	s.records[rec.ID] = rec
	s.content[rec.ID] = data
	return rec, nil
}

func (s *stubStore) Get(_ context.Context, id uuid.UUID) (contracts.Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return contracts.Record{}, contracts.ErrNotFound
	}
	return rec, nil
}

func (s *stubStore) Content(_ context.Context, rec contracts.Record) ([]byte, error) {
	return s.content[rec.ID], nil
}

func (s *stubStore) List(_ context.Context, limit int) ([]contracts.Record, error) {
	s.limit = limit
	out := make([]contracts.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

type decodedEnvelope struct {
	Status     bool            `json:"status"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	StatusCode int             `json:"status_code"`
}

func newTestServer(t *testing.T, cfg config.Config, runner *stubRunner, store ContractStore) *Server {
	t.Helper()
	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{"*"}
	}
	srv, err := New(cfg, runner, store, nil)
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv http.Handler, method, path, body string, header ...string) (*httptest.ResponseRecorder, decodedEnvelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var env decodedEnvelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		require.Equal(t, rec.Code, env.StatusCode)
	}
	return rec, env
}

func pdfPayload() string {
	return base64.StdEncoding.EncodeToString([]byte("%PDF-1.4\nstub"))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, config.Config{}, &stubRunner{}, nil)

	for _, path := range []string{"/", "/healthz"} {
		rec, env := do(t, srv, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.True(t, env.Status)
		require.Equal(t, "Response Generated Successfully", env.Message)
		require.JSONEq(t, `"Health Check ! True"`, string(env.Data))
	}
}

func TestOpenAPIServed(t *testing.T) {
	srv := newTestServer(t, config.Config{}, &stubRunner{}, nil)

	rec, _ := do(t, srv, http.MethodGet, "/openapi.yaml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "/contract/summarization/")
}

func TestUseCaseRoutes(t *testing.T) {
	thread := "thread_abc"
	runner := &stubRunner{result: engine.Result{Response: "summary", ThreadID: &thread}}
	srv := newTestServer(t, config.Config{}, runner, nil)

	cases := []struct {
		path    string
		body    string
		useCase engine.UseCase
	}{
		{"/contract/summarization/", `{"contract_pdf":"` + pdfPayload() + `"}`, engine.UseCaseSummarization},
		{"/contract/summarization", `{"thread_id":"t1","user_query":"and?"}`, engine.UseCaseSummarization},
		{"/contract/spend-analytics/", `{"contract_pdf":"` + pdfPayload() + `"}`, engine.UseCaseSpendAnalytics},
		{"/contract/conversational/", `{"contract_pdf":"` + pdfPayload() + `","user_query":"x","thread_id":"t"}`, engine.UseCaseConversational},
		{"/contract/comparison/", `{"contract_pdf":"` + pdfPayload() + `","master_contract_pdf":"` + pdfPayload() + `"}`, engine.UseCaseComparison},
		{"/contract/authoring/", `{"contract_type":"Custom","user_prompt":"an NDA"}`, engine.UseCaseAuthoring},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rec, env := do(t, srv, http.MethodPost, tc.path, tc.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.True(t, env.Status)
			require.JSONEq(t, `{"response":"summary","thread_id":"thread_abc"}`, string(env.Data))
			require.Equal(t, tc.useCase, runner.calls[len(runner.calls)-1].useCase)
		})
	}

	last := runner.calls[len(runner.calls)-1]
	require.Equal(t, "Custom", last.req.ContractType)
	require.Equal(t, "an NDA", last.req.UserPrompt)
}

func TestNullThreadIDSerialized(t *testing.T) {
	runner := &stubRunner{result: engine.Result{Response: "draft"}}
	srv := newTestServer(t, config.Config{}, runner, nil)

	_, env := do(t, srv, http.MethodPost, "/contract/authoring/", `{"contract_type":"Custom","user_prompt":"lease"}`)
	require.JSONEq(t, `{"response":"draft","thread_id":null}`, string(env.Data))
}

func TestRequestValidation(t *testing.T) {
	cases := []struct {
		name  string
		path  string
		body  string
		field string
	}{
		{"empty body", "/contract/summarization/", ``, nonFieldErrors},
		{"not an object", "/contract/summarization/", `[1,2]`, nonFieldErrors},
		{"nothing provided", "/contract/summarization/", `{}`, nonFieldErrors},
		{"thread without query", "/contract/conversational/", `{"thread_id":"t1"}`, nonFieldErrors},
		{"query without thread", "/contract/spend-analytics/", `{"contract_pdf":"` + pdfPayload() + `","user_query":"q"}`, nonFieldErrors},
		{"unknown field", "/contract/summarization/", `{"contract_pdf":"` + pdfPayload() + `","extra":1}`, nonFieldErrors},
		{"wrong type", "/contract/summarization/", `{"contract_pdf":42}`, "contract_pdf"},
		{"comparison missing master", "/contract/comparison/", `{"contract_pdf":"` + pdfPayload() + `"}`, nonFieldErrors},
		{"custom without prompt", "/contract/authoring/", `{"contract_type":"Custom"}`, nonFieldErrors},
		{"custom with blank prompt", "/contract/authoring/", `{"contract_type":"Custom","user_prompt":""}`, "user_prompt"},
		{"bad base64", "/contract/summarization/", `{"contract_pdf":"***"}`, "contract_pdf"},
		{"binary payload", "/contract/summarization/", `{"contract_pdf":"` + base64.StdEncoding.EncodeToString([]byte{0xff, 0x00, 0xfe}) + `"}`, "contract_pdf"},
		{"bad master payload", "/contract/comparison/", `{"contract_pdf":"` + pdfPayload() + `","master_contract_pdf":"***"}`, "master_contract_pdf"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &stubRunner{}
			srv := newTestServer(t, config.Config{}, runner, nil)

			rec, env := do(t, srv, http.MethodPost, tc.path, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			require.False(t, env.Status)
			require.Equal(t, "Validation Error", env.Message)

			var fields map[string][]string
			require.NoError(t, json.Unmarshal(env.Data, &fields))
			require.NotEmpty(t, fields[tc.field], string(env.Data))
			require.Empty(t, runner.calls)
		})
	}
}

func TestUnknownContractTypeReachesEngine(t *testing.T) {
	runner := &stubRunner{err: &engine.Error{
		Kind:    engine.KindValidation,
		Message: "Unsupported contract type: Lease",
		Details: map[string]any{"contract_type": "Lease"},
	}}
	srv := newTestServer(t, config.Config{}, runner, nil)

	rec, env := do(t, srv, http.MethodPost, "/contract/authoring/", `{"contract_type":"Lease"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Unsupported contract type: Lease", env.Message)
	require.JSONEq(t, `{"contract_type":"Lease"}`, string(env.Data))
	require.Len(t, runner.calls, 1)
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{&engine.Error{Kind: engine.KindConflict, Message: "Thread t belongs to the authoring use case."}, http.StatusConflict, "Thread t belongs to the authoring use case."},
		{&engine.Error{Kind: engine.KindRateLimited, Message: "slow down"}, http.StatusTooManyRequests, "slow down"},
		{&engine.Error{Kind: engine.KindUpstream, Err: errors.New("run failed: server_error")}, http.StatusBadGateway, engine.DefaultErrorMessage},
		{&engine.Error{Kind: engine.KindTimeout, Message: "The assistant did not respond in time."}, http.StatusGatewayTimeout, "The assistant did not respond in time."},
		{errors.New("pq: password authentication failed for user admin"), http.StatusInternalServerError, engine.DefaultErrorMessage},
	}
	for _, tc := range cases {
		runner := &stubRunner{err: tc.err}
		srv := newTestServer(t, config.Config{}, runner, nil)

		rec, env := do(t, srv, http.MethodPost, "/contract/summarization/", `{"contract_pdf":"`+pdfPayload()+`"}`)
		require.Equal(t, tc.status, rec.Code)
		require.False(t, env.Status)
		require.Equal(t, tc.message, env.Message)
		require.NotContains(t, rec.Body.String(), "password")
		require.NotContains(t, rec.Body.String(), "server_error")
	}
}

func TestMethodNotAllowedAndNotFound(t *testing.T) {
	srv := newTestServer(t, config.Config{}, &stubRunner{}, nil)

	rec, env := do(t, srv, http.MethodGet, "/contract/summarization/", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.False(t, env.Status)

	rec, _ = do(t, srv, http.MethodPost, "/contract/unknown/", "{}")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJWTAuth(t *testing.T) {
	secret := []byte("test-secret")
	runner := &stubRunner{result: engine.Result{Response: "ok"}}
	srv := newTestServer(t, config.Config{JWTSecret: string(secret)}, runner, nil)
	body := `{"contract_pdf":"` + pdfPayload() + `"}`

	rec, _ := do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, srv, http.MethodPost, "/contract/summarization/", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, env.Status)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "analyst",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString(secret)
	require.NoError(t, err)
	rec, _ = do(t, srv, http.MethodPost, "/contract/summarization/", body, "Authorization", "Bearer "+expired)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("other"))
	require.NoError(t, err)
	rec, _ = do(t, srv, http.MethodPost, "/contract/summarization/", body, "Authorization", "Bearer "+wrongKey)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	valid, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "analyst",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	require.NoError(t, err)
	rec, env = do(t, srv, http.MethodPost, "/contract/summarization/", body, "Authorization", "Bearer "+valid)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Status)
	require.Len(t, runner.calls, 1)
}

func TestComparisonFollowUpWithSingleDocument(t *testing.T) {
	thread := "thread_abc"
	runner := &stubRunner{result: engine.Result{Response: "answer", ThreadID: &thread}}
	srv := newTestServer(t, config.Config{}, runner, nil)

	rec, env := do(t, srv, http.MethodPost, "/contract/comparison/", `{"contract_pdf":"`+pdfPayload()+`","thread_id":"thread_abc","user_query":"Which terms differ?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, env.Status)
	require.Len(t, runner.calls, 1)
	require.Equal(t, engine.UseCaseComparison, runner.calls[0].useCase)
	require.Equal(t, "thread_abc", runner.calls[0].req.ThreadID)
}

func TestErrorLogCarriesTokenSubject(t *testing.T) {
	secret := []byte("test-secret")
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	runner := &stubRunner{err: &engine.Error{Kind: engine.KindConflict, Message: "Thread t belongs to the authoring use case."}}
	srv, err := New(config.Config{JWTSecret: string(secret), AllowedOrigins: []string{"*"}}, runner, nil, logger)
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "analyst-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	require.NoError(t, err)

	rec, _ := do(t, srv, http.MethodPost, "/contract/conversational/", `{"thread_id":"t","user_query":"q"}`, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, logs.String(), `"subject":"analyst-7"`)
	require.Contains(t, logs.String(), `"msg":"request rejected"`)
}

type waitRunner struct{}

func (waitRunner) Run(ctx context.Context, _ engine.UseCase, _ engine.Request) (engine.Result, error) {
	<-ctx.Done()
	return engine.Result{}, ctx.Err()
}

func TestRequestDeadlineAnswersOneEnvelope(t *testing.T) {
	srv, err := New(config.Config{RequestTimeout: 20 * time.Millisecond, AllowedOrigins: []string{"*"}}, waitRunner{}, nil, nil)
	require.NoError(t, err)

	rec, env := do(t, srv, http.MethodPost, "/contract/summarization/", `{"contract_pdf":"`+pdfPayload()+`"}`)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	require.False(t, env.Status)
	require.Equal(t, "The request timed out.", env.Message)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
}

func TestContractRecordEndpoints(t *testing.T) {
	store := newStubStore()
	srv := newTestServer(t, config.Config{}, &stubRunner{}, store)

	rec, env := do(t, srv, http.MethodPost, "/contracts", `{"filename":"msa.pdf","contract_pdf":"`+pdfPayload()+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created contracts.Record
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.Equal(t, "msa.pdf", created.Filename)

	rec, env = do(t, srv, http.MethodGet, "/contracts/"+created.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.NotContains(t, got, "content")

	rec, env = do(t, srv, http.MethodGet, "/contracts/"+created.ID.String()+"?include=content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, pdfPayload(), got["content"])

	rec, env = do(t, srv, http.MethodGet, "/contracts?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, store.limit)
	var list []contracts.Record
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)

	rec, _ = do(t, srv, http.MethodGet, "/contracts?limit=500", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, srv, http.MethodGet, "/contracts/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, srv, http.MethodGet, "/contracts/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = do(t, srv, http.MethodPost, "/contracts", `{"contract_pdf":"aGVsbG8="}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Validation Error", env.Message)

	rec, _ = do(t, srv, http.MethodPost, "/contracts", `{"filename":"x.pdf"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContractEndpointsWithoutStore(t *testing.T) {
	srv := newTestServer(t, config.Config{}, &stubRunner{}, nil)

	rec, env := do(t, srv, http.MethodGet, "/contracts", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.False(t, env.Status)
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(config.Config{}, nil, nil, nil)
	require.Error(t, err)
}
