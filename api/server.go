package api

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fabfab/contract-assistant/config"
	"github.com/fabfab/contract-assistant/contracts"
	"github.com/fabfab/contract-assistant/engine"
)

//go:embed openapi.yaml
var openAPISpecYAML []byte

const (
	maxBodyBytes   = 64 << 20
	successMessage = "Response Generated Successfully"
	healthMessage  = "Health Check ! True"
)

// UseCaseRunner dispatches a request to a contract use-case.
type UseCaseRunner interface {
	Run(ctx context.Context, useCase engine.UseCase, req engine.Request) (engine.Result, error)
}

// ContractStore persists uploaded contract documents.
type ContractStore interface {
	Upload(ctx context.Context, filename, encoded string) (contracts.Record, error)
	Get(ctx context.Context, id uuid.UUID) (contracts.Record, error)
	Content(ctx context.Context, rec contracts.Record) ([]byte, error)
	List(ctx context.Context, limit int) ([]contracts.Record, error)
}

// Server exposes the contract use-cases over HTTP.
type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	runner    UseCaseRunner
	contracts ContractStore
	schemas   *requestSchemas
	handler   http.Handler
}

// New builds the router. store may be nil when no database is configured;
// the contract record endpoints then answer 503.
func New(cfg config.Config, runner UseCaseRunner, store ContractStore, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		return nil, errors.New("use case runner is required")
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, logger: logger, runner: runner, contracts: store, schemas: schemas}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	if s.cfg.RequestTimeout > 0 {
		r.Use(requestDeadline(s.cfg.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeEnvelope(w, http.StatusNotFound, false, "Not Found", map[string]any{})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeEnvelope(w, http.StatusMethodNotAllowed, false, "Method Not Allowed", map[string]any{})
	})

	r.Get("/", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/openapi.yaml", s.handleOpenAPI)

	r.Group(func(protected chi.Router) {
		if s.cfg.JWTSecret != "" {
			protected.Use(s.jwtAuth([]byte(s.cfg.JWTSecret)))
		}

		protected.Route("/contract", func(c chi.Router) {
			c.Post("/summarization", s.handleUseCase(engine.UseCaseSummarization, s.schemas.document))
			c.Post("/authoring", s.handleUseCase(engine.UseCaseAuthoring, s.schemas.authoring))
			c.Post("/comparison", s.handleUseCase(engine.UseCaseComparison, s.schemas.comparison))
			c.Post("/spend-analytics", s.handleUseCase(engine.UseCaseSpendAnalytics, s.schemas.document))
			c.Post("/conversational", s.handleUseCase(engine.UseCaseConversational, s.schemas.document))
			c.Get("/authoring/types", s.handleContractTypes)
		})

		protected.Route("/contracts", func(c chi.Router) {
			c.Post("/", s.handleContractUpload)
			c.Get("/", s.handleContractList)
			c.Get("/{id}", s.handleContractGet)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeSuccess(w, http.StatusOK, healthMessage)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleContractTypes(w http.ResponseWriter, r *http.Request) {
	s.writeSuccess(w, http.StatusOK, map[string]any{"contract_types": engine.ContractTypes()})
}

func (s *Server) handleUseCase(useCase engine.UseCase, schema *jsonschema.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validateBody(schema, body); err != nil {
			s.writeError(w, r, err)
			return
		}

		var req engine.Request
		if err := decodeJSON(bytes.NewReader(body), &req); err != nil {
			s.writeError(w, r, fieldError(nonFieldErrors, err.Error()))
			return
		}
		if err := checkPayloads(map[string]string{
			"contract_pdf":        req.ContractPDF,
			"master_contract_pdf": req.MasterContractPDF,
		}); err != nil {
			s.writeError(w, r, err)
			return
		}

		result, err := s.runner.Run(r.Context(), useCase, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusOK, result)
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, fieldError(nonFieldErrors, "request body is required")
	}
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fieldError(nonFieldErrors, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fieldError(nonFieldErrors, "request body is required")
	}
	return body, nil
}

func decodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
