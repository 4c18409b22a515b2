package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"stageboard/internal/domain"
	"stageboard/internal/engine"
	"stageboard/internal/engine/scope"
	"stageboard/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"stage_not_allowed"`
	Message string         `json:"message" example:"stage Livré is not a permitted move target"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"stage\":\"Livré\"}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stageboard API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Stageboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPipelines(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerBoard(group, cfg.Engine)
	registerProducts(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var denied scope.StageNotAllowedError
	if errors.As(err, &denied) {
		return newAPIError(http.StatusForbidden, "stage_not_allowed", err.Error(), map[string]any{"stage": denied.Stage})
	}
	if errors.Is(err, engine.ErrStageLocked) {
		return newAPIError(http.StatusConflict, "stage_locked", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrPipelineProtected) {
		return newAPIError(http.StatusConflict, "pipeline_protected", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown status"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requireUnrestricted(ctx context.Context, e engine.Engine) (scope.Scope, huma.StatusError) {
	actor, authErr := actorScope(ctx)
	if authErr != nil {
		return actor, authErr
	}
	if !actor.SeesAll(e.Config) {
		return actor, newAPIError(http.StatusForbidden, "forbidden", "administrative role required", nil)
	}
	return actor, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Stageboard API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerPipelines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-pipeline",
		Method:        http.MethodPost,
		Path:          "/pipelines",
		Summary:       "Create pipeline",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreatePipelineRequest `json:"body"`
	}) (*struct {
		Body PipelineResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		actor, authErr := requireUnrestricted(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.PipelineCreateOptions{
			Name:    input.Body.Name,
			Color:   stringOrEmpty(input.Body.Color),
			ActorID: actor.ActorID,
		}
		if input.Body.IsDefault != nil {
			opts.IsDefault = *input.Body.IsDefault
		}
		for _, s := range input.Body.Stages {
			opts.Stages = append(opts.Stages, stageSeed(s))
		}
		p, err := e.CreatePipeline(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PipelineResponse `json:"body"`
		}{Body: pipelineResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pipelines",
		Method:      http.MethodGet,
		Path:        "/pipelines",
		Summary:     "List pipelines",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PipelineResponse `json:"body"`
	}, error) {
		if _, authErr := actorScope(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListPipelines(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PipelineResponse `json:"body"`
		}{Body: mapPipelines(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-pipeline",
		Method:      http.MethodGet,
		Path:        "/pipelines/{pipeline_id}",
		Summary:     "Get pipeline",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PipelineID int64 `path:"pipeline_id"`
	}) (*struct {
		Body PipelineResponse `json:"body"`
	}, error) {
		if _, authErr := actorScope(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetPipeline(ctx, input.PipelineID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PipelineResponse `json:"body"`
		}{Body: pipelineResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-pipeline",
		Method:      http.MethodPatch,
		Path:        "/pipelines/{pipeline_id}",
		Summary:     "Update pipeline",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PipelineID int64                 `path:"pipeline_id"`
		Body       UpdatePipelineRequest `json:"body"`
	}) (*struct {
		Body PipelineResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := requireUnrestricted(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdatePipeline(ctx, engine.PipelineUpdateOptions{
			ID:        input.PipelineID,
			Name:      input.Body.Name,
			Color:     input.Body.Color,
			IsDefault: input.Body.IsDefault,
			ActorID:   actor.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PipelineResponse `json:"body"`
		}{Body: pipelineResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-pipeline",
		Method:      http.MethodDelete,
		Path:        "/pipelines/{pipeline_id}",
		Summary:     "Delete pipeline",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		PipelineID int64 `path:"pipeline_id"`
	}) (*struct{}, error) {
		actor, authErr := requireUnrestricted(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeletePipeline(ctx, input.PipelineID, actor.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-stage",
		Method:        http.MethodPost,
		Path:          "/pipelines/{pipeline_id}/stages",
		Summary:       "Add stage",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PipelineID int64        `path:"pipeline_id"`
		Body       StageRequest `json:"body"`
	}) (*struct {
		Body StageResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actor, authErr := requireUnrestricted(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddStage(ctx, engine.StageOptions{
			PipelineID: input.PipelineID,
			StageID:    input.Body.ID,
			Color:      input.Body.Color,
			Status:     input.Body.Status,
			Locked:     input.Body.Locked,
			ActorID:    actor.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StageResponse `json:"body"`
		}{Body: stageResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-stage",
		Method:      http.MethodPatch,
		Path:        "/pipelines/{pipeline_id}/stages/{stage_id}",
		Summary:     "Update stage",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PipelineID int64              `path:"pipeline_id"`
		StageID    string             `path:"stage_id"`
		Body       UpdateStageRequest `json:"body"`
	}) (*struct {
		Body StageResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := requireUnrestricted(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateStage(ctx, engine.StageOptions{
			PipelineID: input.PipelineID,
			StageID:    input.StageID,
			Color:      input.Body.Color,
			Status:     input.Body.Status,
			Active:     input.Body.Active,
			Locked:     input.Body.Locked,
			ActorID:    actor.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StageResponse `json:"body"`
		}{Body: stageResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rename-stage",
		Method:      http.MethodPost,
		Path:        "/pipelines/{pipeline_id}/stages/{stage_id}/rename",
		Summary:     "Rename stage",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		PipelineID int64              `path:"pipeline_id"`
		StageID    string             `path:"stage_id"`
		Body       RenameStageRequest `json:"body"`
	}) (*struct {
		Body StageResponse `json:"body"`
	}, error) {
		if input.Body.NewID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "new_id is required", nil)
		}
		actor, authErr := requireUnrestricted(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RenameStage(ctx, input.PipelineID, input.StageID, input.Body.NewID, actor.ActorID); err != nil {
			return nil, handleError(err)
		}
		s, err := e.Repo.GetStage(ctx, input.PipelineID, input.Body.NewID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StageResponse `json:"body"`
		}{Body: stageResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-stage",
		Method:      http.MethodDelete,
		Path:        "/pipelines/{pipeline_id}/stages/{stage_id}",
		Summary:     "Delete stage",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		PipelineID int64  `path:"pipeline_id"`
		StageID    string `path:"stage_id"`
	}) (*struct{}, error) {
		actor, authErr := requireUnrestricted(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteStage(ctx, input.PipelineID, input.StageID, actor.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-stages",
		Method:      http.MethodPost,
		Path:        "/pipelines/{pipeline_id}/stages/reorder",
		Summary:     "Reorder stages",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PipelineID int64                `path:"pipeline_id"`
		Body       ReorderStagesRequest `json:"body"`
	}) (*struct {
		Body PipelineResponse `json:"body"`
	}, error) {
		if len(input.Body.Order) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "order is required", nil)
		}
		actor, authErr := requireUnrestricted(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ReorderStages(ctx, input.PipelineID, input.Body.Order, actor.ActorID); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetPipeline(ctx, input.PipelineID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PipelineResponse `json:"body"`
		}{Body: pipelineResponse(p)}, nil
	})
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/pipelines/{pipeline_id}/items",
		Summary:       "Create item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		PipelineID int64             `path:"pipeline_id"`
		Body       CreateItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ClientName == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "client_name is required", nil)
		}
		actor, authErr := actorScope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ItemCreateOptions{
			ID:          stringOrEmpty(input.Body.ID),
			ClientName:  input.Body.ClientName,
			Tel:         stringOrEmpty(input.Body.Tel),
			ProductID:   stringOrEmpty(input.Body.ProductID),
			Prix:        stringOrEmpty(input.Body.Prix),
			PipelineID:  input.PipelineID,
			Stage:       stringOrEmpty(input.Body.Stage),
			Employee:    stringOrEmpty(input.Body.Employee),
			Commentaire: stringOrEmpty(input.Body.Commentaire),
			Ville:       stringOrEmpty(input.Body.Ville),
			Quartier:    stringOrEmpty(input.Body.Quartier),
			DateReport:  stringOrEmpty(input.Body.DateReport),
			ActorID:     actor.ActorID,
		}
		if input.Body.NbPiece != nil {
			opts.NbPiece = *input.Body.NbPiece
		}
		it, err := e.CreateItem(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/pipelines/{pipeline_id}/items",
		Summary:     "List items",
	}, func(ctx context.Context, input *struct {
		PipelineID int64  `path:"pipeline_id"`
		Stage      string `query:"stage"`
	}) (*struct {
		Body []ItemResponse `json:"body"`
	}, error) {
		actor, authErr := actorScope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListItems(ctx, repo.ItemFilter{
			PipelineID: input.PipelineID,
			Employee:   actor.EmployeeFilter(e.Config),
			Stage:      input.Stage,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ItemResponse `json:"body"`
		}{Body: mapItems(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{id}",
		Summary:     "Get item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actor, authErr := actorScope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.Repo.GetItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if filter := actor.EmployeeFilter(e.Config); filter != "" && it.Employee != filter {
			return nil, newAPIError(http.StatusNotFound, "not_found", "item not found", nil)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-item",
		Method:      http.MethodPatch,
		Path:        "/items/{id}",
		Summary:     "Update item",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorScope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.UpdateItem(ctx, engine.ItemUpdateOptions{
			ID:          input.ID,
			ClientName:  input.Body.ClientName,
			Tel:         input.Body.Tel,
			ProductID:   input.Body.ProductID,
			Prix:        input.Body.Prix,
			Employee:    input.Body.Employee,
			Commentaire: input.Body.Commentaire,
			NbPiece:     input.Body.NbPiece,
			Ville:       input.Body.Ville,
			Quartier:    input.Body.Quartier,
			DateReport:  input.Body.DateReport,
			ActorID:     actor.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-item",
		Method:      http.MethodPost,
		Path:        "/items/{id}/move",
		Summary:     "Move item to a stage",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body MoveItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		if input.Body.Stage == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "stage is required", nil)
		}
		actor, authErr := actorScope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.MoveItem(ctx, engine.MoveOptions{
			ItemID:      input.ID,
			TargetStage: input.Body.Stage,
			DateReport:  stringOrEmpty(input.Body.DateReport),
			Actor:       actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-item",
		Method:      http.MethodDelete,
		Path:        "/items/{id}",
		Summary:     "Delete item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorScope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteItem(ctx, input.ID, actor.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerBoard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/pipelines/{pipeline_id}/board",
		Summary:     "Bucketed board view",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PipelineID int64 `path:"pipeline_id"`
	}) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		actor, authErr := actorScope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		board, err := e.Board(ctx, input.PipelineID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: boardResponse(board)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-metrics",
		Method:      http.MethodGet,
		Path:        "/metrics/daily",
		Summary:     "Daily count and commission",
	}, func(ctx context.Context, input *struct {
		PipelineID int64 `query:"pipeline_id"`
	}) (*struct {
		Body MetricsResponse `json:"body"`
	}, error) {
		actor, authErr := actorScope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Metrics(ctx, input.PipelineID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MetricsResponse `json:"body"`
		}{Body: metricsResponse(m)}, nil
	})
}

func registerProducts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-product",
		Method:        http.MethodPost,
		Path:          "/products",
		Summary:       "Create product",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body ProductRequest `json:"body"`
	}) (*struct {
		Body ProductResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Nom == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "nom is required", nil)
		}
		actor, authErr := requireUnrestricted(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProduct(ctx, engine.ProductOptions{
			ID:          stringOrEmpty(input.Body.ID),
			Nom:         input.Body.Nom,
			PrixVente:   stringOrEmpty(input.Body.PrixVente),
			Image:       stringOrEmpty(input.Body.Image),
			Stock:       input.Body.Stock,
			AlerteStock: input.Body.AlerteStock,
			ActorID:     actor.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProductResponse `json:"body"`
		}{Body: productResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-products",
		Method:      http.MethodGet,
		Path:        "/products",
		Summary:     "List products",
	}, func(ctx context.Context, input *struct {
		LowStock bool `query:"low_stock"`
	}) (*struct {
		Body []ProductResponse `json:"body"`
	}, error) {
		if _, authErr := actorScope(ctx); authErr != nil {
			return nil, authErr
		}
		var (
			items []domain.Product
			err   error
		)
		if input.LowStock {
			items, err = e.Repo.ListLowStock(ctx)
		} else {
			items, err = e.Repo.ListProducts(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProductResponse `json:"body"`
		}{Body: mapProducts(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-product",
		Method:      http.MethodGet,
		Path:        "/products/{id}",
		Summary:     "Get product",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProductResponse `json:"body"`
	}, error) {
		if _, authErr := actorScope(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProduct(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProductResponse `json:"body"`
		}{Body: productResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-product",
		Method:      http.MethodPatch,
		Path:        "/products/{id}",
		Summary:     "Update product",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body ProductRequest `json:"body"`
	}) (*struct {
		Body ProductResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := requireUnrestricted(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProduct(ctx, engine.ProductOptions{
			ID:          input.ID,
			Nom:         input.Body.Nom,
			PrixVente:   stringOrEmpty(input.Body.PrixVente),
			Image:       stringOrEmpty(input.Body.Image),
			Stock:       input.Body.Stock,
			AlerteStock: input.Body.AlerteStock,
			ActorID:     actor.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProductResponse `json:"body"`
		}{Body: productResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-product",
		Method:      http.MethodDelete,
		Path:        "/products/{id}",
		Summary:     "Delete product",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := requireUnrestricted(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProduct(ctx, input.ID, actor.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := requireUnrestricted(ctx, e); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if _, authErr := requireUnrestricted(ctx, e); authErr != nil {
			return nil, authErr
		}
		raw, key, err := GenerateAPIKey(input.Body.ActorID, stringOrEmpty(input.Body.Name), input.Body.Roles)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		resp := apiKeyResponse(key)
		resp.Key = raw // returned once, only the hash is stored
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := requireUnrestricted(ctx, e); authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := requireUnrestricted(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		targets, unrestricted := e.Config.AllowedTargets(p.Roles)
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{
			ActorID:      p.ActorID,
			Roles:        p.Roles,
			Source:       p.Source,
			Unrestricted: unrestricted,
			Targets:      targets,
		}}, nil
	})
}
