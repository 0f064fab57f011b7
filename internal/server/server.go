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
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"weekplan/internal/domain"
	"weekplan/internal/engine"
	"weekplan/internal/engine/auth"
	"weekplan/internal/ics"
	"weekplan/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task 42 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"date\"}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the weekplan API.
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
	keys := auth.Service{DB: cfg.Engine.DB, Now: cfg.Engine.Now}
	router.Use(newAuthMiddleware(basePath, cfg.Auth, keys))
	hcfg := huma.DefaultConfig("weekplan API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	for _, kind := range domain.Kinds {
		registerItems(group, cfg.Engine, kind)
	}
	registerWeek(group, cfg.Engine)
	registerToday(group, cfg.Engine)
	registerUpcoming(group, cfg.Engine)
	registerMonth(group, cfg.Engine)
	registerCalendar(group, cfg.Engine)
	registerChanges(group, cfg.Engine)
	registerMe(group)
	registerAPIKeys(group, keys)
	registerToken(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var de *domain.DataError
	if errors.As(err, &de) {
		return newAPIError(http.StatusBadRequest, "invalid_item", err.Error(), map[string]any{"item_id": de.ItemID, "field": de.Field, "reason": de.Reason})
	}
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"id": nf.ID})
	}
	var syncErr *domain.SyncError
	if errors.As(err, &syncErr) {
		return newAPIError(http.StatusBadGateway, "sync_failed", err.Error(), map[string]any{"op": syncErr.Op})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrDuplicateID):
		return newAPIError(http.StatusConflict, "duplicate_id", err.Error(), nil)
	case errors.Is(err, auth.ErrInvalidKey):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func badRequest(msg string, details map[string]any) huma.StatusError {
	return newAPIError(http.StatusBadRequest, "bad_request", msg, details)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusBadGateway:
		return "sync_failed"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	docPath := path.Join(basePath, "openapi.json")
	r.Get(docPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
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
    <title>weekplan API Docs</title>
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

type itemOutput struct {
	Body domain.ItemJSON `json:"body"`
}

// registerItems mounts the CRUD routes of one kind under /tasks or /events.
func registerItems(api huma.API, e engine.Engine, kind domain.Kind) {
	plural := kind.Plural()
	base := "/" + plural
	loc := e.Config.LocationOrLocal()

	huma.Register(api, huma.Operation{
		OperationID: "list-" + plural,
		Method:      http.MethodGet,
		Path:        base,
		Summary:     "List " + plural,
		Tags:        []string{plural},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		From   string `query:"from" doc:"Only items dated at or after"`
		To     string `query:"to" doc:"Only items dated before"`
		Status string `query:"status"`
		Tag    string `query:"tag"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.ItemJSON `json:"body"`
	}, error) {
		f := repo.ItemFilter{Kind: kind, Tag: input.Tag, Limit: input.Limit}
		if input.Status != "" {
			f.Status = domain.ParseStatus(input.Status)
		}
		var err error
		if f.From, err = optionalDate(input.From, loc); err != nil {
			return nil, badRequest("invalid from", map[string]any{"from": input.From})
		}
		if f.To, err = optionalDate(input.To, loc); err != nil {
			return nil, badRequest("invalid to", map[string]any{"to": input.To})
		}
		items, err := e.ListItems(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ItemJSON `json:"body"`
		}{Body: itemResponses(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-" + string(kind),
		Method:        http.MethodPost,
		Path:          base,
		Summary:       "Create " + string(kind),
		Tags:          []string{plural},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body ItemRequest `json:"body"`
	}) (*itemOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, badRequest("body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := input.Body.wire(kind).Decode(loc)
		if err != nil {
			return nil, handleError(err)
		}
		created, err := e.CreateItem(ctx, engine.OptionsFromItem(it, actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &itemOutput{Body: domain.ToJSON(created)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-" + string(kind),
		Method:      http.MethodGet,
		Path:        base + "/{id}",
		Summary:     "Get " + string(kind),
		Tags:        []string{plural},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*itemOutput, error) {
		it, err := e.GetItem(ctx, kind, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemOutput{Body: domain.ToJSON(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-" + string(kind),
		Method:      http.MethodPut,
		Path:        base + "/{id}",
		Summary:     "Replace " + string(kind),
		Description: "Every field is overwritten; omitted optional fields are cleared.",
		Tags:        []string{plural},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body ItemRequest `json:"body"`
	}) (*itemOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		wire := input.Body.wire(kind)
		wire.ID = input.ID
		it, err := wire.Decode(loc)
		if err != nil {
			return nil, handleError(err)
		}
		updated, err := e.ReplaceItem(ctx, engine.OptionsFromItem(it, actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &itemOutput{Body: domain.ToJSON(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-" + string(kind) + "-status",
		Method:      http.MethodPatch,
		Path:        base + "/{id}/status",
		Summary:     "Set " + string(kind) + " status",
		Tags:        []string{plural},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body StatusRequest `json:"body"`
	}) (*itemOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Status) == "" {
			return nil, badRequest("status is required", map[string]any{"field": "status"})
		}
		it, err := e.SetStatus(ctx, kind, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemOutput{Body: domain.ToJSON(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-" + string(kind),
		Method:        http.MethodDelete,
		Path:          base + "/{id}",
		Summary:       "Delete " + string(kind),
		Tags:          []string{plural},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteItem(ctx, kind, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerWeek(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "week",
		Method:      http.MethodGet,
		Path:        "/week",
		Summary:     "Render one week as a grid of hour slots",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Kind   string `query:"kind" doc:"task or event; both when empty"`
		Date   string `query:"date" doc:"Any moment inside the week; now when empty"`
		Offset int    `query:"offset" doc:"Whole weeks to move from date"`
	}) (*struct {
		Body WeekResponse `json:"body"`
	}, error) {
		kinds, err := kindsParam(input.Kind)
		if err != nil {
			return nil, badRequest(err.Error(), map[string]any{"kind": input.Kind})
		}
		date, err := optionalDate(input.Date, e.Config.LocationOrLocal())
		if err != nil {
			return nil, badRequest("invalid date", map[string]any{"date": input.Date})
		}
		g, err := e.Week(ctx, engine.WeekOptions{Kinds: kinds, Date: date, Offset: input.Offset})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WeekResponse `json:"body"`
		}{Body: weekResponse(g)}, nil
	})
}

func registerToday(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "today",
		Method:      http.MethodGet,
		Path:        "/today",
		Summary:     "Items on the current calendar day",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Kind string `query:"kind"`
	}) (*struct {
		Body []domain.ItemJSON `json:"body"`
	}, error) {
		kinds, err := kindsParam(input.Kind)
		if err != nil {
			return nil, badRequest(err.Error(), map[string]any{"kind": input.Kind})
		}
		var items []domain.Item
		for _, k := range kinds {
			got, err := e.Today(ctx, k)
			if err != nil {
				return nil, handleError(err)
			}
			items = append(items, got...)
		}
		return &struct {
			Body []domain.ItemJSON `json:"body"`
		}{Body: itemResponses(items)}, nil
	})
}

func registerUpcoming(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upcoming",
		Method:      http.MethodGet,
		Path:        "/upcoming",
		Summary:     "Items from the start of today on, in date order",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Kind string `query:"kind"`
		Days int    `query:"days" default:"7" minimum:"0" doc:"Calendar days to cover; 0 for no limit"`
	}) (*struct {
		Body []domain.ItemJSON `json:"body"`
	}, error) {
		kinds, err := kindsParam(input.Kind)
		if err != nil {
			return nil, badRequest(err.Error(), map[string]any{"kind": input.Kind})
		}
		var items []domain.Item
		for _, k := range kinds {
			got, err := e.Upcoming(ctx, k, input.Days)
			if err != nil {
				return nil, handleError(err)
			}
			items = append(items, got...)
		}
		sort.SliceStable(items, func(i, j int) bool { return items[i].Date.Before(items[j].Date) })
		return &struct {
			Body []domain.ItemJSON `json:"body"`
		}{Body: itemResponses(items)}, nil
	})
}

func registerMonth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "month",
		Method:      http.MethodGet,
		Path:        "/month",
		Summary:     "Render a six-week month page with per-day item counts",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Kind   string `query:"kind" doc:"task or event; both when empty"`
		Date   string `query:"date" doc:"Any day of the month; now when empty"`
		Offset int    `query:"offset" doc:"Whole months to move from date"`
		Pick   string `query:"pick" doc:"Select this day and include its week"`
	}) (*struct {
		Body MonthResponse `json:"body"`
	}, error) {
		kinds, err := kindsParam(input.Kind)
		if err != nil {
			return nil, badRequest(err.Error(), map[string]any{"kind": input.Kind})
		}
		loc := e.Config.LocationOrLocal()
		opts := engine.MonthOptions{Kinds: kinds, Offset: input.Offset}
		if opts.Date, err = optionalDate(input.Date, loc); err != nil {
			return nil, badRequest("invalid date", map[string]any{"date": input.Date})
		}
		if opts.Pick, err = optionalDate(input.Pick, loc); err != nil {
			return nil, badRequest("invalid pick", map[string]any{"pick": input.Pick})
		}
		v, err := e.Month(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MonthResponse `json:"body"`
		}{Body: monthResponse(v)}, nil
	})
}

func registerCalendar(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "calendar-ics",
		Method:      http.MethodGet,
		Path:        "/calendar.ics",
		Summary:     "Export items as iCalendar",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Kind string `query:"kind"`
		From string `query:"from"`
		To   string `query:"to"`
	}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		kinds, err := kindsParam(input.Kind)
		if err != nil {
			return nil, badRequest(err.Error(), map[string]any{"kind": input.Kind})
		}
		loc := e.Config.LocationOrLocal()
		f := repo.ItemFilter{}
		if f.From, err = optionalDate(input.From, loc); err != nil {
			return nil, badRequest("invalid from", nil)
		}
		if f.To, err = optionalDate(input.To, loc); err != nil {
			return nil, badRequest("invalid to", nil)
		}
		var items []domain.Item
		for _, k := range kinds {
			f.Kind = k
			got, err := e.ListItems(ctx, f)
			if err != nil {
				return nil, handleError(err)
			}
			items = append(items, got...)
		}
		doc := ics.Export(items, ics.ExportOptions{Name: "weekplan", Timezone: e.Config.Calendar.Timezone, Now: e.Now()})
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: "text/calendar; charset=utf-8", Body: []byte(doc)}, nil
	})
}

func registerChanges(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-changes",
		Method:      http.MethodGet,
		Path:        "/changes",
		Summary:     "List recent changes, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		Kind   string `query:"kind"`
		ItemID string `query:"item_id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedChanges `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		f := repo.ChangeFilter{Type: input.Type, Kind: domain.Kind(input.Kind), ItemID: input.ItemID, Limit: limit + 1}
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, badRequest("invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			f.Before = parsed
		}
		items, err := e.Repo.LatestChanges(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedChanges{Items: []ChangeResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, c := range items {
			resp.Items = append(resp.Items, changeResponse(c))
		}
		return &struct {
			Body paginatedChanges `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: p.ActorID, Source: p.Source}}, nil
	})
}

func registerAPIKeys(api huma.API, keys auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Issue an API key for the caller",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body APIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issued, err := keys.Issue(ctx, actorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: apiKeyResponse(issued)}, nil
	})
}

// registerToken lets an authenticated caller trade its credentials for a
// short-lived bearer token.
func registerToken(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "create-token",
		Method:      http.MethodPost,
		Path:        "/auth/token",
		Summary:     "Mint a JWT for the caller",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body TokenRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(authCfg.JWTSecret) == "" {
			return nil, badRequest("bearer tokens are disabled on this server", nil)
		}
		ttl := 24 * time.Hour
		if input.Body.TTL != "" {
			d, err := time.ParseDuration(input.Body.TTL)
			if err != nil || d <= 0 {
				return nil, badRequest("invalid ttl", map[string]any{"ttl": input.Body.TTL})
			}
			ttl = d
		}
		token, err := signToken(authCfg.JWTSecret, actorID, ttl)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: TokenResponse{Token: token, ExpiresAt: time.Now().Add(ttl).UTC().Format(time.RFC3339)}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}

func kindsParam(s string) ([]domain.Kind, error) {
	if strings.TrimSpace(s) == "" {
		return domain.Kinds, nil
	}
	k, err := domain.ParseKind(s)
	if err != nil {
		return nil, err
	}
	return []domain.Kind{k}, nil
}

func optionalDate(s string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return domain.ParseDate(s, loc)
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
