package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"clearline/internal/audit"
	"clearline/internal/catalog"
	"clearline/internal/domain"
	"clearline/internal/repo"
	"clearline/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *workflow.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"insufficient permission level"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Clearline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Clearline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerShipments(group, cfg.Engine)
	registerSteps(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerAudit(group, router, basePath, cfg.Engine)

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
	var authErr workflow.AuthorizationError
	if errors.As(err, &authErr) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{
			"reason":     string(authErr.Reason),
			"capability": string(authErr.Capability),
		})
	}
	var nf workflow.NotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var dep workflow.DependencyNotSatisfiedError
	if errors.As(err, &dep) {
		return newAPIError(http.StatusConflict, "dependency_not_satisfied", err.Error(), map[string]any{
			"step":    dep.StepNumber,
			"missing": dep.Missing,
		})
	}
	var ve catalog.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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

type shipmentPath struct {
	ShipmentID string `path:"shipment_id"`
}

func registerShipments(api huma.API, e *workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-shipment",
		Method:        http.MethodPost,
		Path:          "/shipments",
		Summary:       "Create shipment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ShipmentNumber   string  `json:"shipment_number"`
			Principal        string  `json:"principal,omitempty"`
			Brand            string  `json:"brand,omitempty"`
			LCNumber         string  `json:"lc_number,omitempty"`
			InvoiceAmountOMR float64 `json:"invoice_amount_omr,omitempty"`
			ETA              string  `json:"eta" format:"date"`
		} `json:"body"`
	}) (*struct {
		Body domain.Shipment `json:"body"`
	}, error) {
		u, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateShipment(ctx, u, workflow.CreateShipmentOptions{
			ShipmentNumber:   input.Body.ShipmentNumber,
			Principal:        input.Body.Principal,
			Brand:            input.Body.Brand,
			LCNumber:         input.Body.LCNumber,
			InvoiceAmountOMR: input.Body.InvoiceAmountOMR,
			ETA:              input.Body.ETA,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Shipment `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-shipments",
		Method:      http.MethodGet,
		Path:        "/shipments",
		Summary:     "List shipments",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Shipment `json:"body"`
	}, error) {
		items, err := e.ListShipments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Shipment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-shipment",
		Method:      http.MethodGet,
		Path:        "/shipments/{shipment_id}",
		Summary:     "Get shipment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *shipmentPath) (*struct {
		Body domain.Shipment `json:"body"`
	}, error) {
		s, err := e.GetShipment(ctx, input.ShipmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Shipment `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-shipment",
		Method:      http.MethodPatch,
		Path:        "/shipments/{shipment_id}",
		Summary:     "Update shipment",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ShipmentID string `path:"shipment_id"`
		Body       struct {
			ETA       *string `json:"eta,omitempty" format:"date"`
			Principal *string `json:"principal,omitempty"`
			Brand     *string `json:"brand,omitempty"`
			LCNumber  *string `json:"lc_number,omitempty"`
			Cancel    bool    `json:"cancel,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Shipment `json:"body"`
	}, error) {
		u, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateShipment(ctx, u, input.ShipmentID, workflow.UpdateShipmentOptions{
			ETA:       input.Body.ETA,
			Principal: input.Body.Principal,
			Brand:     input.Body.Brand,
			LCNumber:  input.Body.LCNumber,
			Cancel:    input.Body.Cancel,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Shipment `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-shipment",
		Method:      http.MethodDelete,
		Path:        "/shipments/{shipment_id}",
		Summary:     "Delete shipment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *shipmentPath) (*struct{}, error) {
		u, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteShipment(ctx, u, input.ShipmentID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-cancel-shipments",
		Method:      http.MethodPost,
		Path:        "/shipments/bulk-cancel",
		Summary:     "Cancel multiple shipments",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body struct {
			IDs []string `json:"ids"`
		} `json:"body"`
	}) (*struct{}, error) {
		u, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.BulkCancelShipments(ctx, u, input.Body.IDs); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-delete-shipments",
		Method:      http.MethodPost,
		Path:        "/shipments/bulk-delete",
		Summary:     "Delete multiple shipments",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body struct {
			IDs []string `json:"ids"`
		} `json:"body"`
	}) (*struct{}, error) {
		u, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.BulkDeleteShipments(ctx, u, input.Body.IDs); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSteps(api huma.API, e *workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workflow-steps",
		Method:      http.MethodGet,
		Path:        "/shipments/{shipment_id}/steps",
		Summary:     "List workflow steps with derived statuses",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *shipmentPath) (*struct {
		Body []domain.StepInstance `json:"body"`
	}, error) {
		steps, err := e.GetWorkflowSteps(ctx, input.ShipmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StepInstance `json:"body"`
		}{Body: steps}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-step",
		Method:      http.MethodPost,
		Path:        "/shipments/{shipment_id}/steps/{step_number}/complete",
		Summary:     "Complete a workflow step",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ShipmentID string `path:"shipment_id"`
		StepNumber string `path:"step_number"`
		Body       struct {
			ActualDate string         `json:"actual_date,omitempty" format:"date"`
			Notes      string         `json:"notes,omitempty"`
			Data       map[string]any `json:"data,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body workflow.CompleteResult `json:"body"`
	}, error) {
		u, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CompleteStep(ctx, u, input.ShipmentID, input.StepNumber, workflow.CompleteStepOptions{
			ActualDate: input.Body.ActualDate,
			Notes:      input.Body.Notes,
			Data:       input.Body.Data,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body workflow.CompleteResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-step",
		Method:      http.MethodPost,
		Path:        "/shipments/{shipment_id}/steps/{step_number}/start",
		Summary:     "Start a workflow step",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShipmentID string `path:"shipment_id"`
		StepNumber string `path:"step_number"`
	}) (*struct {
		Body domain.StepInstance `json:"body"`
	}, error) {
		u, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.StartStep(ctx, u, input.ShipmentID, input.StepNumber)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StepInstance `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "block-step",
		Method:      http.MethodPost,
		Path:        "/shipments/{shipment_id}/steps/{step_number}/block",
		Summary:     "Mark a workflow step blocked",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ShipmentID string `path:"shipment_id"`
		StepNumber string `path:"step_number"`
		Body       struct {
			Reason string `json:"reason"`
		} `json:"body"`
	}) (*struct {
		Body domain.StepInstance `json:"body"`
	}, error) {
		u, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.BlockStep(ctx, u, input.ShipmentID, input.StepNumber, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StepInstance `json:"body"`
		}{Body: st}, nil
	})
}

func registerDocuments(api huma.API, e *workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "upload-document",
		Method:        http.MethodPost,
		Path:          "/shipments/{shipment_id}/documents",
		Summary:       "Attach a document reference",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ShipmentID string `path:"shipment_id"`
		Body       struct {
			StepNumber string `json:"step_number,omitempty"`
			Filename   string `json:"filename"`
		} `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		u, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.UploadDocument(ctx, u, input.ShipmentID, input.Body.StepNumber, input.Body.Filename)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/shipments/{shipment_id}/documents",
		Summary:     "List documents for a shipment",
	}, func(ctx context.Context, input *shipmentPath) (*struct {
		Body []domain.Document `json:"body"`
	}, error) {
		items, err := e.ListDocuments(ctx, input.ShipmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Document `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/documents/{document_id}",
		Summary:     "Delete a document reference",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct{}, error) {
		u, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteDocument(ctx, u, input.DocumentID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type auditQuery struct {
	UserID     string `query:"user_id"`
	Action     string `query:"action"`
	Resource   string `query:"resource"`
	ResourceID string `query:"resource_id"`
	DateStart  string `query:"date_start"`
	DateEnd    string `query:"date_end"`
	UserLevel  int    `query:"user_level"`
}

func (q auditQuery) filters() audit.Filters {
	return audit.Filters{
		UserID:     q.UserID,
		Action:     audit.Action(q.Action),
		Resource:   q.Resource,
		ResourceID: q.ResourceID,
		DateStart:  q.DateStart,
		DateEnd:    q.DateEnd,
		UserLevel:  domain.PermissionLevel(q.UserLevel),
	}
}

func registerAudit(api huma.API, router chi.Router, basePath string, e *workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "query-audit-logs",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Query the audit ledger",
	}, func(ctx context.Context, input *auditQuery) (*struct {
		Body []audit.Entry `json:"body"`
	}, error) {
		u, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body []audit.Entry `json:"body"`
		}{Body: e.GetAuditLogs(u, input.filters())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-audit-trail",
		Method:      http.MethodGet,
		Path:        "/audit/trail/{resource}/{resource_id}",
		Summary:     "Change history of one resource, newest first",
	}, func(ctx context.Context, input *struct {
		Resource   string `path:"resource"`
		ResourceID string `path:"resource_id"`
	}) (*struct {
		Body []audit.Entry `json:"body"`
	}, error) {
		u, authErr := requireUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body []audit.Entry `json:"body"`
		}{Body: e.GetResourceAuditTrail(u, input.Resource, input.ResourceID)}, nil
	})

	// CSV export bypasses huma so the response stays text/csv.
	router.Get(basePath+"/audit/export", func(w http.ResponseWriter, r *http.Request) {
		u, authErr := requireUser(r.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		q := r.URL.Query()
		f := audit.Filters{
			UserID:     q.Get("user_id"),
			Action:     audit.Action(q.Get("action")),
			Resource:   q.Get("resource"),
			ResourceID: q.Get("resource_id"),
			DateStart:  q.Get("date_start"),
			DateEnd:    q.Get("date_end"),
		}
		delimiter := ','
		if d := q.Get("delimiter"); d != "" {
			delimiter = rune(d[0])
		}
		out, err := e.ExportAuditLogs(u, f, delimiter)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="audit_logs.csv"`)
		_, _ = w.Write([]byte(out))
	})
}
