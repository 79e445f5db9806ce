package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/overlay_agent/internal/audit"
	"github.com/dgnsrekt/overlay_agent/internal/overlay"
	"github.com/dgnsrekt/overlay_agent/internal/relay"
	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// Coordinator is the read and lifecycle surface of the overlay coordinator.
type Coordinator interface {
	State() overlay.State
	InlineMenuCiphers() []overlay.CipherHandle
	PageDetails(tabID int) []types.PageDetails
	SubFrameOffsets(tabID int) map[int]*types.SubFrameOffset
	UnlockCompleted(ctx context.Context)
	VaultLocked(ctx context.Context)
}

type Vault interface {
	Status(ctx context.Context) (types.AuthStatus, error)
	Unlock(ctx context.Context, password string) error
	Lock()
	ConfirmReprompt(ctx context.Context, id, password string) error
}

// Deps wires the server. Events, Extension and Audit are optional.
type Deps struct {
	Overlay     Coordinator
	Vault       Vault
	Audit       overlay.Auditor
	Events      *relay.Broker
	Extension   http.Handler
	Connections func() int
}

type tabIDInput struct {
	TabID int `path:"tab_id" minimum:"0" doc:"Browser tab id"`
}

func NewServer(d Deps) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Overlay Daemon API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if d.Events != nil {
		router.Get("/events", relay.SSEHandler(d.Events))
	}
	if d.Extension != nil {
		router.Handle("/ws/extension", d.Extension)
	}

	registerHealthHandlers(api, d)
	registerOverlayHandlers(api, d)
	registerVaultHandlers(api, d)

	return router
}

func registerHealthHandlers(api huma.API, d Deps) {
	type healthOutput struct {
		Body struct {
			Status     string `json:"status"`
			AuthStatus string `json:"auth_status"`
			Extensions int    `json:"extensions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			status, err := d.Vault.Status(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out.Body.AuthStatus = status.String()
			if d.Connections != nil {
				out.Body.Extensions = d.Connections()
			}
			return out, nil
		})
}

type subFrameEntry struct {
	FrameID int                   `json:"frame_id"`
	Offset  *types.SubFrameOffset `json:"offset" doc:"Null while the offset is being computed"`
}

func registerOverlayHandlers(api huma.API, d Deps) {
	type stateOutput struct {
		Body struct {
			overlay.State
			Ciphers []overlay.CipherHandle `json:"ciphers"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-state", Method: http.MethodGet, Path: "/api/v1/state", Summary: "Inspect coordinator state", Tags: []string{"Overlay"}},
		func(ctx context.Context, input *struct{}) (*stateOutput, error) {
			out := &stateOutput{}
			out.Body.State = d.Overlay.State()
			out.Body.Ciphers = d.Overlay.InlineMenuCiphers()
			return out, nil
		})

	type pageDetailsOutput struct {
		Body struct {
			TabID  int                 `json:"tab_id"`
			Frames []types.PageDetails `json:"frames"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-page-details", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/page-details", Summary: "List stored page details for a tab", Tags: []string{"Overlay"}},
		func(ctx context.Context, input *tabIDInput) (*pageDetailsOutput, error) {
			out := &pageDetailsOutput{}
			out.Body.TabID = input.TabID
			out.Body.Frames = d.Overlay.PageDetails(input.TabID)
			if out.Body.Frames == nil {
				out.Body.Frames = []types.PageDetails{}
			}
			return out, nil
		})

	type subFramesOutput struct {
		Body struct {
			TabID  int             `json:"tab_id"`
			Frames []subFrameEntry `json:"frames"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-sub-frames", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/sub-frames", Summary: "List cached sub-frame offsets for a tab", Tags: []string{"Overlay"}},
		func(ctx context.Context, input *tabIDInput) (*subFramesOutput, error) {
			out := &subFramesOutput{}
			out.Body.TabID = input.TabID
			out.Body.Frames = []subFrameEntry{}
			for frameID, off := range d.Overlay.SubFrameOffsets(input.TabID) {
				out.Body.Frames = append(out.Body.Frames, subFrameEntry{FrameID: frameID, Offset: off})
			}
			sort.Slice(out.Body.Frames, func(i, j int) bool { return out.Body.Frames[i].FrameID < out.Body.Frames[j].FrameID })
			return out, nil
		})
}

type authStatusOutput struct {
	Body struct {
		AuthStatus string `json:"auth_status"`
	}
}

func registerVaultHandlers(api huma.API, d Deps) {
	record := func(event string) {
		if d.Audit != nil {
			d.Audit.Record(event, 0, 0, "")
		}
	}
	status := func(ctx context.Context) (*authStatusOutput, error) {
		st, err := d.Vault.Status(ctx)
		if err != nil {
			return nil, mapErr(err)
		}
		out := &authStatusOutput{}
		out.Body.AuthStatus = st.String()
		return out, nil
	}

	huma.Register(api, huma.Operation{OperationID: "vault-status", Method: http.MethodGet, Path: "/api/v1/vault", Summary: "Vault auth status", Tags: []string{"Vault"}},
		func(ctx context.Context, input *struct{}) (*authStatusOutput, error) {
			return status(ctx)
		})

	type unlockInput struct {
		Body struct {
			Password string `json:"password" minLength:"1"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "vault-unlock", Method: http.MethodPost, Path: "/api/v1/vault/unlock", Summary: "Unlock the vault", Tags: []string{"Vault"}},
		func(ctx context.Context, input *unlockInput) (*authStatusOutput, error) {
			if err := d.Vault.Unlock(ctx, input.Body.Password); err != nil {
				slog.Warn("vault unlock rejected", "error", err)
				return nil, mapErr(err)
			}
			record(audit.EventUnlock)
			d.Overlay.UnlockCompleted(context.WithoutCancel(ctx))
			return status(ctx)
		})

	huma.Register(api, huma.Operation{OperationID: "vault-lock", Method: http.MethodPost, Path: "/api/v1/vault/lock", Summary: "Lock the vault", Tags: []string{"Vault"}},
		func(ctx context.Context, input *struct{}) (*authStatusOutput, error) {
			d.Vault.Lock()
			record(audit.EventLock)
			d.Overlay.VaultLocked(context.WithoutCancel(ctx))
			return status(ctx)
		})

	type repromptInput struct {
		CipherID string `path:"cipher_id"`
		Body     struct {
			Password string `json:"password" minLength:"1"`
		}
	}
	type repromptOutput struct {
		Body struct {
			CipherID string `json:"cipher_id"`
			Status   string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "vault-confirm-reprompt", Method: http.MethodPost, Path: "/api/v1/vault/ciphers/{cipher_id}/reprompt", Summary: "Confirm the master password for a reprompt-protected cipher", Tags: []string{"Vault"}},
		func(ctx context.Context, input *repromptInput) (*repromptOutput, error) {
			if err := d.Vault.ConfirmReprompt(ctx, input.CipherID, input.Body.Password); err != nil {
				return nil, mapErr(err)
			}
			out := &repromptOutput{}
			out.Body.CipherID = input.CipherID
			out.Body.Status = "confirmed"
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *types.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case types.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case types.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case types.CodeLocked:
			return huma.NewError(http.StatusLocked, coded.Message)
		case types.CodeTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case types.CodeTransportUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
