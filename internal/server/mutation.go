package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/raphaelgruber/datahub-gate/internal/ingest"
	"github.com/raphaelgruber/datahub-gate/internal/service"
)

// authFailed is the body returned for every refused mutation.
const authFailed = "Authentication Failed"

// target is the part shared by every mutation request body.
type target struct {
	DatasetName string `json:"dataset_name"`
	Requestor   string `json:"requestor"`
	UserToken   string `json:"user_token"`
}

// auth prefers the Authorization header over the user_token field.
func (t target) auth(r *http.Request) service.Auth {
	tok := t.UserToken
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tok = h
	}
	return service.Auth{Requestor: t.Requestor, Token: tok}
}

type browsePathRequest struct {
	target
	BrowsePaths []string `json:"browsePaths"`
}

type schemaRequest struct {
	target
	Fields []service.SchemaFieldInput `json:"dataset_fields"`
}

type propertiesRequest struct {
	target
	Description string             `json:"description"`
	Properties  []service.Property `json:"properties"`
}

type statusRequest struct {
	target
	DesiredState *bool `json:"desired_state"`
}

type containerRequest struct {
	target
	Container string `json:"container"`
}

type nameRequest struct {
	target
	Name string `json:"name"`
}

type samplesRequest struct {
	target
	Samples   map[string][]string `json:"samples"`
	Timestamp int64               `json:"timestamp"`
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: malformed request body: %v", service.ErrInvalidRequest, err)
	}
	return nil
}

// mutationStatus maps a mutation error to its status. Upstream failures
// surface as 500.
func mutationStatus(err error) int {
	if errors.Is(err, ingest.ErrUpstream) {
		return http.StatusInternalServerError
	}
	return statusFor(err)
}

// mutate decodes the request into req and runs apply.
func mutate[T any](w http.ResponseWriter, r *http.Request, apply func(req *T) (*service.MutationResult, error)) {
	var req T
	if err := decode(r, &req); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	res, err := apply(&req)
	if err != nil {
		status := mutationStatus(err)
		msg := err.Error()
		if status == http.StatusUnauthorized {
			msg = authFailed
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleUpdateBrowsePath(svc *service.MutationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mutate(w, r, func(req *browsePathRequest) (*service.MutationResult, error) {
			return svc.UpdateBrowsePaths(r.Context(), req.auth(r), req.DatasetName, req.BrowsePaths)
		})
	}
}

func (s *Server) handleUpdateSchema(svc *service.MutationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mutate(w, r, func(req *schemaRequest) (*service.MutationResult, error) {
			return svc.UpdateSchema(r.Context(), req.auth(r), req.DatasetName, req.Fields)
		})
	}
}

func (s *Server) handleUpdateProperties(svc *service.MutationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mutate(w, r, func(req *propertiesRequest) (*service.MutationResult, error) {
			return svc.UpdateProperties(r.Context(), req.auth(r), req.DatasetName, req.Description, req.Properties)
		})
	}
}

func (s *Server) handleUpdateStatus(svc *service.MutationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mutate(w, r, func(req *statusRequest) (*service.MutationResult, error) {
			if req.DesiredState == nil {
				return nil, fmt.Errorf("%w: desired_state is required", service.ErrInvalidRequest)
			}
			return svc.UpdateStatus(r.Context(), req.auth(r), req.DatasetName, *req.DesiredState)
		})
	}
}

func (s *Server) handleUpdateContainer(svc *service.MutationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mutate(w, r, func(req *containerRequest) (*service.MutationResult, error) {
			return svc.UpdateContainer(r.Context(), req.auth(r), req.DatasetName, req.Container)
		})
	}
}

func (s *Server) handleUpdateName(svc *service.MutationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mutate(w, r, func(req *nameRequest) (*service.MutationResult, error) {
			return svc.UpdateName(r.Context(), req.auth(r), req.DatasetName, req.Name)
		})
	}
}

func (s *Server) handleUpdateSamples(svc *service.MutationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mutate(w, r, func(req *samplesRequest) (*service.MutationResult, error) {
			return svc.UpdateSamples(r.Context(), req.auth(r), req.DatasetName, req.Samples, req.Timestamp)
		})
	}
}

func (s *Server) handleMakeDataset(svc *service.MutationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mutate(w, r, func(req *service.MakeDatasetRequest) (*service.MutationResult, error) {
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				req.UserToken = h
			}
			return svc.MakeDataset(r.Context(), *req)
		})
	}
}
