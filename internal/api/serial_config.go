package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/refuseworks/binsort/internal/db"
	"github.com/refuseworks/binsort/internal/httputil"
)

// SerialConfigRequest represents the request body for creating/updating serial configs
type SerialConfigRequest struct {
	Name            string `json:"name"`
	PortPath        string `json:"port_path"`
	BaudRate        int    `json:"baud_rate"`
	DataBits        int    `json:"data_bits"`
	StopBits        int    `json:"stop_bits"`
	Parity          string `json:"parity"`
	Enabled         bool   `json:"enabled"`
	Description     string `json:"description"`
	ControllerModel string `json:"controller_model"`
}

// validate checks required fields and fills unset serial parameters with the
// model's defaults.
func (req *SerialConfigRequest) validate() error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.PortPath == "" {
		return fmt.Errorf("port_path is required")
	}
	if !isValidPortPath(req.PortPath) {
		return fmt.Errorf("invalid port path: must start with /dev/tty or /dev/serial")
	}

	model, ok := GetControllerModel(req.ControllerModel)
	if !ok {
		return fmt.Errorf("unsupported controller model: %s", req.ControllerModel)
	}

	if req.BaudRate == 0 {
		req.BaudRate = model.DefaultBaudRate
	}
	if req.DataBits == 0 {
		req.DataBits = 8
	}
	if req.StopBits == 0 {
		req.StopBits = 1
	}
	if req.Parity == "" {
		req.Parity = "N"
	}
	return nil
}

func (req *SerialConfigRequest) toDBConfig(id int) *db.SerialConfig {
	return &db.SerialConfig{
		ID:              id,
		Name:            req.Name,
		PortPath:        req.PortPath,
		BaudRate:        req.BaudRate,
		DataBits:        req.DataBits,
		StopBits:        req.StopBits,
		Parity:          req.Parity,
		Enabled:         req.Enabled,
		Description:     req.Description,
		ControllerModel: req.ControllerModel,
	}
}

// handleSerialConfigsOrCreate handles GET and POST to /api/serial-configs
func (s *Server) handleSerialConfigsOrCreate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleSerialConfigs(w, r)
	case http.MethodPost:
		s.handleCreateSerialConfig(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleSerialConfigs handles GET /api/serial-configs - List all serial configurations
func (s *Server) handleSerialConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.db.GetSerialConfigs()
	if err != nil {
		log.Printf("Error fetching serial configs: %v", err)
		httputil.InternalServerError(w, "Failed to fetch serial configurations")
		return
	}

	httputil.WriteJSONOK(w, configs)
}

// handleSerialConfigByID handles GET/PUT/DELETE /api/serial-configs/:id
func (s *Server) handleSerialConfigByID(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/serial-configs/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		httputil.BadRequest(w, "Missing config ID")
		return
	}

	id, err := strconv.Atoi(pathParts[0])
	if err != nil {
		httputil.BadRequest(w, "Invalid config ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetSerialConfig(w, r, id)
	case http.MethodPut:
		s.handleUpdateSerialConfig(w, r, id)
	case http.MethodDelete:
		s.handleDeleteSerialConfig(w, r, id)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleGetSerialConfig handles GET /api/serial-configs/:id
func (s *Server) handleGetSerialConfig(w http.ResponseWriter, r *http.Request, id int) {
	config, err := s.db.GetSerialConfig(id)
	if err != nil {
		log.Printf("Error fetching serial config %d: %v", id, err)
		httputil.InternalServerError(w, "Failed to fetch serial configuration")
		return
	}

	if config == nil {
		httputil.NotFound(w, "Configuration not found")
		return
	}

	httputil.WriteJSONOK(w, config)
}

// handleCreateSerialConfig handles POST /api/serial-configs
func (s *Server) handleCreateSerialConfig(w http.ResponseWriter, r *http.Request) {
	var req SerialConfigRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	id, err := s.db.CreateSerialConfig(req.toDBConfig(0))
	if err != nil {
		log.Printf("Error creating serial config: %v", err)
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			httputil.WriteJSONError(w, http.StatusConflict, "Configuration with this name already exists")
			return
		}
		httputil.InternalServerError(w, "Failed to create serial configuration")
		return
	}

	created, err := s.db.GetSerialConfig(int(id))
	if err != nil {
		log.Printf("Error fetching created config: %v", err)
		httputil.InternalServerError(w, "Configuration created but failed to fetch")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, created)
}

// handleUpdateSerialConfig handles PUT /api/serial-configs/:id
func (s *Server) handleUpdateSerialConfig(w http.ResponseWriter, r *http.Request, id int) {
	var req SerialConfigRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if err := s.db.UpdateSerialConfig(req.toDBConfig(id)); err != nil {
		log.Printf("Error updating serial config %d: %v", id, err)
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Configuration not found")
			return
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			httputil.WriteJSONError(w, http.StatusConflict, "Configuration with this name already exists")
			return
		}
		httputil.InternalServerError(w, "Failed to update serial configuration")
		return
	}

	updated, err := s.db.GetSerialConfig(id)
	if err != nil {
		log.Printf("Error fetching updated config: %v", err)
		httputil.InternalServerError(w, "Configuration updated but failed to fetch")
		return
	}

	httputil.WriteJSONOK(w, updated)
}

// handleDeleteSerialConfig handles DELETE /api/serial-configs/:id
func (s *Server) handleDeleteSerialConfig(w http.ResponseWriter, r *http.Request, id int) {
	if err := s.db.DeleteSerialConfig(id); err != nil {
		log.Printf("Error deleting serial config %d: %v", id, err)
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "Configuration not found")
			return
		}
		httputil.InternalServerError(w, "Failed to delete serial configuration")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleControllerModels handles GET /api/serial/models - List all controller models
func (s *Server) handleControllerModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	httputil.WriteJSONOK(w, GetAllControllerModels())
}

// isValidPortPath validates that a port path is in an allowed format
func isValidPortPath(path string) bool {
	return strings.HasPrefix(path, "/dev/tty") || strings.HasPrefix(path, "/dev/serial")
}
