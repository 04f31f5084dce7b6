package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/MimeLyc/webp-autogen/internal/config"
	"github.com/MimeLyc/webp-autogen/internal/hooks"
	"github.com/MimeLyc/webp-autogen/internal/jobs"
	"github.com/MimeLyc/webp-autogen/internal/persistence"
	"github.com/MimeLyc/webp-autogen/internal/rewrite"
	"github.com/MimeLyc/webp-autogen/internal/service"
)

const (
	ActionConvertedCount = "webp_autogen_get_converted_count"
	ActionConvertBatch   = "webp_autogen_convert_batch"

	maxRenderBody = 8 << 20
)

// ajaxResponse is the success/data envelope of the status action.
type ajaxResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type convertedCount struct {
	Converted int `json:"converted"`
	Total     int `json:"total"`
}

func (s *Server) handleAjax(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch r.FormValue("action") {
	case ActionConvertedCount:
		stats, err := s.svc.Stats(r.Context())
		if err != nil {
			service.LogError(err)
			writeJSON(w, http.StatusInternalServerError, ajaxResponse{Success: false, Data: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, ajaxResponse{
			Success: true,
			Data:    convertedCount{Converted: stats.Converted, Total: stats.Total},
		})
	case ActionConvertBatch:
		res, err := s.svc.RunBatch(r.Context(), persistence.TriggerAjax)
		if err != nil {
			service.LogError(err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	default:
		writeJSON(w, http.StatusBadRequest, ajaxResponse{Success: false, Data: "0"})
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.svc.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	queue := s.svc.Queue()
	if queue == nil {
		writeJSON(w, http.StatusOK, []*jobs.ConversionJob{})
		return
	}
	writeJSON(w, http.StatusOK, queue.List())
}

// handleAttachments runs an uploaded attachment through the metadata chain.
// The metadata comes back unchanged; conversions happen as a side effect.
func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var att hooks.Attachment
	if err := json.NewDecoder(r.Body).Decode(&att); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if att.AttachedFile == "" {
		writeError(w, http.StatusBadRequest, "attached_file is required")
		return
	}

	out := s.hooks.AttachmentMetadata.Apply(r.Context(), att)
	writeJSON(w, http.StatusOK, out.Metadata)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRenderBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	out := s.hooks.Content.Apply(r.Context(), string(body))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, out)
}

func (s *Server) handleImageSrc(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	src := rewrite.ImageSource{URL: q.Get("url")}
	if src.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	src.Width, _ = strconv.Atoi(q.Get("width"))
	src.Height, _ = strconv.Atoi(q.Get("height"))
	src.Intermediate, _ = strconv.ParseBool(q.Get("intermediate"))

	writeJSON(w, http.StatusOK, s.hooks.ImageSrc.Apply(r.Context(), src))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.currentSettings())
	case http.MethodPut:
		var req struct {
			Quality *int `json:"webp_autogen_quality"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.Quality == nil {
			writeError(w, http.StatusBadRequest, config.QualityOptionKey+" is required")
			return
		}
		saved, err := s.saveSettings(config.RuntimeSettings{Quality: *req.Quality})
		if err != nil {
			status := http.StatusInternalServerError
			if service.Classify(err) == service.ErrValidation {
				status = http.StatusBadRequest
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) currentSettings() config.RuntimeSettings {
	if s.settings != nil {
		if settings, err := s.settings.GetRuntimeSettings(); err == nil {
			return settings
		}
	}
	return config.RuntimeSettings{Quality: s.svc.Quality()}
}

// saveSettings validates, persists and applies next. Nothing changes when
// validation fails.
func (s *Server) saveSettings(next config.RuntimeSettings) (config.RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return config.RuntimeSettings{}, service.WrapError(err, service.ErrValidation, "invalid settings")
	}
	saved := next
	if s.settings != nil {
		var err error
		if saved, err = s.settings.UpdateRuntimeSettings(next); err != nil {
			return config.RuntimeSettings{}, err
		}
	}
	if err := s.apply(saved); err != nil {
		return config.RuntimeSettings{}, err
	}
	return saved, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
