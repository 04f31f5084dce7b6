package httpapi

import (
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/webp-autogen/internal/config"
	"github.com/MimeLyc/webp-autogen/internal/htaccess"
	"github.com/MimeLyc/webp-autogen/internal/i18n"
	"github.com/MimeLyc/webp-autogen/internal/persistence"
	"github.com/MimeLyc/webp-autogen/internal/service"
	"github.com/MimeLyc/webp-autogen/pkg/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/text/message"
)

//go:embed assets/admin.html assets/webp-autogen.js
var assets embed.FS

var adminTemplate = template.Must(template.ParseFS(assets, "assets/admin.html"))

type notice struct {
	Kind string
	Text string
}

type adminPage struct {
	Lang    string
	P       *message.Printer
	Notice  *notice
	Quality int

	HasStatus bool
	Converted int
	Total     int
	Remaining int

	BatchLimit int
	NextSweep  string
	Rewrite    string

	AjaxURL string
	Strings map[string]string
}

// T translates a catalog key for the template.
func (p adminPage) T(key string, args ...any) string {
	return p.P.Sprintf(key, args...)
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	tag := i18n.Match(r.Header.Get("Accept-Language"))
	page := adminPage{
		Lang:       tag.String(),
		P:          i18n.Printer(tag),
		BatchLimit: s.svc.Config().Convert.BatchLimit,
		AjaxURL:    "/ajax",
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		page.Notice = s.handleAdminForm(r, page.P)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	page.Quality = s.currentSettings().Quality
	if stats, err := s.svc.Stats(r.Context()); err == nil {
		page.HasStatus = true
		page.Converted, page.Total, page.Remaining = stats.Converted, stats.Total, stats.Remaining
	} else {
		service.LogError(err)
	}
	if next, ok := s.svc.NextSweep(time.Now()); ok {
		page.NextSweep = page.T(i18n.MsgNextSweep, humanize.Time(next))
	}
	page.Rewrite = s.rewriteNote(page.P)
	page.Strings = i18n.ClientStrings(page.P)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := adminTemplate.Execute(w, page); err != nil {
		log.Error("Failed to render admin page: %v", err)
	}
}

// handleAdminForm processes either the quality form or the one-batch button.
func (s *Server) handleAdminForm(r *http.Request, p *message.Printer) *notice {
	if _, ok := r.PostForm["convert"]; ok {
		res, err := s.svc.RunBatch(r.Context(), persistence.TriggerAdmin)
		if err != nil {
			service.LogError(err)
			return &notice{Kind: "error", Text: p.Sprintf(i18n.MsgConvertError) + " " + err.Error()}
		}
		return &notice{Kind: "success", Text: p.Sprintf(i18n.MsgBatchDone, res.ConvertedNow, res.SkippedNow)}
	}

	raw, ok := r.PostForm[config.QualityOptionKey]
	if !ok {
		return nil
	}
	quality, err := strconv.Atoi(strings.TrimSpace(strings.Join(raw, "")))
	if err != nil {
		return &notice{Kind: "error", Text: p.Sprintf(i18n.MsgInvalidQuality)}
	}
	if _, err := s.saveSettings(config.RuntimeSettings{Quality: quality}); err != nil {
		if service.Classify(err) == service.ErrValidation {
			return &notice{Kind: "error", Text: p.Sprintf(i18n.MsgInvalidQuality)}
		}
		log.Error("Failed to save settings: %v", err)
		return &notice{Kind: "error", Text: p.Sprintf(i18n.MsgSaveFailed)}
	}
	return &notice{Kind: "success", Text: p.Sprintf(i18n.MsgSaved)}
}

func (s *Server) rewriteNote(p *message.Printer) string {
	site := s.svc.Config().Site
	if !htaccess.IsApache(site.ServerSoftware) {
		return p.Sprintf(i18n.MsgApacheOnly)
	}
	if htaccess.Installed(site.HtaccessPath()) {
		return p.Sprintf(i18n.MsgRewriteInstalled)
	}
	return ""
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	data, err := assets.ReadFile("assets/webp-autogen.js")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}
