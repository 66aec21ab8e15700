package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/openartmap/openartmap/internal/importer"
)

// importEnvelope is the wire shape of a job submission.
type importEnvelope struct {
	Metadata struct {
		ImportID  string              `json:"importId"`
		Source    importer.SourceInfo `json:"source"`
		Timestamp time.Time           `json:"timestamp"`
	} `json:"metadata"`
	Config importer.Config `json:"config"`
	Data   struct {
		Artworks []importer.ArtworkImportRecord `json:"artworks"`
		Creators []importer.CreatorImportRecord `json:"creators"`
	} `json:"data"`
}

func (e *importEnvelope) job() *importer.Job {
	return &importer.Job{
		ImportID:    e.Metadata.ImportID,
		Source:      e.Metadata.Source,
		SubmittedAt: e.Metadata.Timestamp,
		Config:      e.Config,
		Artworks:    e.Data.Artworks,
		Creators:    e.Data.Creators,
	}
}

// handleSubmitImport runs a full import job synchronously.
// POST /api/v1/imports
func (r *Router) handleSubmitImport(w http.ResponseWriter, req *http.Request) {
	r.runImport(w, req, false)
}

// handleValidateImport previews duplicate matches without writing anything.
// POST /api/v1/imports/validate
func (r *Router) handleValidateImport(w http.ResponseWriter, req *http.Request) {
	r.runImport(w, req, true)
}

func (r *Router) runImport(w http.ResponseWriter, req *http.Request, forceDryRun bool) {
	var envelope importEnvelope
	if err := json.NewDecoder(req.Body).Decode(&envelope); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status": "rejected",
			"errors": []importer.FieldError{{Field: "body", Message: err.Error()}},
		})
		return
	}

	job := envelope.job()
	job.Config.FillFrom(r.importDefaults)
	if forceDryRun {
		job.Config.DryRun = true
	}

	result, err := r.orchestrator.Run(req.Context(), job)
	if err != nil {
		var verr *importer.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"status":   "rejected",
				"importId": job.ImportID,
				"errors":   verr.Errors,
			})
			return
		}
		r.logger.Error("import job failed", "import_id", job.ImportID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleListImports returns persisted import audit summaries, newest first.
// GET /api/v1/imports
func (r *Router) handleListImports(w http.ResponseWriter, req *http.Request) {
	limit := intQuery(req, "limit", 50)
	audits, err := r.catalogService.ListImportAudits(req.Context(), limit)
	if err != nil {
		r.logger.Error("listing imports", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": audits})
}

// handleGetImport returns one import audit summary.
// GET /api/v1/imports/{id}
func (r *Router) handleGetImport(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing import id"})
		return
	}
	audit, err := r.catalogService.GetImportAudit(req.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "import not found"})
		return
	}
	writeJSON(w, http.StatusOK, audit)
}
