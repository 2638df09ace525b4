package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-hclog"

	"conversionupload/models"
	"conversionupload/pipeline"
)

const maxBodyBytes = 32 << 20

// Runner is the pipeline surface the handlers need.
type Runner interface {
	Distribute(ctx context.Context, req *models.DelegateRequest) (*pipeline.RunReport, error)
	UploadMessage(ctx context.Context, msg *models.QueueMessage, defaultPlatform string) (*pipeline.RunReport, error)
}

type Handler struct {
	runner Runner
	logger hclog.Logger
}

func NewHandler(runner Runner, logger hclog.Logger) *Handler {
	return &Handler{runner: runner, logger: logger.Named("server")}
}

// Delegate starts a distribution run from a push message or a direct request.
func (h *Handler) Delegate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	req, err := models.DecodeDelegateEvent(body)
	if err != nil {
		h.logger.Warn("rejected delegate event", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("delegate request", "dataset", req.DatasetName, "table", req.TableName, "topic", req.Topic)

	report, err := h.runner.Distribute(r.Context(), req)
	h.respond(w, report, err)
}

// Upload uploads the conversions of one push message to the platform in the
// path. A message config naming a different platform is rejected.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	platform := r.PathValue("platform")
	switch platform {
	case models.PlatformCM360, models.PlatformSA360:
	default:
		writeError(w, http.StatusNotFound, "unknown platform")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	msg, err := models.DecodeQueueEvent(body)
	if err != nil {
		h.logger.Warn("rejected upload event", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cfg := msg.Data.Config; cfg != nil && cfg.Platform != "" && cfg.Platform != platform {
		h.logger.Warn("rejected upload event", "path_platform", platform, "config_platform", cfg.Platform)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("message config is for platform %q, not %q", cfg.Platform, platform))
		return
	}

	report, err := h.runner.UploadMessage(r.Context(), msg, platform)
	h.respond(w, report, err)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respond acknowledges every handled run so push subscriptions do not
// redeliver; only unexpected failures without a report are 500s.
func (h *Handler) respond(w http.ResponseWriter, report *pipeline.RunReport, err error) {
	if report == nil {
		if err == nil {
			err = errors.New("run produced no report")
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
