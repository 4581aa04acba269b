package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/renderstack/renderd/internal/common"
	"github.com/renderstack/renderd/internal/interfaces"
	"github.com/renderstack/renderd/internal/models"
)

var validate = validator.New()

// maxUploadBytes bounds multipart submissions, reference image included.
const maxUploadBytes = 10 << 20

// imageJobRequest is the submission payload for image generation.
type imageJobRequest struct {
	Prompt   string   `json:"prompt" validate:"required,min=1,max=2000"`
	Seed     *int64   `json:"seed" validate:"omitempty,min=0"`
	Negative string   `json:"negative" validate:"omitempty,max=2000"`
	Steps    *int     `json:"steps" validate:"omitempty,min=1,max=150"`
	Guidance *float64 `json:"guidance" validate:"omitempty,min=0,max=30"`
}

// videoJobRequest is the submission payload for video generation. Video jobs
// animate from a previously generated image.
type videoJobRequest struct {
	ImageURL  string `json:"imageUrl" validate:"required,min=1"`
	Prompt    string `json:"prompt" validate:"omitempty,max=2000"`
	NumFrames *int   `json:"numFrames" validate:"omitempty,min=1,max=120"`
}

// JobHandler serves job submission and status polling.
type JobHandler struct {
	dispatcher interfaces.Dispatcher
	status     interfaces.StatusService
	outputs    common.OutputsConfig
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(dispatcher interfaces.Dispatcher, status interfaces.StatusService, outputs common.OutputsConfig, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		dispatcher: dispatcher,
		status:     status,
		outputs:    outputs,
		logger:     logger,
	}
}

// SubmitImageHandler handles POST /api/jobs. Accepts JSON or multipart form
// submissions and returns the job handle immediately. A multipart submission
// may carry a reference image; it is saved to the outputs dir and its public
// path travels with the job parameters.
func (h *JobHandler) SubmitImageHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req imageJobRequest
	var imagePath string
	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		req.Prompt = r.FormValue("prompt")
		// The browser client sends "negative_prompt" on form submissions.
		req.Negative = r.FormValue("negative")
		if req.Negative == "" {
			req.Negative = r.FormValue("negative_prompt")
		}
		if err := parseFormNumbers(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		path, err := h.saveUploadedImage(r)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to store uploaded image")
			WriteError(w, http.StatusBadRequest, "invalid image upload")
			return
		}
		imagePath = path
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	params := map[string]string{"prompt": req.Prompt}
	if req.Seed != nil {
		params["seed"] = strconv.FormatInt(*req.Seed, 10)
	}
	if req.Negative != "" {
		params["negative"] = req.Negative
	}
	if req.Steps != nil {
		params["steps"] = strconv.Itoa(*req.Steps)
	}
	if req.Guidance != nil {
		params["guidance"] = strconv.FormatFloat(*req.Guidance, 'f', -1, 64)
	}
	if imagePath != "" {
		params["image"] = imagePath
	}

	jobID, err := h.dispatcher.Submit(r.Context(), models.JobKindImage, params)
	if err != nil {
		h.logger.Error().Err(err).Msg("Image job submission failed")
		WriteError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// SubmitVideoHandler handles POST /api/video-jobs.
func (h *JobHandler) SubmitVideoHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req videoJobRequest
	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		req.ImageURL = r.FormValue("imageUrl")
		req.Prompt = r.FormValue("prompt")
		if raw := r.FormValue("numFrames"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "invalid numFrames")
				return
			}
			req.NumFrames = &n
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	params := map[string]string{"imageUrl": req.ImageURL}
	if req.Prompt != "" {
		params["prompt"] = req.Prompt
	}
	if req.NumFrames != nil {
		params["numFrames"] = strconv.Itoa(*req.NumFrames)
	}

	jobID, err := h.dispatcher.Submit(r.Context(), models.JobKindVideo, params)
	if err != nil {
		h.logger.Error().Err(err).Msg("Video job submission failed")
		WriteError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// GetJobHandler handles GET /api/jobs/{id} and /api/video-jobs/{id}.
// Unknown ids get a structured not-found body with 200: polling an expired
// job is normal operation, not a client error.
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := jobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}

	body, err := h.status.Query(r.Context(), jobID)
	if err != nil {
		h.logger.Error().Str("job_id", jobID).Err(err).Msg("Status query failed")
		WriteError(w, http.StatusInternalServerError, "failed to query job")
		return
	}

	WriteJSON(w, http.StatusOK, body)
}

// parseFormNumbers fills the numeric image fields from form values.
func parseFormNumbers(r *http.Request, req *imageJobRequest) error {
	if raw := r.FormValue("seed"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return errors.New("invalid seed")
		}
		req.Seed = &n
	}
	if raw := r.FormValue("steps"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return errors.New("invalid steps")
		}
		req.Steps = &n
	}
	if raw := r.FormValue("guidance"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return errors.New("invalid guidance")
		}
		req.Guidance = &f
	}
	return nil
}

// saveUploadedImage stores the optional "image" part under the outputs dir
// and returns its public path, or "" when the part is absent.
func (h *JobHandler) saveUploadedImage(r *http.Request) (string, error) {
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp":
	default:
		return "", errors.New("unsupported image type")
	}

	if err := os.MkdirAll(h.outputs.Dir, 0o755); err != nil {
		return "", err
	}

	name := "upload_" + uuid.New().String() + ext
	dst, err := os.Create(filepath.Join(h.outputs.Dir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return "", err
	}

	return h.outputs.URLPrefix + "/" + name, nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// jobIDFromPath extracts the id segment from /api/{resource}/{id}. Requests
// with no id segment, "/api/jobs/" included, resolve to "".
func jobIDFromPath(path string) string {
	rest := strings.Trim(strings.TrimPrefix(path, "/api/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] == "" {
		return ""
	}
	return parts[1]
}

// pathTail returns the last non-empty path segment.
func pathTail(path string) string {
	path = strings.TrimSuffix(path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// validationMessage flattens a validator error into a client-facing message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return "invalid fields: " + strings.Join(fields, ", ")
	}
	return "invalid request"
}
