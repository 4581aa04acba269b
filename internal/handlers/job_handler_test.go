package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/renderstack/renderd/internal/common"
	"github.com/renderstack/renderd/internal/models"
)

// stubDispatcher records the last submission.
type stubDispatcher struct {
	kind     models.JobKind
	params   map[string]string
	jobID    string
	failWith error
}

func (d *stubDispatcher) Submit(ctx context.Context, kind models.JobKind, params map[string]string) (string, error) {
	if d.failWith != nil {
		return "", d.failWith
	}
	d.kind = kind
	d.params = params
	return d.jobID, nil
}

// stubStatus answers queries from a fixed map.
type stubStatus struct {
	answers map[string]map[string]interface{}
}

func (s *stubStatus) Query(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if body, ok := s.answers[jobID]; ok {
		return body, nil
	}
	return map[string]interface{}{"status": "error", "message": "not found"}, nil
}

func newTestJobHandler(t *testing.T, dispatcher *stubDispatcher, status *stubStatus) *JobHandler {
	t.Helper()
	outputs := common.OutputsConfig{Dir: t.TempDir(), URLPrefix: "/outputs"}
	return NewJobHandler(dispatcher, status, outputs, arbor.NewLogger())
}

func TestSubmitImageJobJSON(t *testing.T) {
	dispatcher := &stubDispatcher{jobID: "job_1"}
	h := newTestJobHandler(t, dispatcher, &stubStatus{})

	body := `{"prompt":"a lighthouse at dusk","seed":42,"negative":"blurry","steps":30,"guidance":5.5}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.SubmitImageHandler(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job_1", resp["jobId"])

	assert.Equal(t, models.JobKindImage, dispatcher.kind)
	assert.Equal(t, "a lighthouse at dusk", dispatcher.params["prompt"])
	assert.Equal(t, "42", dispatcher.params["seed"])
	assert.Equal(t, "blurry", dispatcher.params["negative"])
	assert.Equal(t, "30", dispatcher.params["steps"])
	assert.Equal(t, "5.5", dispatcher.params["guidance"])
}

func TestSubmitImageJobOptionalFieldsOmitted(t *testing.T) {
	dispatcher := &stubDispatcher{jobID: "job_1"}
	h := newTestJobHandler(t, dispatcher, &stubStatus{})

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"prompt":"minimal"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.SubmitImageHandler(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, map[string]string{"prompt": "minimal"}, dispatcher.params)
}

func TestSubmitImageJobMultipart(t *testing.T) {
	dispatcher := &stubDispatcher{jobID: "job_1"}
	h := newTestJobHandler(t, dispatcher, &stubStatus{})

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("prompt", "a lighthouse at dusk"))
	require.NoError(t, form.WriteField("seed", "7"))
	require.NoError(t, form.WriteField("negative_prompt", "blurry"))
	require.NoError(t, form.WriteField("steps", "25"))
	require.NoError(t, form.WriteField("guidance", "4.5"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()

	h.SubmitImageHandler(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "a lighthouse at dusk", dispatcher.params["prompt"])
	assert.Equal(t, "7", dispatcher.params["seed"])
	assert.Equal(t, "blurry", dispatcher.params["negative"])
	assert.Equal(t, "25", dispatcher.params["steps"])
	assert.Equal(t, "4.5", dispatcher.params["guidance"])
}

func TestSubmitImageJobMultipartUpload(t *testing.T) {
	dispatcher := &stubDispatcher{jobID: "job_1"}
	outputsDir := t.TempDir()
	h := NewJobHandler(dispatcher, &stubStatus{}, common.OutputsConfig{Dir: outputsDir, URLPrefix: "/outputs"}, arbor.NewLogger())

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("prompt", "remix this"))
	part, err := form.CreateFormFile("image", "reference.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\n"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()

	h.SubmitImageHandler(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	imageParam := dispatcher.params["image"]
	require.NotEmpty(t, imageParam)
	assert.True(t, strings.HasPrefix(imageParam, "/outputs/upload_"))
	assert.True(t, strings.HasSuffix(imageParam, ".png"))

	saved, err := os.ReadFile(filepath.Join(outputsDir, strings.TrimPrefix(imageParam, "/outputs/")))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), saved)
}

func TestSubmitImageJobMultipartRejectsBadUpload(t *testing.T) {
	h := newTestJobHandler(t, &stubDispatcher{jobID: "job_1"}, &stubStatus{})

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("prompt", "remix this"))
	part, err := form.CreateFormFile("image", "payload.exe")
	require.NoError(t, err)
	_, err = part.Write([]byte("MZ"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()

	h.SubmitImageHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitImageJobMultipartRejectsBadNumbers(t *testing.T) {
	h := newTestJobHandler(t, &stubDispatcher{jobID: "job_1"}, &stubStatus{})

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("prompt", "a lighthouse"))
	require.NoError(t, form.WriteField("steps", "many"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()

	h.SubmitImageHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "steps")
}

func TestSubmitImageJobValidation(t *testing.T) {
	h := newTestJobHandler(t, &stubDispatcher{jobID: "job_1"}, &stubStatus{})

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"seed":42}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.SubmitImageHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Prompt")
}

func TestSubmitImageJobRejectsGet(t *testing.T) {
	h := newTestJobHandler(t, &stubDispatcher{}, &stubStatus{})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()

	h.SubmitImageHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSubmitImageJobDispatchFailure(t *testing.T) {
	dispatcher := &stubDispatcher{failWith: errors.New("queue unavailable")}
	h := newTestJobHandler(t, dispatcher, &stubStatus{})

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"prompt":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.SubmitImageHandler(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubmitVideoJobRequiresImageURL(t *testing.T) {
	h := newTestJobHandler(t, &stubDispatcher{jobID: "job_2"}, &stubStatus{})

	req := httptest.NewRequest(http.MethodPost, "/api/video-jobs", strings.NewReader(`{"prompt":"animate"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.SubmitVideoHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitVideoJob(t *testing.T) {
	dispatcher := &stubDispatcher{jobID: "job_2"}
	h := newTestJobHandler(t, dispatcher, &stubStatus{})

	body := `{"imageUrl":"/outputs/job_1.png","numFrames":16}`
	req := httptest.NewRequest(http.MethodPost, "/api/video-jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.SubmitVideoHandler(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.JobKindVideo, dispatcher.kind)
	assert.Equal(t, "/outputs/job_1.png", dispatcher.params["imageUrl"])
	assert.Equal(t, "16", dispatcher.params["numFrames"])
}

func TestGetJobStatus(t *testing.T) {
	status := &stubStatus{answers: map[string]map[string]interface{}{
		"job_1": {"status": "running", "progress": 85},
	}}
	h := newTestJobHandler(t, &stubDispatcher{}, status)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job_1", nil)
	rec := httptest.NewRecorder()

	h.GetJobHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, float64(85), body["progress"])
}

func TestGetJobStatusUnknownID(t *testing.T) {
	h := newTestJobHandler(t, &stubDispatcher{}, &stubStatus{})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job_missing", nil)
	rec := httptest.NewRecorder()

	h.GetJobHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "not found", body["message"])
}

func TestGetJobStatusMissingID(t *testing.T) {
	for _, path := range []string{"/api/jobs/", "/api/video-jobs/"} {
		h := newTestJobHandler(t, &stubDispatcher{}, &stubStatus{})

		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		h.GetJobHandler(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "missing job id")
	}
}
