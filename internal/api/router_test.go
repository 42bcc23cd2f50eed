package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/iaction/internal/api/handlers"
	"github.com/your-org/iaction/internal/camera"
	"github.com/your-org/iaction/internal/capture"
	"github.com/your-org/iaction/internal/detection"
	"github.com/your-org/iaction/internal/models"
	"github.com/your-org/iaction/internal/publisher"
	"github.com/your-org/iaction/internal/storage"
	"github.com/your-org/iaction/pkg/dto"
)

type fakeCameras struct {
	cameras map[string]models.CameraStatus
	started []camera.StartRequest
}

func (f *fakeCameras) Start(_ context.Context, req camera.StartRequest) (models.CameraStatus, error) {
	switch req.CameraID {
	case "busy":
		return models.CameraStatus{}, camera.ErrAlreadyCapturing
	case "unreachable":
		return models.CameraStatus{}, fmt.Errorf("%w: rtsp://cam", camera.ErrOpenFailed)
	}
	if err := capture.ValidateURL(req.URL); req.SourceType == models.SourceRTSP && err != nil {
		return models.CameraStatus{}, err
	}
	f.started = append(f.started, req)
	st := models.CameraStatus{CameraID: req.CameraID, SourceType: req.SourceType, IsCapturing: true}
	f.cameras[req.CameraID] = st
	return st, nil
}

func (f *fakeCameras) Stop(id string) error {
	if _, ok := f.cameras[id]; !ok {
		return camera.ErrNotFound
	}
	delete(f.cameras, id)
	return nil
}

func (f *fakeCameras) StopAll() int {
	n := len(f.cameras)
	clear(f.cameras)
	return n
}

func (f *fakeCameras) Get(id string) (models.CameraStatus, bool) {
	st, ok := f.cameras[id]
	return st, ok
}

func (f *fakeCameras) List() []models.CameraStatus {
	out := make([]models.CameraStatus, 0, len(f.cameras))
	for _, st := range f.cameras {
		out = append(out, st)
	}
	return out
}

func (f *fakeCameras) CurrentFrame(id string) (image.Image, bool) {
	if _, ok := f.cameras[id]; !ok {
		return nil, false
	}
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	img.SetGray(1, 1, color.Gray{Y: 200})
	return img, true
}

func (f *fakeCameras) ActiveCount() int { return len(f.cameras) }

type memStore struct{ saved []models.Detection }

func (m *memStore) LoadDetections(context.Context) ([]models.Detection, error) { return m.saved, nil }

func (m *memStore) SaveDetections(_ context.Context, d []models.Detection) error {
	m.saved = d
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *fakeCameras) {
	t.Helper()
	cams := &fakeCameras{cameras: map[string]models.CameraStatus{
		"porch": {
			CameraID:             "porch",
			SourceType:           models.SourceRTSP,
			IsCapturing:          true,
			LastAnalysisDuration: 400 * time.Millisecond,
			LastAnalysisInterval: time.Second,
		},
	}}
	svc := detection.NewService(&memStore{}, nil, publisher.Nop{}, detection.Options{})
	r := NewRouter(RouterConfig{
		Cameras:    cams,
		Detections: svc,
		Checks: []handlers.Check{
			{Name: "store", Ping: func(context.Context) error { return nil }},
		},
	})
	return r, cams
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSystemEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if rec := do(t, r, http.MethodGet, path, nil); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
}

func TestReadyz_failingCheck(t *testing.T) {
	r := NewRouter(RouterConfig{
		Cameras:    &fakeCameras{cameras: map[string]models.CameraStatus{}},
		Detections: detection.NewService(&memStore{}, nil, publisher.Nop{}, detection.Options{}),
		Checks: []handlers.Check{
			{Name: "nats", Ping: func(context.Context) error { return errors.New("nats not connected") }},
		},
	})
	rec := do(t, r, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Checks["nats"] != "nats not connected" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestCameraEndpoints(t *testing.T) {
	r, cams := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/v1/cameras/porch", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	var cam dto.CameraResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &cam)
	if cam.AnalysisFPS != 2.5 || cam.TotalFPS != 1 {
		t.Errorf("fps = %v / %v, want 2.5 / 1", cam.AnalysisFPS, cam.TotalFPS)
	}

	if rec := do(t, r, http.MethodGet, "/v1/cameras/porch/frame", nil); rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("frame = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec := do(t, r, http.MethodGet, "/v1/cameras/attic/frame", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing frame = %d", rec.Code)
	}

	start := []struct {
		name string
		id   string
		body dto.StartCameraRequest
		want int
	}{
		{"rtsp", "garage", dto.StartCameraRequest{URL: "rtsp://10.0.0.2/live"}, http.StatusCreated},
		{"polling", "yard", dto.StartCameraRequest{SourceType: "polling", EntityID: "camera.yard"}, http.StatusCreated},
		{"bad url", "shed", dto.StartCameraRequest{URL: "ftp://nope"}, http.StatusBadRequest},
		{"already capturing", "busy", dto.StartCameraRequest{URL: "rtsp://cam/live"}, http.StatusConflict},
		{"open failed", "unreachable", dto.StartCameraRequest{URL: "rtsp://cam/live"}, http.StatusBadGateway},
	}
	for _, tt := range start {
		t.Run("start "+tt.name, func(t *testing.T) {
			if rec := do(t, r, http.MethodPost, "/v1/cameras/"+tt.id+"/start", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
	if len(cams.started) != 2 || cams.started[0].SourceType != models.SourceRTSP {
		t.Errorf("started = %+v", cams.started)
	}

	if rec := do(t, r, http.MethodPost, "/v1/cameras/garage/stop", nil); rec.Code != http.StatusOK {
		t.Errorf("stop = %d", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, "/v1/cameras/garage/stop", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second stop = %d", rec.Code)
	}

	rec = do(t, r, http.MethodPost, "/v1/cameras/stop", nil)
	var stopped dto.StopAllResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &stopped)
	if rec.Code != http.StatusOK || stopped.Stopped != 2 {
		t.Errorf("stop all = %d, %+v", rec.Code, stopped)
	}
}

func TestDetectionEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	if rec := do(t, r, http.MethodPost, "/v1/detections", map[string]string{"name": "Person"}); rec.Code != http.StatusBadRequest {
		t.Errorf("create without phrase = %d", rec.Code)
	}

	rec := do(t, r, http.MethodPost, "/v1/detections", dto.CreateDetectionRequest{
		Name:           "Parcel",
		Phrase:         "a parcel on the doorstep",
		EnabledCameras: []string{"porch"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body)
	}
	var created dto.DetectionResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	name := "Package"
	rec = do(t, r, http.MethodPut, "/v1/detections/"+created.ID.String(), dto.UpdateDetectionRequest{Name: &name})
	var updated dto.DetectionResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &updated)
	if rec.Code != http.StatusOK || updated.Name != "Package" || updated.Phrase != created.Phrase {
		t.Errorf("update = %d, %+v", rec.Code, updated)
	}

	rec = do(t, r, http.MethodGet, "/v1/detections", nil)
	var list dto.DetectionListResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Detections) != 1 {
		t.Errorf("list = %+v", list)
	}

	if rec := do(t, r, http.MethodDelete, "/v1/detections/"+created.ID.String(), nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}
	if rec := do(t, r, http.MethodDelete, "/v1/detections/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("delete missing = %d", rec.Code)
	}
	if rec := do(t, r, http.MethodGet, "/v1/detections/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d", rec.Code)
	}
}

type fakeSnapshots map[string][]byte

func (f fakeSnapshots) GetSnapshot(_ context.Context, key string) ([]byte, error) {
	if key == "snapshots/broken/1.jpg" {
		return nil, errors.New("minio unreachable")
	}
	data, ok := f[key]
	if !ok {
		return nil, storage.ErrSnapshotNotFound
	}
	return data, nil
}

func TestSnapshotEndpoint(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	r := NewRouter(RouterConfig{
		Cameras:    &fakeCameras{cameras: map[string]models.CameraStatus{}},
		Detections: detection.NewService(&memStore{}, nil, publisher.Nop{}, detection.Options{}),
		Snapshots:  fakeSnapshots{"snapshots/porch/1700000000000.jpg": jpeg},
	})

	tests := []struct {
		path string
		want int
	}{
		{"/v1/snapshots/porch/1700000000000.jpg", http.StatusOK},
		{"/v1/snapshots/porch/1.jpg", http.StatusNotFound},
		{"/v1/snapshots/broken/1.jpg", http.StatusBadGateway},
	}
	for _, tt := range tests {
		rec := do(t, r, http.MethodGet, tt.path, nil)
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
			continue
		}
		if tt.want == http.StatusOK && !bytes.Equal(rec.Body.Bytes(), jpeg) {
			t.Errorf("GET %s body = %x", tt.path, rec.Body.Bytes())
		}
	}

	// Without an archive the route is not registered.
	r2, _ := newTestRouter(t)
	if rec := do(t, r2, http.MethodGet, "/v1/snapshots/porch/1700000000000.jpg", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET without archive = %d, want 404", rec.Code)
	}
}
