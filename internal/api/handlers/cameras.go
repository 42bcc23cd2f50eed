package handlers

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/iaction/internal/camera"
	"github.com/your-org/iaction/internal/capture"
	"github.com/your-org/iaction/internal/models"
	"github.com/your-org/iaction/pkg/dto"
)

// CameraController is the part of the camera registry the API drives.
type CameraController interface {
	Start(ctx context.Context, req camera.StartRequest) (models.CameraStatus, error)
	Stop(cameraID string) error
	StopAll() int
	Get(cameraID string) (models.CameraStatus, bool)
	List() []models.CameraStatus
	CurrentFrame(cameraID string) (image.Image, bool)
	ActiveCount() int
}

type CameraHandler struct {
	cameras CameraController
}

func NewCameraHandler(cameras CameraController) *CameraHandler {
	return &CameraHandler{cameras: cameras}
}

func (h *CameraHandler) List(c *gin.Context) {
	list := h.cameras.List()
	resp := dto.CameraListResponse{
		Cameras: make([]dto.CameraResponse, 0, len(list)),
		Active:  h.cameras.ActiveCount(),
	}
	for _, st := range list {
		resp.Cameras = append(resp.Cameras, cameraToResponse(st))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CameraHandler) Get(c *gin.Context) {
	st, ok := h.cameras.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}
	c.JSON(http.StatusOK, cameraToResponse(st))
}

// Frame returns the most recent captured frame as JPEG.
func (h *CameraHandler) Frame(c *gin.Context) {
	img, ok := h.cameras.CurrentFrame(c.Param("id"))
	if !ok || img == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame available"})
		return
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}

func (h *CameraHandler) Start(c *gin.Context) {
	var req dto.StartCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sourceType := models.SourceType(req.SourceType)
	if sourceType == "" {
		sourceType = models.SourceRTSP
	}

	st, err := h.cameras.Start(c.Request.Context(), camera.StartRequest{
		CameraID:   c.Param("id"),
		SourceType: sourceType,
		URL:        req.URL,
		Username:   req.Username,
		Password:   req.Password,
		EntityID:   req.EntityID,
	})
	if err != nil {
		c.JSON(startErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, cameraToResponse(st))
}

func (h *CameraHandler) Stop(c *gin.Context) {
	if err := h.cameras.Stop(c.Param("id")); err != nil {
		if errors.Is(err, camera.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *CameraHandler) StopAll(c *gin.Context) {
	c.JSON(http.StatusOK, dto.StopAllResponse{Stopped: h.cameras.StopAll()})
}

func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, camera.ErrAlreadyCapturing):
		return http.StatusConflict
	case errors.Is(err, camera.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, camera.ErrOpenFailed):
		return http.StatusBadGateway
	case errors.Is(err, camera.ErrInvalidRequest),
		errors.Is(err, camera.ErrPollingUnavailable),
		errors.Is(err, capture.ErrInvalidURL):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func cameraToResponse(st models.CameraStatus) dto.CameraResponse {
	resp := dto.CameraResponse{
		CameraID:              st.CameraID,
		SourceType:            string(st.SourceType),
		SourceURL:             st.SourceURL,
		IsCapturing:           st.IsCapturing,
		AnalysisInProgress:    st.AnalysisInProgress,
		ConsecutiveAIFailures: st.ConsecutiveAIFailures,
		StartedAt:             st.StartedAt,
		LastAnalysisDuration:  st.LastAnalysisDuration.Seconds(),
		LastAnalysisInterval:  st.LastAnalysisInterval.Seconds(),
		AnalysisFPS:           st.AnalysisFPS(),
		TotalFPS:              st.TotalFPS(),
		HaltReason:            st.HaltReason,
	}
	if !st.LastAnalysisEndTime.IsZero() {
		t := st.LastAnalysisEndTime.Truncate(time.Millisecond)
		resp.LastAnalysisEndTime = &t
	}
	return resp
}
