package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/iaction/internal/detection"
	"github.com/your-org/iaction/internal/models"
	"github.com/your-org/iaction/pkg/dto"
)

type DetectionManager interface {
	List() []models.Detection
	Get(id uuid.UUID) (models.Detection, error)
	Add(ctx context.Context, name, phrase, webhookURL string, cameras []string) (models.Detection, error)
	Update(ctx context.Context, id uuid.UUID, p detection.Patch) (models.Detection, error)
	Remove(ctx context.Context, id uuid.UUID) error
}

type DetectionHandler struct {
	detections DetectionManager
}

func NewDetectionHandler(detections DetectionManager) *DetectionHandler {
	return &DetectionHandler{detections: detections}
}

func (h *DetectionHandler) List(c *gin.Context) {
	list := h.detections.List()
	resp := dto.DetectionListResponse{Detections: make([]dto.DetectionResponse, 0, len(list))}
	for _, d := range list {
		resp.Detections = append(resp.Detections, detectionToResponse(d))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *DetectionHandler) Get(c *gin.Context) {
	id, ok := parseDetectionID(c)
	if !ok {
		return
	}
	d, err := h.detections.Get(id)
	if err != nil {
		writeDetectionError(c, err)
		return
	}
	c.JSON(http.StatusOK, detectionToResponse(d))
}

func (h *DetectionHandler) Create(c *gin.Context) {
	var req dto.CreateDetectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.detections.Add(c.Request.Context(), req.Name, req.Phrase, req.WebhookURL, req.EnabledCameras)
	if err != nil {
		writeDetectionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, detectionToResponse(d))
}

func (h *DetectionHandler) Update(c *gin.Context) {
	id, ok := parseDetectionID(c)
	if !ok {
		return
	}
	var req dto.UpdateDetectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.detections.Update(c.Request.Context(), id, detection.Patch{
		Name:           req.Name,
		Phrase:         req.Phrase,
		WebhookURL:     req.WebhookURL,
		EnabledCameras: req.EnabledCameras,
	})
	if err != nil {
		writeDetectionError(c, err)
		return
	}
	c.JSON(http.StatusOK, detectionToResponse(d))
}

func (h *DetectionHandler) Delete(c *gin.Context) {
	id, ok := parseDetectionID(c)
	if !ok {
		return
	}
	if err := h.detections.Remove(c.Request.Context(), id); err != nil {
		writeDetectionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseDetectionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid detection id"})
		return uuid.Nil, false
	}
	return id, true
}

func writeDetectionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, detection.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, detection.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func detectionToResponse(d models.Detection) dto.DetectionResponse {
	cameras := d.EnabledCameras
	if cameras == nil {
		cameras = []string{}
	}
	return dto.DetectionResponse{
		ID:              d.ID,
		Name:            d.Name,
		Phrase:          d.Phrase,
		WebhookURL:      d.WebhookURL,
		EnabledCameras:  cameras,
		CreatedAt:       d.CreatedAt,
		LastTriggeredAt: d.LastTriggeredAt,
		TriggerCount:    d.TriggerCount,
	}
}
