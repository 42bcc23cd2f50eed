package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/iaction/internal/storage"
)

// SnapshotReader reads archived frames by object key.
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, key string) ([]byte, error)
}

type SnapshotHandler struct {
	snapshots SnapshotReader
}

func NewSnapshotHandler(snapshots SnapshotReader) *SnapshotHandler {
	return &SnapshotHandler{snapshots: snapshots}
}

// Get serves /v1/<snapshot_key>, where snapshot_key is the object key
// carried by analysis events.
func (h *SnapshotHandler) Get(c *gin.Context) {
	key := "snapshots/" + strings.TrimPrefix(c.Param("path"), "/")
	data, err := h.snapshots.GetSnapshot(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, "image/jpeg", data)
}
