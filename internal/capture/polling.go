package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrNoImage = errors.New("entity has no image attribute")

type PollingConfig struct {
	BaseURL   string
	Token     string
	EntityID  string
	ImageAttr string
	Interval  time.Duration
	Timeout   time.Duration
}

// PollingSource fetches still images from a Home Assistant camera entity.
type PollingSource struct {
	cameraID string
	cfg      PollingConfig
	client   *resty.Client
}

type haState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func NewPollingSource(cameraID string, cfg PollingConfig) *PollingSource {
	if cfg.ImageAttr == "" {
		cfg.ImageAttr = "entity_picture"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &PollingSource{cameraID: cameraID, cfg: cfg, client: client}
}

// Fetch reads the entity state, then downloads the image it points at.
func (p *PollingSource) Fetch(ctx context.Context) (image.Image, error) {
	var st haState
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&st).
		Get("/api/states/" + url.PathEscape(p.cfg.EntityID))
	if err != nil {
		return nil, fmt.Errorf("get entity state: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get entity state: status %d", resp.StatusCode())
	}

	ref, _ := st.Attributes[p.cfg.ImageAttr].(string)
	if ref == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoImage, p.cfg.ImageAttr)
	}

	imgResp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Accept", "image/*").
		Get(ref)
	if err != nil {
		return nil, fmt.Errorf("get entity image: %w", err)
	}
	if imgResp.IsError() {
		return nil, fmt.Errorf("get entity image: status %d", imgResp.StatusCode())
	}

	img, _, err := image.Decode(bytes.NewReader(imgResp.Body()))
	if err != nil {
		return nil, fmt.Errorf("decode entity image: %w", err)
	}
	return img, nil
}

func (p *PollingSource) Run(ctx context.Context, onFrame func(image.Image), isRunning func() bool) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	failures := 0
	for isRunning() {
		img, err := p.Fetch(ctx)
		switch {
		case err != nil:
			failures++
			if failures == 1 || failures%10 == 0 {
				slog.Warn("poll entity image failed",
					"camera_id", p.cameraID,
					"entity_id", p.cfg.EntityID,
					"failures", failures,
					"error", err,
				)
			}
		case isRunning():
			failures = 0
			onFrame(img)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (p *PollingSource) Close() {}
