package client

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/your-org/iaction/pkg/dto"
)

// Client talks to the agent's control API.
type Client struct {
	HTTP *resty.Client
}

type apiError struct {
	Error string `json:"error"`
}

func New(baseURL string, timeout time.Duration) *Client {
	r := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetError(&apiError{})
	return &Client{HTTP: r}
}

func (c *Client) ListCameras() (dto.CameraListResponse, error) {
	var out dto.CameraListResponse
	resp, err := c.HTTP.R().SetResult(&out).Get("/v1/cameras")
	return out, check(resp, err, "list cameras")
}

func (c *Client) StartCamera(id string, req dto.StartCameraRequest) (dto.CameraResponse, error) {
	var out dto.CameraResponse
	resp, err := c.HTTP.R().
		SetBody(req).
		SetResult(&out).
		Post("/v1/cameras/" + url.PathEscape(id) + "/start")
	return out, check(resp, err, "start camera "+id)
}

func (c *Client) StopCamera(id string) error {
	resp, err := c.HTTP.R().Post("/v1/cameras/" + url.PathEscape(id) + "/stop")
	return check(resp, err, "stop camera "+id)
}

func (c *Client) StopAllCameras() (int, error) {
	var out dto.StopAllResponse
	resp, err := c.HTTP.R().SetResult(&out).Post("/v1/cameras/stop")
	return out.Stopped, check(resp, err, "stop cameras")
}

func (c *Client) ListDetections() ([]dto.DetectionResponse, error) {
	var out dto.DetectionListResponse
	resp, err := c.HTTP.R().SetResult(&out).Get("/v1/detections")
	return out.Detections, check(resp, err, "list detections")
}

func (c *Client) AddDetection(req dto.CreateDetectionRequest) (dto.DetectionResponse, error) {
	var out dto.DetectionResponse
	resp, err := c.HTTP.R().SetBody(req).SetResult(&out).Post("/v1/detections")
	return out, check(resp, err, "add detection")
}

func (c *Client) DeleteDetection(id string) error {
	resp, err := c.HTTP.R().Delete("/v1/detections/" + url.PathEscape(id))
	return check(resp, err, "delete detection "+id)
}

func check(resp *resty.Response, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
			return fmt.Errorf("%s: %s (%d)", what, e.Error, resp.StatusCode())
		}
		return fmt.Errorf("%s: status %d", what, resp.StatusCode())
	}
	return nil
}
