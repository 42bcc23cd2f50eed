package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// ControlSubject carries camera start/stop commands over core NATS.
const ControlSubject = "camera.control"

const (
	ActionStart = "start"
	ActionStop  = "stop"
)

var ErrInvalidCommand = errors.New("invalid control command")

type Command struct {
	Action     string `json:"action"`
	CameraID   string `json:"camera_id"`
	SourceType string `json:"source_type,omitempty"`
	URL        string `json:"url,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
}

// Reply is sent back when the command message has a reply subject.
type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ParseCommand decodes and validates a control message.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if cmd.CameraID == "" {
		return Command{}, fmt.Errorf("%w: camera_id is required", ErrInvalidCommand)
	}
	switch cmd.Action {
	case ActionStop:
	case ActionStart:
		if cmd.SourceType == "" {
			cmd.SourceType = "rtsp"
		}
		if cmd.SourceType == "rtsp" && cmd.URL == "" {
			return Command{}, fmt.Errorf("%w: url is required for rtsp", ErrInvalidCommand)
		}
	default:
		return Command{}, fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, cmd.Action)
	}
	return cmd, nil
}

type ControlHandler func(ctx context.Context, cmd Command) error

// SubscribeControl routes commands on ControlSubject to handler.
func SubscribeControl(nc *nats.Conn, handler ControlHandler, timeout time.Duration) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(ControlSubject, func(msg *nats.Msg) {
		reply := dispatchCommand(msg.Data, handler, timeout)
		if msg.Reply == "" {
			return
		}
		data, _ := json.Marshal(reply)
		if err := msg.Respond(data); err != nil {
			slog.Warn("reply to control command failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", ControlSubject, err)
	}
	slog.Info("subscribed to camera control", "subject", ControlSubject)
	return sub, nil
}

func dispatchCommand(data []byte, handler ControlHandler, timeout time.Duration) Reply {
	cmd, err := ParseCommand(data)
	if err != nil {
		slog.Warn("invalid control command", "error", err)
		return Reply{Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := handler(ctx, cmd); err != nil {
		slog.Warn("control command failed", "camera_id", cmd.CameraID, "action", cmd.Action, "error", err)
		return Reply{Error: err.Error()}
	}
	slog.Info("control command applied", "camera_id", cmd.CameraID, "action", cmd.Action)
	return Reply{OK: true}
}
