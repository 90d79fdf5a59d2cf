// Package policyclient talks to the external policy service that owns the
// neural network: it predicts actions, reads rewards off frames and applies
// updates from collected rollouts. Frames travel as base64 pixel buffers.
package policyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/swingbot/internal/frame"
	"github.com/banshee-data/swingbot/internal/pretrain"
	"github.com/banshee-data/swingbot/internal/rollout"
)

// Client is an HTTP client for the policy service. It implements
// rollout.Policy, rollout.Scorer, rollout.Updater and pretrain.Learner.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a Client for baseURL with the given request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type framePayload struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Pixels []byte `json:"pixels"`
}

func toPayload(f frame.Frame) framePayload {
	return framePayload{Width: f.Width, Height: f.Height, Pixels: f.Pix}
}

func toPayloads(window []frame.Frame) []framePayload {
	out := make([]framePayload, len(window))
	for i, f := range window {
		out[i] = toPayload(f)
	}
	return out
}

type predictRequest struct {
	Window []framePayload `json:"window"`
}

type predictResponse struct {
	Action int `json:"action"`
}

type scoreRequest struct {
	Frame framePayload `json:"frame"`
}

type stepPayload struct {
	Window     []framePayload           `json:"window"`
	Action     int                      `json:"action"`
	Reward     float64                  `json:"reward"`
	Done       bool                     `json:"done"`
	Components rollout.RewardComponents `json:"components"`
}

type updateRequest struct {
	Steps []stepPayload `json:"steps"`
}

// Predict implements rollout.Policy.
func (c *Client) Predict(ctx context.Context, window []frame.Frame) (int, error) {
	var resp predictResponse
	if err := c.postJSON(ctx, "/predict", predictRequest{Window: toPayloads(window)}, &resp); err != nil {
		return 0, err
	}
	if resp.Action != 0 && resp.Action != 1 {
		return 0, fmt.Errorf("predict: invalid action %d", resp.Action)
	}
	return resp.Action, nil
}

// ScoreFrame implements rollout.Scorer.
func (c *Client) ScoreFrame(ctx context.Context, f frame.Frame) (rollout.RewardComponents, error) {
	var rc rollout.RewardComponents
	if err := c.postJSON(ctx, "/score", scoreRequest{Frame: toPayload(f)}, &rc); err != nil {
		return rollout.RewardComponents{}, err
	}
	return rc, nil
}

// UpdateParameters implements rollout.Updater.
func (c *Client) UpdateParameters(ctx context.Context, steps []rollout.Step) error {
	req := updateRequest{Steps: make([]stepPayload, len(steps))}
	for i, s := range steps {
		req.Steps[i] = stepPayload{
			Window:     toPayloads(s.Window),
			Action:     s.Action,
			Reward:     s.Reward,
			Done:       s.Done,
			Components: s.Components,
		}
	}
	return c.postJSON(ctx, "/update", req, nil)
}

type behaviourRequest struct {
	Windows [][]framePayload `json:"windows"`
	Labels  []int            `json:"labels"`
}

// UpdateBehaviour implements pretrain.Learner. windows and labels must be
// the same length.
func (c *Client) UpdateBehaviour(ctx context.Context, windows [][]frame.Frame, labels []int) (pretrain.BatchResult, error) {
	if len(windows) != len(labels) {
		return pretrain.BatchResult{}, fmt.Errorf("bc_update: %d windows but %d labels", len(windows), len(labels))
	}
	req := behaviourRequest{Windows: make([][]framePayload, len(windows)), Labels: labels}
	for i, w := range windows {
		req.Windows[i] = toPayloads(w)
	}
	var res pretrain.BatchResult
	if err := c.postJSON(ctx, "/bc_update", req, &res); err != nil {
		return pretrain.BatchResult{}, err
	}
	return res, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: policy service returned %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}
