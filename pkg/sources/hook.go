package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/harunnryd/larung/pkg/errorsx"
	"github.com/harunnryd/larung/pkg/logging"
)

// HookRequest is the raw lifecycle snapshot sent to the customization hook
// before processing starts.
type HookRequest struct {
	CallID    string            `json:"callId"`
	WorkUnit  int               `json:"workUnit"`
	Channels  map[string]string `json:"channels"`
	FromParty string            `json:"fromParty,omitempty"`
	ToParty   string            `json:"toParty,omitempty"`
}

// HookResponse lets the hook customize the call before streaming begins.
// ShouldProcess defaults to true when omitted.
type HookResponse struct {
	CallID        string `json:"callId,omitempty"`
	SwapRoles     bool   `json:"swapRoles,omitempty"`
	FromParty     string `json:"fromParty,omitempty"`
	ToParty       string `json:"toParty,omitempty"`
	ShouldProcess *bool  `json:"shouldProcess,omitempty"`
}

// Veto reports whether the hook cancelled processing.
func (r HookResponse) Veto() bool {
	return r.ShouldProcess != nil && !*r.ShouldProcess
}

// HookConfig configures the optional customization hook.
type HookConfig struct {
	// URL of the hook endpoint; empty disables the hook.
	URL string `mapstructure:"url"`
	// Timeout for one invocation. Defaults to 5s.
	Timeout time.Duration `mapstructure:"timeout"`
	// Required makes hook failures fatal for the work unit. When false a
	// failed hook is logged and the call proceeds unmodified.
	Required bool `mapstructure:"required"`
}

// Hook invokes an external HTTP endpoint once per call, synchronously,
// before any channel data is read.
type Hook struct {
	cfg    HookConfig
	client *http.Client
	logger *slog.Logger
}

func NewHook(cfg HookConfig, logger *slog.Logger) *Hook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Hook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.NewComponentLogger(logger, "customization_hook"),
	}
}

// Enabled reports whether a hook endpoint is configured.
func (h *Hook) Enabled() bool { return h.cfg.URL != "" }

// Required reports whether a hook failure must abort the work unit.
func (h *Hook) Required() bool { return h.cfg.Required }

// Invoke posts the request and decodes the customization response.
func (h *Hook) Invoke(ctx context.Context, req HookRequest) (HookResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return HookResponse{}, errorsx.Wrap(err, errorsx.ReasonHookCall)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return HookResponse{}, errorsx.Wrap(err, errorsx.ReasonHookCall)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		h.logger.Error("hook call failed",
			slog.String("call_id", req.CallID),
			slog.String("error", err.Error()))
		return HookResponse{}, errorsx.Wrap(err, errorsx.ReasonHookCall)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("hook returned status %d", resp.StatusCode)
		h.logger.Error("hook call rejected",
			slog.String("call_id", req.CallID),
			slog.Int("status", resp.StatusCode))
		return HookResponse{}, errorsx.Wrap(err, errorsx.ReasonHookCall)
	}

	var out HookResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return HookResponse{}, errorsx.Wrap(err, errorsx.ReasonHookCall)
	}

	h.logger.Info("hook applied",
		slog.String("call_id", req.CallID),
		slog.Bool("swap_roles", out.SwapRoles),
		slog.Bool("veto", out.Veto()))
	return out, nil
}
