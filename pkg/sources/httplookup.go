package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/harunnryd/larung/pkg/errorsx"
	"github.com/harunnryd/larung/pkg/media"
)

// HTTPLookupConfig points at the registration store's query endpoint.
type HTTPLookupConfig struct {
	// URL of the lookup endpoint; the call id is passed as ?call_id=.
	URL string `mapstructure:"url"`
	// Timeout for one query. Defaults to 3s.
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPLookup queries the external registration store where each party's
// media relay registers its stream endpoint.
type HTTPLookup struct {
	cfg    HTTPLookupConfig
	client *http.Client
}

func NewHTTPLookup(cfg HTTPLookupConfig) *HTTPLookup {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &HTTPLookup{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (l *HTTPLookup) Query(ctx context.Context, callID string) (map[media.Role]string, error) {
	target, err := url.Parse(l.cfg.URL)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSourceLookup)
	}
	q := target.Query()
	q.Set("call_id", callID)
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSourceLookup)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSourceLookup)
	}
	defer resp.Body.Close()

	// 404 means the call has no registrations yet, not a failure.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorsx.Wrap(
			fmt.Errorf("lookup returned status %d", resp.StatusCode),
			errorsx.ReasonSourceLookup)
	}

	var payload struct {
		Channels map[string]string `json:"channels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSourceLookup)
	}

	refs := make(map[media.Role]string, len(payload.Channels))
	for name, ref := range payload.Channels {
		switch media.Role(name) {
		case media.RoleCaller, media.RoleAgent:
			refs[media.Role(name)] = ref
		}
	}
	return refs, nil
}

var _ Lookup = (*HTTPLookup)(nil)
