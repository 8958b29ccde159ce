package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/larung/pkg/logging"
)

type callFetcher interface {
	FetchCall(sid string, params *api.FetchCallParams) (*api.ApiV2010Call, error)
}

// TwilioConfig carries the REST credentials for party lookup.
type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
}

// TwilioPartyLookup resolves From/To for lifecycle events when the call id
// is a Twilio call SID. Absent credentials the worker runs without parties.
type TwilioPartyLookup struct {
	cfg    TwilioConfig
	client callFetcher
	logger *slog.Logger
}

func NewTwilioPartyLookup(cfg TwilioConfig, logger *slog.Logger) *TwilioPartyLookup {
	return &TwilioPartyLookup{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "party_lookup"),
	}
}

func (t *TwilioPartyLookup) Parties(ctx context.Context, callID string) (string, string, error) {
	_ = ctx
	if t.cfg.AccountSID == "" || t.cfg.AuthToken == "" {
		return "", "", errors.New("missing twilio credentials")
	}
	client := t.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: t.cfg.AccountSID,
			Password: t.cfg.AuthToken,
		})
		client = rest.Api
	}

	call, err := client.FetchCall(callID, &api.FetchCallParams{})
	if err != nil {
		t.logger.Warn("party lookup failed",
			slog.String("call_id", callID),
			slog.String("error", err.Error()))
		return "", "", err
	}
	if call == nil {
		return "", "", fmt.Errorf("no call record for %s", callID)
	}

	var from, to string
	if call.From != nil {
		from = *call.From
	}
	if call.To != nil {
		to = *call.To
	}
	return from, to, nil
}

var _ PartyLookup = (*TwilioPartyLookup)(nil)
