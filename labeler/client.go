package labeler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/util"
	"github.com/bluesky-social/indigo/xrpc"
	"golang.org/x/time/rate"
)

// LabelService applies a moderation label to an account. Create-or-update
// idempotency is owned by the external service; callers do not retry
// beyond transport-level retries.
type LabelService interface {
	ApplyLabel(ctx context.Context, subjectDID string, labelVal string) error
}

// ModServiceConfig configures the XRPC client for the external moderation
// service.
type ModServiceConfig struct {
	Host       string
	AdminToken string
	Handle     string
	Password   string
	// RateLimit caps label-application calls per second. Zero disables
	// limiting.
	RateLimit int
	Logger    *slog.Logger
}

// ModServiceClient issues tools.ozone.moderation.emitEvent calls against
// the moderation service, authenticated with a service session.
type ModServiceClient struct {
	logger  *slog.Logger
	client  *xrpc.Client
	limiter *rate.Limiter
}

func NewModServiceClient(ctx context.Context, cfg ModServiceConfig) (*ModServiceClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	xrpcc := &xrpc.Client{
		Client: util.RobustHTTPClient(),
		Host:   cfg.Host,
		Auth:   &xrpc.AuthInfo{},
	}
	if cfg.AdminToken != "" {
		xrpcc.AdminToken = &cfg.AdminToken
	}

	ident := cfg.Handle
	auth, err := comatproto.ServerCreateSession(ctx, xrpcc, &comatproto.ServerCreateSession_Input{
		Identifier: ident,
		Password:   cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to moderation service: %w", err)
	}
	xrpcc.Auth.AccessJwt = auth.AccessJwt
	xrpcc.Auth.RefreshJwt = auth.RefreshJwt
	xrpcc.Auth.Did = auth.Did
	xrpcc.Auth.Handle = auth.Handle

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &ModServiceClient{
		logger:  logger.With("component", "mod_client"),
		client:  xrpcc,
		limiter: limiter,
	}, nil
}

// wire shapes for tools.ozone.moderation.emitEvent

type modEventLabel struct {
	LexiconTypeID   string   `json:"$type"`
	CreateLabelVals []string `json:"createLabelVals"`
	NegateLabelVals []string `json:"negateLabelVals"`
}

type repoRef struct {
	LexiconTypeID string `json:"$type"`
	Did           string `json:"did"`
}

type emitEventInput struct {
	Event     modEventLabel `json:"event"`
	Subject   repoRef       `json:"subject"`
	CreatedBy string        `json:"createdBy"`
}

// ApplyLabel creates (or re-asserts) labelVal on the subject account.
func (c *ModServiceClient) ApplyLabel(ctx context.Context, subjectDID string, labelVal string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	input := &emitEventInput{
		Event: modEventLabel{
			LexiconTypeID:   "tools.ozone.moderation.defs#modEventLabel",
			CreateLabelVals: []string{labelVal},
			NegateLabelVals: []string{},
		},
		Subject: repoRef{
			LexiconTypeID: "com.atproto.admin.defs#repoRef",
			Did:           subjectDID,
		},
		CreatedBy: c.client.Auth.Did,
	}

	var out map[string]any
	if err := c.client.Do(ctx, xrpc.Procedure, "application/json", "tools.ozone.moderation.emitEvent", nil, input, &out); err != nil {
		return fmt.Errorf("emitting label event: %w", err)
	}
	return nil
}

// RunRefreshSession periodically refreshes the service session JWT.
// Expects to be run in a goroutine; it is the only code touching the auth
// fields after startup.
func (c *ModServiceClient) RunRefreshSession(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tmp := xrpc.Client{
				Host: c.client.Host,
				Auth: &xrpc.AuthInfo{
					Did:        c.client.Auth.Did,
					Handle:     c.client.Auth.Handle,
					AccessJwt:  c.client.Auth.RefreshJwt,
					RefreshJwt: c.client.Auth.RefreshJwt,
				},
			}
			refresh, err := comatproto.ServerRefreshSession(ctx, &tmp)
			if err != nil {
				// log and try again next tick
				c.logger.Error("failed to refresh moderation service session", "err", err, "host", c.client.Host)
				continue
			}
			c.client.Auth.AccessJwt = refresh.AccessJwt
			c.client.Auth.RefreshJwt = refresh.RefreshJwt
			c.logger.Info("refreshed moderation service session")
		}
	}
}
