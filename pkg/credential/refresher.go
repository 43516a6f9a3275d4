package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"rtlink/internal/circuitbreaker"
	rthttp "rtlink/internal/http"
	"rtlink/pkg/core"
)

const (
	// DefaultLeeway is how long before expiry Run renews the token.
	DefaultLeeway = 30 * time.Second
	// retryInterval is the wait after a failed renewal.
	retryInterval = 5 * time.Second
	// idleInterval is how often Run re-checks a token without a known expiry.
	idleInterval = time.Minute
)

type refreshRequest struct {
	Token string `json:"token"`
}

type refreshResponse struct {
	Token string `json:"token"`
}

// Refresher renews the token in a Store by posting it to a refresh endpoint.
// A successful renewal goes through Store.Rotate, so refresh subscribers are notified.
type Refresher struct {
	store   *Store
	client  *rthttp.Client
	url     string
	breaker *circuitbreaker.Breaker
	logger  zerolog.Logger
}

// NewRefresher creates a Refresher posting to url with the given HTTP client.
func NewRefresher(store *Store, client *rthttp.Client, url string) *Refresher {
	return &Refresher{
		store:   store,
		client:  client,
		url:     url,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:  zerolog.Nop(),
	}
}

// SetLogger configures the logger for the refresher.
func (r *Refresher) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

// Breaker exposes the circuit breaker guarding refresh calls.
func (r *Refresher) Breaker() *circuitbreaker.Breaker {
	return r.breaker
}

// Refresh exchanges the current token for a new one.
func (r *Refresher) Refresh(ctx context.Context) error {
	current := r.store.Current()
	if current.IsZero() {
		return core.NewConnError(core.ErrorTypeNoCredential, "nothing to refresh", core.ErrNoCredential)
	}

	errOpen := core.NewConnErrorWithCode(core.ErrorTypeTransport, core.ErrCodeBreakerOpen, "refresh suspended", core.ErrBreakerOpen)
	err := r.breaker.Do(func() error {
		return r.refresh(ctx, current)
	}, errOpen)
	if errors.Is(err, core.ErrBreakerOpen) {
		m := r.breaker.Metrics()
		r.logger.Warn().
			Int64("rejected", m.Rejected).
			Int32("state_changes", m.StateChanges).
			Str("breaker", m.CurrentState).
			Msg("token refresh suspended")
	}
	return err
}

func (r *Refresher) refresh(ctx context.Context, current core.Token) error {
	var body refreshResponse
	resp, err := r.client.Post(ctx, r.url, refreshRequest{Token: current.Value},
		rthttp.WithBearer(current.Value),
		rthttp.WithResult(&body),
	)
	if err != nil {
		r.logger.Warn().Err(err).Str("url", r.url).Msg("token refresh failed")
		return core.NewConnErrorWithCode(core.ErrorTypeTransport, core.ErrCodeRefreshFailed, "refresh request", err)
	}

	if resp.IsError() {
		errorType := core.ErrorTypeTransport
		if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
			errorType = core.ErrorTypeAuthRejected
		}
		r.logger.Warn().Int("status", resp.StatusCode()).Str("url", r.url).Msg("token refresh rejected")
		return core.NewConnErrorWithCode(errorType, core.ErrCodeRefreshFailed,
			fmt.Sprintf("refresh returned status %d", resp.StatusCode()), nil)
	}

	if err := r.store.Rotate(body.Token); err != nil {
		return core.NewConnErrorWithCode(core.ErrorTypeTransport, core.ErrCodeRefreshFailed, "refresh response", err)
	}

	r.logger.Info().Str("token", Mask(body.Token)).Msg("token refreshed")
	return nil
}

// Run renews the token leeway before it expires until ctx is done.
// Failed renewals are retried after a short pause; tokens without an expiry are re-checked periodically.
func (r *Refresher) Run(ctx context.Context, leeway time.Duration) error {
	failed := false
	for {
		wait := r.nextWait(leeway)
		if failed && wait < retryInterval {
			wait = retryInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if r.nextWait(leeway) > 0 {
			failed = false
			continue
		}
		err := r.Refresh(ctx)
		failed = err != nil
		if failed {
			r.logger.Warn().Err(err).Dur("retry_in", retryInterval).Msg("scheduled refresh failed")
		}
	}
}

func (r *Refresher) nextWait(leeway time.Duration) time.Duration {
	token := r.store.Current()
	if token.IsZero() || token.ExpiresAt.IsZero() {
		return idleInterval
	}
	wait := token.ExpiresAt.Sub(r.store.clock()) - leeway
	if wait < 0 {
		return 0
	}
	return wait
}
