package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"CrmSync/internal/metrics"
	"CrmSync/internal/syncerr"
)

const maxErrorBody = 512

// hintedBackOff waits at least as long as the server asked for via Retry-After.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	next := h.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if h.hint > next {
		next = h.hint
	}
	h.hint = 0
	return next
}

func (h *hintedBackOff) Reset() {
	h.hint = 0
	h.BackOff.Reset()
}

func (a *Adapter) newBackOff() *hintedBackOff {
	exp := backoff.NewExponentialBackOff()
	if a.cfg.RetryInitialInterval > 0 {
		exp.InitialInterval = a.cfg.RetryInitialInterval
	}
	if a.cfg.RetryMaxInterval > 0 {
		exp.MaxInterval = a.cfg.RetryMaxInterval
	}
	exp.MaxElapsedTime = 0 // bounded by crm.retry_count instead
	exp.Reset()
	return &hintedBackOff{BackOff: exp}
}

// do sends one logical request, retrying rate-limited and transient failures.
// The returned error is always classified; an exhausted retry budget is Fatal.
func (a *Adapter) do(ctx context.Context, op, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return syncerr.New(syncerr.KindFatal, op, fmt.Errorf("encode request: %w", err))
		}
	}

	bo := a.newBackOff()
	attempt := 0
	operation := func() error {
		attempt++
		if err := a.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(syncerr.New(syncerr.KindFatal, op, err))
		}
		err := a.roundTrip(ctx, op, method, path, body, out)
		if err == nil {
			a.metrics.CRMRequest(metrics.OutcomeSuccess)
			return nil
		}

		var se *syncerr.Error
		if !errors.As(err, &se) || !se.Kind.Retryable() {
			a.metrics.CRMRequest(metrics.OutcomeFatal)
			return backoff.Permanent(err)
		}
		a.metrics.CRMRequest(se.Kind.String())
		bo.hint = se.RetryAfter
		return err
	}
	notify := func(err error, wait time.Duration) {
		kind := syncerr.KindOf(err)
		a.metrics.CRMRetry(kind.String())
		a.logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"kind":    kind.String(),
			"wait":    wait.String(),
		}).WithError(err).Warn("crm request failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(a.cfg.RetryCount)), ctx)
	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return syncerr.New(syncerr.KindFatal, op, ctxErr)
	}
	if syncerr.KindOf(err).Retryable() {
		a.logger.WithFields(logrus.Fields{"op": op, "attempts": attempt}).Error("crm retry budget exhausted")
		return syncerr.Escalate(err)
	}
	return err
}

func (a *Adapter) roundTrip(ctx context.Context, op, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return syncerr.New(syncerr.KindFatal, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return syncerr.New(syncerr.KindTransient, op, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.logger.WithError(err).WithField("op", op).Debug("close crm response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		retryAfter := syncerr.ParseRetryAfter(resp.Header.Get("Retry-After"), a.clock.Now())
		return syncerr.FromStatus(op, resp.StatusCode, retryAfter, string(bytes.TrimSpace(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return syncerr.New(syncerr.KindFatal, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
