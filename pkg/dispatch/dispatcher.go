package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/account"
	"mercator-hq/ganymede/pkg/anthropic"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/gemini"
	"mercator-hq/ganymede/pkg/relay"
	"mercator-hq/ganymede/pkg/routing"
	"mercator-hq/ganymede/pkg/sigcache"
	"mercator-hq/ganymede/pkg/telemetry/logging"
	"mercator-hq/ganymede/pkg/telemetry/metrics"
	"mercator-hq/ganymede/pkg/translator"
	"mercator-hq/ganymede/pkg/upstream"
)

// RequestOutcome summarizes one completed dispatch for recording.
type RequestOutcome struct {
	RequestID string
	Model     string
	Account   string
	Status    string
	ErrorKind string
	Attempts  int
	Usage     anthropic.Usage
	Duration  time.Duration
}

// UsageSink records completed requests for the usage history and request
// log.
type UsageSink interface {
	Record(outcome RequestOutcome)
}

// Backoff and wait pacing.
const (
	// waitChunk slices long rate-limit waits so progress can be logged
	// and cancellation observed.
	waitChunk = 10 * time.Second

	// idleRetrySleep paces re-selection when accounts are busy but not
	// rate limited (e.g. concurrency caps).
	idleRetrySleep = 2 * time.Second

	// capacityBackoff is the pause after server-wide congestion.
	capacityBackoff = 5 * time.Second

	// endpointBackoff is the pause between endpoint descents on 5xx.
	endpointBackoff = time.Second

	// networkBackoff is the pause after a connection-level failure.
	networkBackoff = time.Second

	// unknownBackoff is the conservative pause for unclassified failures.
	unknownBackoff = 30 * time.Second
)

// Dispatcher runs the outer retry loop: pick account, translate, call
// upstream, classify, and retry, switch, wait, or fall back.
type Dispatcher struct {
	cfg      *config.Config
	pool     *account.Pool
	sessions *account.Sessions
	policy   routing.Policy
	client   *upstream.Client
	trans    *translator.Translator
	cache    *sigcache.Cache

	// metrics and usage may be nil; recording is then skipped.
	metrics *metrics.Metrics
	usage   UsageSink
}

// New creates a dispatcher.
func New(cfg *config.Config, pool *account.Pool, sessions *account.Sessions, policy routing.Policy, client *upstream.Client, trans *translator.Translator, cache *sigcache.Cache, m *metrics.Metrics, usageSink UsageSink) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		pool:     pool,
		sessions: sessions,
		policy:   policy,
		client:   client,
		trans:    trans,
		cache:    cache,
		metrics:  m,
		usage:    usageSink,
	}
}

// requestState is the per-request ephemeral context.
type requestState struct {
	requestID      string
	requestedModel string
	resolvedModel  string
	sessionID      string
	class          account.QuotaClass
	attempt        int
	lastAccount    string

	// onWait, when set, is called while the dispatcher waits for a
	// rate-limit reset (streaming progress updates).
	onWait func(remaining time.Duration)
}

// Do serves a non-streaming request. Thinking-capable models still go
// through the SSE endpoint upstream (unary drops reasoning blocks); the
// stream is aggregated back into a single response.
func (d *Dispatcher) Do(ctx context.Context, req *anthropic.MessagesRequest) (*anthropic.MessagesResponse, error) {
	rs := d.newState(ctx, req, nil)
	started := time.Now()

	resp, err := d.withFallback(ctx, rs, func(ctx context.Context, model string) (*anthropic.MessagesResponse, error) {
		return d.doUnary(ctx, rs, req, model)
	})

	d.record(rs, resp, err, started)
	return resp, err
}

// DoStream serves a streaming request, emitting A-format events on sink.
// Failures before the upstream stream opens return an error (the handler
// still owns the HTTP status); failures after that surface as a terminal
// error event.
func (d *Dispatcher) DoStream(ctx context.Context, req *anthropic.MessagesRequest, sink relay.Sink) error {
	started := time.Now()
	var rl *relay.Relay
	rs := d.newState(ctx, req, func(remaining time.Duration) {
		// Progress pings go straight to the sink: waits happen before the
		// relay exists, and the SSE headers are already out.
		if d.cfg.Dispatch.ProgressUpdates() {
			_ = sink.Emit(&anthropic.StreamEvent{Type: anthropic.EventPing})
		}
	})

	_, err := d.withFallback(ctx, rs, func(ctx context.Context, model string) (*anthropic.MessagesResponse, error) {
		greq, buildErr := d.trans.BuildRequest(req, model, rs.sessionID)
		if buildErr != nil {
			return nil, &Error{Kind: KindBadRequest, Message: buildErr.Error(), HTTPStatus: http.StatusBadRequest}
		}

		body, acct, execErr := d.executeStream(ctx, rs, model, greq)
		if execErr != nil {
			return nil, execErr
		}
		defer d.pool.Release(acct)
		defer body.Close()

		// Client disconnect must unblock the upstream read immediately;
		// closing the body is what interrupts a blocked scan.
		watchdogDone := make(chan struct{})
		defer close(watchdogDone)
		go func() {
			select {
			case <-ctx.Done():
				body.Close()
			case <-watchdogDone:
			}
		}()

		rl = relay.New(d.cache, rs.requestedModel, rs.sessionID, sink)
		if runErr := rl.Run(ctx, body); runErr != nil {
			// The relay already emitted the error event when headers
			// were out; nothing further can reach the client.
			return nil, &Error{Kind: KindServerTransient, Message: runErr.Error(), HTTPStatus: 0}
		}
		usage := rl.Usage()
		d.sessions.AddTokens(rs.sessionID, int64(usage.InputTokens+usage.OutputTokens))
		return &anthropic.MessagesResponse{Model: rs.requestedModel, Usage: usage}, nil
	})

	if err == nil {
		d.recordStream(rs, rl, started)
	}
	return err
}

// Models lists public model ids via any valid account.
func (d *Dispatcher) Models(ctx context.Context) ([]string, error) {
	for _, acct := range d.pool.List() {
		if acct.IsInvalid() || !acct.IsEnabled() {
			continue
		}
		models, err := d.client.ListModels(ctx, acct)
		if err != nil {
			slog.Debug("model discovery failed", "account", acct.Key, "error", err)
			continue
		}
		return d.filterHidden(models), nil
	}
	return nil, &Error{Kind: KindUnknown, Message: "no account available for model discovery", HTTPStatus: http.StatusServiceUnavailable}
}

func (d *Dispatcher) filterHidden(models []string) []string {
	out := make([]string, 0, len(models))
	for _, m := range models {
		if mapping, ok := d.cfg.ModelMapping[m]; ok && mapping.Hidden {
			continue
		}
		out = append(out, m)
	}
	return out
}

// newState derives the per-request context: request id, session, resolved
// model, quota class.
func (d *Dispatcher) newState(ctx context.Context, req *anthropic.MessagesRequest, onWait func(time.Duration)) *requestState {
	requestID := logging.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	tag := ""
	if req.Metadata != nil {
		tag = req.Metadata.UserID
	}
	sessionID := account.DeriveSessionID(firstUserText(req.Messages), tag)
	d.sessions.Track(sessionID, len(req.Messages))

	return &requestState{
		requestID:      requestID,
		requestedModel: req.Model,
		resolvedModel:  d.resolveModel(req.Model),
		sessionID:      sessionID,
		class:          d.client.QuotaClass(),
		onWait:         onWait,
	}
}

// resolveModel applies alias and mapping overrides.
func (d *Dispatcher) resolveModel(requested string) string {
	for id, mapping := range d.cfg.ModelMapping {
		if mapping.Alias == requested {
			requested = id
			break
		}
	}
	if mapping, ok := d.cfg.ModelMapping[requested]; ok && mapping.Mapping != "" {
		return mapping.Mapping
	}
	return requested
}

// withFallback walks the model fallback chain. The chain only advances on
// exhaustion-style failures; the inner runs always have fallback disabled,
// so the walk cannot recurse.
func (d *Dispatcher) withFallback(ctx context.Context, rs *requestState, run func(ctx context.Context, model string) (*anthropic.MessagesResponse, error)) (*anthropic.MessagesResponse, error) {
	model := rs.resolvedModel
	tried := map[string]bool{}

	for {
		tried[model] = true
		resp, err := run(ctx, model)
		if err == nil {
			return resp, nil
		}

		var de *Error
		fallbackable := d.cfg.Dispatch.AutoFallback &&
			asDispatchError(err, &de) &&
			(de.Kind.IsRateLimit() || de.Kind == KindUnknown || de.Kind == KindServerTransient)
		if !fallbackable {
			return nil, err
		}
		next := d.cfg.Fallback[model]
		if next == "" || tried[next] {
			return nil, err
		}
		slog.Warn("descending model fallback chain",
			"request_id", rs.requestID,
			"from", model,
			"to", next,
		)
		model = next
	}
}

// doUnary runs the full retry loop for one model and translates the result.
func (d *Dispatcher) doUnary(ctx context.Context, rs *requestState, req *anthropic.MessagesRequest, model string) (*anthropic.MessagesResponse, error) {
	greq, err := d.trans.BuildRequest(req, model, rs.sessionID)
	if err != nil {
		return nil, &Error{Kind: KindBadRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest}
	}

	gresp, err := d.execute(ctx, rs, model, greq)
	if err != nil {
		return nil, err
	}

	resp, err := d.trans.TranslateResponse(gresp, rs.requestedModel, rs.sessionID)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Message: err.Error(), HTTPStatus: http.StatusInternalServerError}
	}
	d.sessions.AddTokens(rs.sessionID, int64(resp.Usage.InputTokens+resp.Usage.OutputTokens))
	return resp, nil
}

// execute is the account retry loop for a unary call.
func (d *Dispatcher) execute(ctx context.Context, rs *requestState, model string, greq *gemini.Request) (*gemini.Response, error) {
	var result *gemini.Response
	err := d.retryLoop(ctx, rs, model, func(ctx context.Context, acct *account.Account, baseURL string) error {
		var callErr error
		if translator.SupportsThinking(model) {
			// Unary responses drop reasoning blocks; aggregate the SSE
			// stream instead.
			var body io.ReadCloser
			body, callErr = d.client.Stream(ctx, acct, baseURL, model, greq)
			if callErr == nil {
				defer body.Close()
				result, callErr = aggregateStream(body)
			}
		} else {
			result, callErr = d.client.Generate(ctx, acct, baseURL, model, greq)
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// executeStream is the account retry loop for a streaming call. On success
// the account stays borrowed; the caller releases it when the relay ends.
func (d *Dispatcher) executeStream(ctx context.Context, rs *requestState, model string, greq *gemini.Request) (io.ReadCloser, *account.Account, error) {
	var body io.ReadCloser
	var holder *account.Account
	err := d.retryLoopKeepBorrow(ctx, rs, model, func(ctx context.Context, acct *account.Account, baseURL string) error {
		b, callErr := d.client.Stream(ctx, acct, baseURL, model, greq)
		if callErr != nil {
			return callErr
		}
		body = b
		holder = acct
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return body, holder, nil
}

// retryLoop runs attempts until success or a terminal failure, releasing
// the borrowed account after each attempt.
func (d *Dispatcher) retryLoop(ctx context.Context, rs *requestState, model string, call func(ctx context.Context, acct *account.Account, baseURL string) error) error {
	return d.loop(ctx, rs, model, call, true)
}

// retryLoopKeepBorrow is retryLoop except the successful attempt keeps the
// account borrowed for the caller.
func (d *Dispatcher) retryLoopKeepBorrow(ctx context.Context, rs *requestState, model string, call func(ctx context.Context, acct *account.Account, baseURL string) error) error {
	return d.loop(ctx, rs, model, call, false)
}

func (d *Dispatcher) loop(ctx context.Context, rs *requestState, model string, call func(ctx context.Context, acct *account.Account, baseURL string) error, releaseOnSuccess bool) error {
	maxAttempts := d.cfg.Dispatch.MaxRetries
	if n := d.pool.Len() + 1; n > maxAttempts {
		maxAttempts = n
	}
	maxWait := time.Duration(d.cfg.Dispatch.MaxWaitBeforeErrorMs) * time.Millisecond

	// Optimistic reset: when the whole pool is limited for this model,
	// the recorded resets are upper bounds and often wrong; clear them
	// once to force a fresh probe.
	optimisticReset := false

	var lastCls Classification
	var idleWaited time.Duration

	for rs.attempt < maxAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		dec := d.policy.Select(d.pool, model, rs.class, &routing.Request{
			RequestID:     rs.requestID,
			Session:       d.sessions.Get(rs.sessionID),
			PinnedAccount: d.pinnedAccount(model),
		})
		d.gaugeUsable(model, rs.class)

		if dec.Account == nil {
			if d.pool.AllLimited(model, rs.class) {
				wait, ok := d.pool.MinWait(model, rs.class)
				if !ok {
					wait = idleRetrySleep
				}
				if wait > maxWait && !d.cfg.Dispatch.InfiniteRetryMode {
					return d.rateLimitedError(model, wait)
				}
				if err := d.sleepInChunks(ctx, rs, wait); err != nil {
					return err
				}
				d.pool.ClearExpired()
				if len(d.pool.UsableAccounts(model, rs.class)) == 0 && !optimisticReset {
					d.pool.ResetAllFor(model)
					optimisticReset = true
				}
				continue // waiting does not consume an attempt
			}

			// No candidates and no limit to wait out: either the pool is
			// empty, or accounts are busy behind their concurrency caps.
			// The total idle wait is bounded like any other wait.
			if idleWaited >= maxWait && !d.cfg.Dispatch.InfiniteRetryMode {
				return &Error{
					Kind:       KindUnknown,
					Message:    fmt.Sprintf("no usable account for %s within %s", model, maxWait),
					HTTPStatus: http.StatusServiceUnavailable,
				}
			}
			if err := sleepCtx(ctx, idleRetrySleep); err != nil {
				return err
			}
			idleWaited += idleRetrySleep
			continue
		}

		if dec.Wait > 0 {
			if err := sleepCtx(ctx, dec.Wait); err != nil {
				return err
			}
		}

		acct := dec.Account
		rs.lastAccount = acct.Key
		d.pool.Borrow(acct)
		err := d.tryEndpoints(ctx, rs, acct, call)
		if err == nil {
			if releaseOnSuccess {
				d.pool.Release(acct)
			}
			d.recordOutcome(acct.Key, "success")
			d.pool.ClearRateLimit(acct.Key, account.QuotaKey(model, rs.class))
			return nil
		}
		d.pool.Release(acct)

		if ctx.Err() != nil {
			// Client cancellation is not a failure; no health penalty.
			return ctx.Err()
		}

		cls := Classify(err)
		lastCls = cls
		d.countError(cls.Kind)
		rs.attempt++

		slog.WarnContext(ctx, "attempt failed",
			"request_id", rs.requestID,
			"account", acct.Key,
			"model", model,
			"kind", cls.Kind.String(),
			"attempt", rs.attempt,
			"status", cls.Status,
		)

		switch cls.Kind {
		case KindAuthPermanentlyInvalid:
			d.pool.MarkInvalid(acct.Key, cls.Message)
			d.recordOutcome(acct.Key, "failure")

		case KindAuthExpired:
			// The token refresh inside the endpoint descent failed to
			// stick; drop the cached token and move on.
			d.client.Tokens().Invalidate(acct.Key)
			d.recordOutcome(acct.Key, "failure")
			if err := sleepCtx(ctx, networkBackoff); err != nil {
				return err
			}

		case KindRateLimitedUserQuota:
			d.markLimited(acct.Key, model, rs.class, cls, account.LimitTypeUser)

		case KindRateLimitedDaily:
			d.markLimited(acct.Key, model, rs.class, cls, account.LimitTypeDaily)

		case KindRateLimitedCapacity:
			// Server-wide congestion; same account is fine after a pause.
			if err := sleepCtx(ctx, capacityBackoff); err != nil {
				return err
			}

		case KindBadRequest:
			return &Error{Kind: KindBadRequest, Message: cls.Message, HTTPStatus: http.StatusBadRequest}

		case KindNetworkTransient:
			d.recordOutcome(acct.Key, "failure")
			if err := sleepCtx(ctx, networkBackoff); err != nil {
				return err
			}

		case KindServerTransient:
			d.recordOutcome(acct.Key, "failure")
			if err := sleepCtx(ctx, d.backoff(rs.attempt)); err != nil {
				return err
			}

		default:
			d.recordOutcome(acct.Key, "failure")
			if err := sleepCtx(ctx, unknownBackoff); err != nil {
				return err
			}
		}
	}

	return d.exhaustedError(rs, lastCls)
}

// exhaustedError maps the final failure after all attempts: unrecoverable
// auth keeps its status, everything else is unavailability.
func (d *Dispatcher) exhaustedError(rs *requestState, lastCls Classification) error {
	out := &Error{
		Kind:       lastCls.Kind,
		Message:    fmt.Sprintf("request failed after %d attempts: %s", rs.attempt, lastCls.Message),
		HTTPStatus: http.StatusServiceUnavailable,
	}
	switch lastCls.Status {
	case http.StatusUnauthorized:
		out.HTTPStatus = http.StatusUnauthorized
	case http.StatusForbidden:
		out.HTTPStatus = http.StatusForbidden
	}
	if lastCls.Kind.IsRateLimit() {
		// 400 rather than 429 to stop client-side auto-retry storms.
		out.HTTPStatus = http.StatusBadRequest
	}
	return out
}

// tryEndpoints descends the upstream host fallback order for one account.
func (d *Dispatcher) tryEndpoints(ctx context.Context, rs *requestState, acct *account.Account, call func(ctx context.Context, acct *account.Account, baseURL string) error) error {
	var lastErr error
	var rateLimit *upstream.StatusError
	refreshedAuth := false

	baseURLs := d.client.BaseURLs()
	for i := 0; i < len(baseURLs); i++ {
		baseURL := baseURLs[i]
		err := call(ctx, acct, baseURL)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		lastErr = err

		cls := Classify(err)
		switch cls.Kind {
		case KindAuthExpired:
			d.client.Tokens().Invalidate(acct.Key)
			if !refreshedAuth {
				// Retry the same endpoint once with a fresh token.
				refreshedAuth = true
				i--
				continue
			}

		case KindRateLimitedUserQuota, KindRateLimitedDaily:
			// Record the smallest reset seen across endpoints; another
			// host may still have room.
			var se *upstream.StatusError
			if asStatusError(err, &se) {
				if rateLimit == nil || (se.RetryAfterMillis > 0 && se.RetryAfterMillis < rateLimit.RetryAfterMillis) {
					rateLimit = se
				}
			}

		case KindServerTransient:
			if err := sleepCtx(ctx, endpointBackoff); err != nil {
				return err
			}

		case KindBadRequest, KindAuthPermanentlyInvalid, KindNetworkTransient, KindRateLimitedCapacity:
			return err
		}
	}

	if rateLimit != nil {
		return rateLimit
	}
	return lastErr
}

// markLimited marks the account limited and tells the policy.
func (d *Dispatcher) markLimited(accountKey, model string, class account.QuotaClass, cls Classification, limitType string) {
	quotaKey := account.QuotaKey(model, class)
	d.pool.MarkRateLimited(accountKey, quotaKey, cls.ResetMillis, limitType)
	d.recordOutcome(accountKey, "rate_limit")
	if d.metrics != nil {
		d.metrics.RecordRateLimited(accountKey, quotaKey)
	}
}

// sleepInChunks waits out a rate-limit reset in slices, logging progress
// and emitting stream progress updates.
func (d *Dispatcher) sleepInChunks(ctx context.Context, rs *requestState, total time.Duration) error {
	remaining := total
	for remaining > 0 {
		chunk := waitChunk
		if remaining < chunk {
			chunk = remaining
		}
		slog.InfoContext(ctx, "waiting for rate-limit reset",
			"request_id", rs.requestID,
			"remaining", remaining.String(),
		)
		if rs.onWait != nil {
			rs.onWait(remaining)
		}
		if err := sleepCtx(ctx, chunk); err != nil {
			return err
		}
		if d.metrics != nil {
			d.metrics.AddWait(chunk)
		}
		remaining -= chunk
	}
	return nil
}

// rateLimitedError is the terminal all-accounts-limited failure. It uses
// status 400 rather than 429 deliberately: client SDKs auto-retry 429s and
// would pile onto an exhausted pool.
func (d *Dispatcher) rateLimitedError(model string, wait time.Duration) error {
	return &Error{
		Kind:       KindRateLimitedUserQuota,
		Message:    fmt.Sprintf("all accounts are rate limited for %s; earliest reset in %s", model, wait.Round(time.Second)),
		HTTPStatus: http.StatusBadRequest,
	}
}

// backoff returns the exponential backoff for the attempt, clamped to the
// configured band.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	base := time.Duration(d.cfg.Dispatch.RetryBaseMs) * time.Millisecond
	max := time.Duration(d.cfg.Dispatch.RetryMaxMs) * time.Millisecond
	delay := base
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	return delay
}

func (d *Dispatcher) pinnedAccount(model string) string {
	if mapping, ok := d.cfg.ModelMapping[model]; ok {
		return mapping.Pinned
	}
	return ""
}

func (d *Dispatcher) recordOutcome(accountKey, outcome string) {
	rec, ok := d.policy.(routing.OutcomeRecorder)
	if !ok {
		return
	}
	switch outcome {
	case "success":
		rec.RecordSuccess(accountKey)
	case "rate_limit":
		rec.RecordRateLimit(accountKey)
	default:
		rec.RecordFailure(accountKey)
	}
}

func (d *Dispatcher) gaugeUsable(model string, class account.QuotaClass) {
	if d.metrics != nil {
		d.metrics.SetUsableAccounts(model, len(d.pool.UsableAccounts(model, class)))
	}
}

func (d *Dispatcher) countError(kind ErrorKind) {
	if d.metrics != nil {
		d.metrics.RecordUpstreamError(kind.String())
	}
}

func (d *Dispatcher) record(rs *requestState, resp *anthropic.MessagesResponse, err error, started time.Time) {
	status := "success"
	kind := ""
	if err != nil {
		status = "error"
		var de *Error
		if asDispatchError(err, &de) {
			kind = de.Kind.String()
		}
	}
	var usage anthropic.Usage
	if resp != nil {
		usage = resp.Usage
	}
	if d.metrics != nil {
		d.metrics.RecordRequest(rs.requestedModel, status, time.Since(started), rs.attempt+1)
		d.metrics.RecordTokens(rs.requestedModel, usage.InputTokens, usage.OutputTokens, usage.CacheReadInputTokens)
	}
	if d.usage != nil {
		d.usage.Record(RequestOutcome{
			RequestID: rs.requestID,
			Model:     rs.requestedModel,
			Account:   rs.lastAccount,
			Status:    status,
			ErrorKind: kind,
			Attempts:  rs.attempt + 1,
			Usage:     usage,
			Duration:  time.Since(started),
		})
	}
}

func (d *Dispatcher) recordStream(rs *requestState, rl *relay.Relay, started time.Time) {
	if rl == nil {
		return
	}
	usage := rl.Usage()
	if d.metrics != nil {
		d.metrics.RecordRequest(rs.requestedModel, "success", time.Since(started), rs.attempt+1)
		d.metrics.RecordTokens(rs.requestedModel, usage.InputTokens, usage.OutputTokens, usage.CacheReadInputTokens)
	}
	if d.usage != nil {
		d.usage.Record(RequestOutcome{
			RequestID: rs.requestID,
			Model:     rs.requestedModel,
			Account:   rs.lastAccount,
			Status:    "success",
			Attempts:  rs.attempt + 1,
			Usage:     usage,
			Duration:  time.Since(started),
		})
	}
}

// firstUserText returns the text of the first user message.
func firstUserText(messages []anthropic.Message) string {
	for i := range messages {
		if messages[i].Role == anthropic.RoleUser {
			for j := range messages[i].Content {
				if messages[i].Content[j].Type == anthropic.BlockText {
					return messages[i].Content[j].Text
				}
			}
		}
	}
	return ""
}

// sleepCtx sleeps unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func asDispatchError(err error, target **Error) bool {
	de, ok := err.(*Error)
	if ok {
		*target = de
	}
	return ok
}

func asStatusError(err error, target **upstream.StatusError) bool {
	se, ok := err.(*upstream.StatusError)
	if ok {
		*target = se
	}
	return ok
}
