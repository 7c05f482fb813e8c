package sentry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	defaultQueueSize      = 30
	defaultRequestTimeout = 30 * time.Second
	defaultCloseTimeout   = 2 * time.Second

	envelopeContentType = "application/x-sentry-envelope"
)

// Transport delivers envelopes. Send must not block the caller on network
// I/O and never reports errors back; failures are logged and counted.
type Transport interface {
	Send(ctx context.Context, envelope *Envelope)
	Flush(timeout time.Duration) bool
	Close()
}

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// transportRequest is either an envelope to post or a flush marker.
type transportRequest struct {
	ctx      context.Context
	envelope *Envelope
	flushed  chan struct{}
}

// HTTPTransport posts envelopes to the DSN's envelope endpoint from a single
// background worker. The queue is bounded; envelopes that do not fit are
// dropped. There is no retry.
type HTTPTransport struct {
	client  httpClient
	url     string
	auth    string
	timeout time.Duration

	queue     chan transportRequest
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// HTTPTransportOption configures an HTTPTransport.
type HTTPTransportOption func(t *HTTPTransport)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(client httpClient) HTTPTransportOption {
	return func(t *HTTPTransport) { t.client = client }
}

// WithQueueSize sets how many envelopes may wait for the worker.
func WithQueueSize(size int) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if size > 0 {
			t.queue = make(chan transportRequest, size)
		}
	}
}

// WithRequestTimeout bounds each upload.
func WithRequestTimeout(timeout time.Duration) HTTPTransportOption {
	return func(t *HTTPTransport) { t.timeout = timeout }
}

// NewHTTPTransport starts a transport for dsn.
func NewHTTPTransport(dsn *Dsn, opts ...HTTPTransportOption) *HTTPTransport {
	t := &HTTPTransport{
		client:  http.DefaultClient,
		url:     dsn.EnvelopeAPIURL(),
		auth:    dsn.AuthHeader(),
		timeout: defaultRequestTimeout,
		queue:   make(chan transportRequest, defaultQueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.wg.Add(1)
	go t.worker()
	return t
}

// Send queues envelope. The upload runs on a context detached from ctx, so a
// finished or cancelled request does not abort delivery.
func (t *HTTPTransport) Send(ctx context.Context, envelope *Envelope) {
	select {
	case <-t.done:
		logger.debug("transport closed, envelope dropped")
		envelopesDropped.WithLabelValues(dropReasonClosed).Inc()
		return
	default:
	}
	select {
	case t.queue <- transportRequest{ctx: newDetachedContext(ctx), envelope: envelope}:
	default:
		logger.warn("transport queue full, envelope dropped")
		envelopesDropped.WithLabelValues(dropReasonQueueOverflow).Inc()
	}
}

// Flush waits until every envelope queued before the call was handled.
func (t *HTTPTransport) Flush(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	flushed := make(chan struct{})
	select {
	case t.queue <- transportRequest{flushed: flushed}:
	case <-timer.C:
		return false
	case <-t.done:
		return false
	}
	select {
	case <-flushed:
		return true
	case <-timer.C:
		logger.warn("flush timed out")
		return false
	case <-t.done:
		return false
	}
}

// Close flushes briefly and stops the worker. Later sends are dropped.
func (t *HTTPTransport) Close() {
	t.closeOnce.Do(func() {
		t.Flush(defaultCloseTimeout)
		close(t.done)
		t.wg.Wait()
	})
}

func (t *HTTPTransport) worker() {
	defer t.wg.Done()
	for {
		select {
		case req := <-t.queue:
			if req.flushed != nil {
				close(req.flushed)
				continue
			}
			if err := t.post(req.ctx, req.envelope); err != nil {
				logger.error("sending envelope:", err)
				envelopesDropped.WithLabelValues(dropReasonSendError).Inc()
				continue
			}
			envelopesSent.Inc()
		case <-t.done:
			return
		}
	}
}

func (t *HTTPTransport) post(ctx context.Context, envelope *Envelope) error {
	body, err := envelope.Serialize()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", envelopeContentType)
	req.Header.Set("User-Agent", sdkName+"/"+SDKVersion)
	req.Header.Set("X-Sentry-Auth", t.auth)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make an HTTP request: %w", err)
	}
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upstream responded with status %d", resp.StatusCode)
	}
	logger.debug("envelope sent:", envelope.Header.EventID)
	return nil
}

// noopTransport discards everything. It backs clients without a DSN.
type noopTransport struct{}

func (noopTransport) Send(context.Context, *Envelope) {
	logger.debug("no DSN configured, envelope discarded")
}

func (noopTransport) Flush(time.Duration) bool { return true }

func (noopTransport) Close() {}

// newDetachedContext keeps the values of parent but none of its deadline or
// cancellation.
func newDetachedContext(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return detachedContext{parent: parent}
}

var _ context.Context = detachedContext{}

type detachedContext struct {
	parent context.Context
}

func (d detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }

func (d detachedContext) Done() <-chan struct{} { return nil }

func (d detachedContext) Err() error { return nil }

func (d detachedContext) Value(key any) any { return d.parent.Value(key) }
