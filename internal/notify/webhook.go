package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ozerpan/ercom-sync/internal/common"
	"github.com/ozerpan/ercom-sync/internal/events"
	"github.com/ozerpan/ercom-sync/internal/queue"
	"github.com/ozerpan/ercom-sync/internal/resilience"
)

// DeliveryTask is the queue kind of webhook deliveries.
const DeliveryTask = "webhook-delivery"

// Signature headers sent with every delivery.
const (
	HeaderSignature = "X-Ercom-Signature"
	HeaderTimestamp = "X-Ercom-Timestamp"
	HeaderEventID   = "X-Ercom-Event-Id"
)

var (
	// ErrInvalidURL is returned for subscriber URLs that cannot be posted to.
	ErrInvalidURL = errors.New("notify: invalid webhook url")
	// ErrPrivateHost is returned when a subscriber resolves to a private
	// address and private targets are not allowed.
	ErrPrivateHost = errors.New("notify: webhook host is private")
)

// Enqueuer is satisfied by queue.Enqueuer.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Dispatcher schedules and performs signed webhook deliveries to the
// configured subscribers.
type Dispatcher struct {
	URLs         []string
	Secret       string
	Topics       []string
	Queue        Enqueuer
	HTTP         *resilience.HTTPClient
	AllowPrivate bool
	MaxAttempts  int
	Replay       ReplayProtector
	ReplayTTL    time.Duration
	Resolver     Resolver
	Logger       zerolog.Logger
}

// delivery is the queued unit of work.
type delivery struct {
	URL   string       `json:"url"`
	Event events.Event `json:"event"`
}

// Enabled reports whether any subscriber is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && len(d.URLs) > 0
}

func (d *Dispatcher) subscribed(topic string) bool {
	if len(d.Topics) == 0 {
		return true
	}
	for _, t := range d.Topics {
		if t == topic || t == "*" {
			return true
		}
	}
	return false
}

// Schedule implements events.DeliveryScheduler by enqueuing one delivery
// per subscriber.
func (d *Dispatcher) Schedule(ctx context.Context, ev events.Event) error {
	if !d.Enabled() || d.Queue == nil || !d.subscribed(ev.Topic) {
		return nil
	}
	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	var joined error
	for _, u := range d.URLs {
		payload, err := json.Marshal(delivery{URL: u, Event: ev})
		if err != nil {
			return err
		}
		err = d.Queue.Enqueue(ctx, queue.Task{
			Kind:           DeliveryTask,
			Payload:        payload,
			IdempotencyKey: deliveryKey(u, ev),
			MaxAttempts:    maxAttempts,
		})
		if err != nil {
			joined = errors.Join(joined, fmt.Errorf("enqueue delivery to %s: %w", redact(u), err))
		}
	}
	return joined
}

// Notify implements events.Notifier.
func (d *Dispatcher) Notify(ctx context.Context, ev events.Event) error {
	return d.Schedule(ctx, ev)
}

// Deliver posts ev to target and returns the response status and body.
func (d *Dispatcher) Deliver(ctx context.Context, target string, ev events.Event) (int, string, error) {
	ctx, span := otel.Tracer("notify.Dispatcher").Start(ctx, "Dispatcher.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event_id", ev.ID.String()),
		attribute.String("webhook.topic", ev.Topic),
	)
	if err := d.validateURL(ctx, target); err != nil {
		span.RecordError(err)
		return 0, "", err
	}

	body, err := json.Marshal(struct {
		EventID     string          `json:"event_id"`
		Topic       string          `json:"topic"`
		AggregateID string          `json:"aggregate_id"`
		Data        json.RawMessage `json:"data"`
		OccurredAt  time.Time       `json:"occurred_at"`
	}{
		EventID:     ev.ID.String(),
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID,
		Data:        ev.Payload,
		OccurredAt:  ev.OccurredAt,
	})
	if err != nil {
		return 0, "", err
	}

	key := deliveryKey(target, ev)
	if d.Replay != nil && d.ReplayTTL > 0 {
		ok, err := d.Replay.Acquire(ctx, key, d.ReplayTTL)
		if err != nil {
			span.RecordError(err)
			return 0, "", err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			return http.StatusOK, "replay-suppressed", nil
		}
	}

	status, respBody, err := d.post(ctx, target, ev, body)
	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil || status < 200 || status >= 300 {
		if d.Replay != nil && d.ReplayTTL > 0 {
			_ = d.Replay.Release(context.WithoutCancel(ctx), key)
		}
		if err != nil {
			span.RecordError(err)
		}
	}
	return status, respBody, err
}

func (d *Dispatcher) post(ctx context.Context, target string, ev events.Event, body []byte) (int, string, error) {
	ts := time.Now().Unix()
	eventID := ev.ID.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ercom-sync-webhooks/1.0")
	req.Header.Set(HeaderEventID, eventID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, "sha256="+ComputeSignature(d.Secret, ts, eventID, body))

	client := d.HTTP
	if client == nil {
		client = &resilience.HTTPClient{Client: http.DefaultClient, MaxAttempts: 1, Timeout: 5 * time.Second}
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		return 0, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(respBody), nil
}

// validateURL accepts http(s) URLs with a host. Unless AllowPrivate is set,
// hosts resolving to loopback, private or link-local addresses are refused.
func (d *Dispatcher) validateURL(ctx context.Context, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	if d.AllowPrivate {
		return nil
	}
	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		resolver := d.Resolver
		if resolver == nil {
			resolver = net.DefaultResolver
		}
		addrs, err := resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return fmt.Errorf("%w: resolve %s: %v", ErrInvalidURL, host, err)
		}
		for _, a := range addrs {
			ips = append(ips, a.IP)
		}
	}
	for _, ip := range ips {
		if isPrivate(ip) {
			return fmt.Errorf("%w: %s", ErrPrivateHost, host)
		}
	}
	return nil
}

func isPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// ComputeSignature is the hex HMAC-SHA256 over "<ts>.<eventID>.<body>".
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func deliveryKey(target string, ev events.Event) string {
	return "wh:" + common.Sha256Hex(target)[:16] + ":" + ev.ID.String()
}

// redact drops credentials and query strings from u for logs and errors.
func redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return "invalid-url"
	}
	parsed.User = nil
	parsed.RawQuery = ""
	return strings.TrimSuffix(parsed.String(), "?")
}
