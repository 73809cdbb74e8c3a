package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"lamport/pkg/platform/circuit"
)

//go:generate mockgen -source=publisher.go -destination=mocks/publisher_mock.go -package=mocks EventPublisher

var (
	ErrNoRelays     = errors.New("no relays configured")
	ErrRelaySkipped = errors.New("relay circuit open")
)

// EventPublisher submits a signed event and returns its id.
type EventPublisher interface {
	Publish(ctx context.Context, ev nostr.Event) (string, error)
}

// conn is the part of *nostr.Relay the publisher uses.
type conn interface {
	Publish(ctx context.Context, ev nostr.Event) error
	IsConnected() bool
	Close() error
}

type dialFunc func(ctx context.Context, url string) (conn, error)

func dialRelay(ctx context.Context, url string) (conn, error) {
	return nostr.RelayConnect(ctx, url)
}

// RelayPublisher fans events out to every configured relay. Connections are
// opened on first use and re-opened after a failure. A relay that keeps
// failing is skipped until its breaker lets a probe through.
type RelayPublisher struct {
	urls        []string
	limiter     *rate.Limiter
	timeout     time.Duration
	dial        dialFunc
	logger      *slog.Logger
	tracer      trace.Tracer
	breakerOpts []circuit.Option
	breakers    map[string]*circuit.Breaker

	mu    sync.Mutex
	conns map[string]conn
}

type PublisherOption func(*RelayPublisher)

// WithRate limits publishes per second across all relays. Zero disables the
// limit.
func WithRate(perSecond float64) PublisherOption {
	return func(p *RelayPublisher) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			p.limiter = rate.NewLimiter(rate.Inf, 0)
		}
	}
}

func WithTimeout(d time.Duration) PublisherOption {
	return func(p *RelayPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *RelayPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithBreaker tunes the per-relay circuit breakers.
func WithBreaker(opts ...circuit.Option) PublisherOption {
	return func(p *RelayPublisher) {
		p.breakerOpts = append(p.breakerOpts, opts...)
	}
}

func withDialer(dial dialFunc) PublisherOption {
	return func(p *RelayPublisher) {
		p.dial = dial
	}
}

func NewRelayPublisher(urls []string, opts ...PublisherOption) *RelayPublisher {
	p := &RelayPublisher{
		urls:    urls,
		limiter: rate.NewLimiter(rate.Limit(5), 1),
		timeout: 10 * time.Second,
		dial:    dialRelay,
		logger:  slog.Default(),
		tracer:  otel.Tracer("lamport/internal/relay"),
		conns:   make(map[string]conn),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.breakers = make(map[string]*circuit.Breaker, len(p.urls))
	for _, url := range p.urls {
		p.breakers[url] = circuit.New(url, p.breakerOpts...)
	}
	return p
}

// Publish succeeds when at least one relay accepted ev.
func (p *RelayPublisher) Publish(ctx context.Context, ev nostr.Event) (string, error) {
	if len(p.urls) == 0 {
		return "", ErrNoRelays
	}
	ctx, span := p.tracer.Start(ctx, "relay.publish", trace.WithAttributes(
		attribute.String("nostr.event_id", ev.ID),
		attribute.Int("nostr.kind", ev.Kind),
	))
	defer span.End()

	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("publish rate limit: %w", err)
	}

	var (
		accepted int
		errs     []error
	)
	for _, url := range p.urls {
		breaker := p.breakers[url]
		if !breaker.Allow() {
			errs = append(errs, fmt.Errorf("%s: %w", url, ErrRelaySkipped))
			continue
		}
		if err := p.publishTo(ctx, url, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			p.logger.WarnContext(ctx, "relay rejected event", "relay", url, "event_id", ev.ID, "error", err)
			if _, change := breaker.RecordFailure(); change.Opened {
				p.logger.WarnContext(ctx, "relay circuit opened", "relay", url)
			}
			continue
		}
		if _, change := breaker.RecordSuccess(); change.Closed {
			p.logger.InfoContext(ctx, "relay circuit closed", "relay", url)
		}
		accepted++
	}
	if accepted == 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no relay accepted the event")
		return "", fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	span.SetAttributes(attribute.Int("nostr.relays_accepted", accepted))
	return ev.ID, nil
}

func (p *RelayPublisher) publishTo(ctx context.Context, url string, ev nostr.Event) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	c, err := p.connection(ctx, url)
	if err != nil {
		return err
	}
	if err := c.Publish(ctx, ev); err != nil {
		p.drop(url, c)
		return err
	}
	return nil
}

func (p *RelayPublisher) connection(ctx context.Context, url string) (conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[url]; ok && c.IsConnected() {
		return c, nil
	}
	c, err := p.dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	p.conns[url] = c
	return c, nil
}

func (p *RelayPublisher) drop(url string, c conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[url] == c {
		delete(p.conns, url)
	}
	_ = c.Close()
}

// Close disconnects every relay.
func (p *RelayPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for url, c := range p.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
		}
		delete(p.conns, url)
	}
	return errors.Join(errs...)
}
