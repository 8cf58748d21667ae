package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"hotelpipe/internal/domain"
	"hotelpipe/internal/etl"
	"hotelpipe/internal/logging"
	"hotelpipe/internal/metrics"
)

// PublisherConfig configures the publish loop.
type PublisherConfig struct {
	BaseURL      string
	DeviceToken  string
	Delay        time.Duration // wait after each call before the next
	MaxRows      int           // stop after this many rows; 0 means all
	RetryMax     int           // extra attempts per row; 0 sends each row at most once
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

// Publisher posts one telemetry message per record, in order.
type Publisher struct {
	cfg         PublisherConfig
	endpoint    string
	client      *retryablehttp.Client
	deadLetters domain.DeadLetterStore
	attempts    int
}

var _ etl.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher. deadLetters may be nil.
func NewPublisher(cfg PublisherConfig, deadLetters domain.DeadLetterStore) *Publisher {
	p := &Publisher{
		cfg:         cfg,
		endpoint:    fmt.Sprintf("%s/api/v1/%s/telemetry", strings.TrimRight(cfg.BaseURL, "/"), url.PathEscape(cfg.DeviceToken)),
		deadLetters: deadLetters,
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	client.Logger = retryLogger{}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		p.attempts = attempt + 1
	}
	p.client = client
	return p
}

// Publish sends every record. A failed row is logged, counted and
// dead-lettered, and the loop moves on. Only cancellation stops it early.
func (p *Publisher) Publish(ctx context.Context, records []etl.Record) (*etl.PublishResult, error) {
	res := &etl.PublishResult{}
	log := logging.Ctx(ctx)

	n := len(records)
	if p.cfg.MaxRows > 0 && p.cfg.MaxRows < n {
		n = p.cfg.MaxRows
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		body, err := json.Marshal(records[i].Data)
		res.Attempted++
		var status int
		if err == nil {
			status, err = p.send(ctx, body)
		} else {
			err = fmt.Errorf("encode payload: %w", err)
		}

		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			log.Warn().Int("row", i).Int("status", status).Err(err).Msg("publish failed")
			p.deadLetter(ctx, i, body, status, err)
		} else {
			res.Sent++
			log.Debug().Int("row", i).Int("status", status).Msg("published")
		}

		if i < n-1 {
			if err := sleep(ctx, p.cfg.Delay); err != nil {
				return res, err
			}
		}
	}

	log.Info().
		Int("attempted", res.Attempted).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Msg("publish finished")
	return res, nil
}

// Replay re-sends stored dead letters, oldest first, deleting each one
// the service accepts.
func (p *Publisher) Replay(ctx context.Context, limit int) (*etl.PublishResult, error) {
	if p.deadLetters == nil {
		return nil, fmt.Errorf("no dead-letter store configured")
	}
	letters, err := p.deadLetters.ListDeadLetters(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}

	res := &etl.PublishResult{}
	for i, d := range letters {
		if i > 0 {
			if err := sleep(ctx, p.cfg.Delay); err != nil {
				return res, err
			}
		}
		res.Attempted++
		status, err := p.send(ctx, []byte(d.PayloadJSON))
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			logging.Ctx(ctx).Warn().Int("row", d.RowIndex).Int("status", status).Err(err).Msg("replay failed")
			continue
		}
		res.Sent++
		if err := p.deadLetters.DeleteDeadLetter(ctx, d.ID); err != nil {
			return res, fmt.Errorf("delete dead letter %s: %w", d.ID, err)
		}
	}
	p.refreshGauge(ctx)
	return res, nil
}

func (p *Publisher) send(ctx context.Context, body []byte) (int, error) {
	start := time.Now()
	p.attempts = 0

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	ok := err == nil && status >= 200 && status < 300
	metrics.RecordPublish(ok, time.Since(start))

	if err != nil {
		return status, err
	}
	if !ok {
		return status, fmt.Errorf("unexpected status %d", status)
	}
	return status, nil
}

func (p *Publisher) deadLetter(ctx context.Context, row int, body []byte, status int, cause error) {
	if p.deadLetters == nil {
		return
	}
	d := &domain.DeadLetter{
		RowIndex:    row,
		PayloadJSON: string(body),
		StatusCode:  status,
		Error:       cause.Error(),
		Attempts:    max(p.attempts, 1),
	}
	if err := p.deadLetters.AddDeadLetter(ctx, d); err != nil {
		logging.Ctx(ctx).Error().Err(err).Int("row", row).Msg("store dead letter")
		return
	}
	metrics.DeadLetters.Inc()
}

func (p *Publisher) refreshGauge(ctx context.Context) {
	if n, err := p.deadLetters.CountDeadLetters(ctx); err == nil {
		metrics.DeadLetters.Set(float64(n))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryLogger routes retryablehttp's messages to the global logger.
type retryLogger struct{}

var _ retryablehttp.LeveledLogger = retryLogger{}

func (retryLogger) Error(msg string, kv ...interface{}) { logging.Error().Fields(kv).Msg(msg) }
func (retryLogger) Info(msg string, kv ...interface{})  { logging.Debug().Fields(kv).Msg(msg) }
func (retryLogger) Debug(msg string, kv ...interface{}) { logging.Debug().Fields(kv).Msg(msg) }
func (retryLogger) Warn(msg string, kv ...interface{})  { logging.Warn().Fields(kv).Msg(msg) }
