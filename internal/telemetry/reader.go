package telemetry

import (
	"context"
	"fmt"
	"time"

	"hotelpipe/internal/etl"
	"hotelpipe/internal/logging"
)

// ReaderConfig identifies the device and credentials to read with.
type ReaderConfig struct {
	DeviceID  string
	Username  string
	Password  string
	Alignment Alignment
	Limit     int // per-key points per request; the window is paged past it
}

// defaultPageLimit is used when ReaderConfig.Limit is unset. The service
// applies its own small default otherwise.
const defaultPageLimit = 10000

// Reader pulls a device's stored telemetry back into a table.
type Reader struct {
	api API
	cfg ReaderConfig
}

// NewReader creates a Reader over api.
func NewReader(api API, cfg ReaderConfig) *Reader {
	if cfg.Alignment == "" {
		cfg.Alignment = AlignIndex
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultPageLimit
	}
	return &Reader{api: api, cfg: cfg}
}

// Keys logs in and lists the keys stored for the device.
func (r *Reader) Keys(ctx context.Context) ([]string, error) {
	token, err := r.api.Login(ctx, r.cfg.Username, r.cfg.Password)
	if err != nil {
		return nil, err
	}
	return r.api.TimeseriesKeys(ctx, token, r.cfg.DeviceID)
}

// Reassemble logs in, fetches the window page by page, and joins the
// series. Without keys, every key stored for the device is requested.
func (r *Reader) Reassemble(ctx context.Context, q etl.TelemetryQuery) (*etl.Table, error) {
	start := time.Now()

	token, err := r.api.Login(ctx, r.cfg.Username, r.cfg.Password)
	if err != nil {
		return nil, err
	}

	keys := q.Keys
	if len(keys) == 0 {
		if keys, err = r.api.TimeseriesKeys(ctx, token, r.cfg.DeviceID); err != nil {
			return nil, fmt.Errorf("discover keys: %w", err)
		}
		if len(keys) == 0 {
			return etl.EmptyTable(nil), nil
		}
	}

	set, pages, err := r.fetchWindow(ctx, token, keys, q.Start.UnixMilli(), q.End.UnixMilli())
	if err != nil {
		return nil, err
	}

	t, err := Reassemble(keys, set, r.cfg.Alignment)
	if err != nil {
		return nil, fmt.Errorf("reassemble: %w", err)
	}

	logging.Ctx(ctx).Info().
		Int("keys", len(keys)).
		Int("rows", t.NumRows()).
		Int("pages", pages).
		Str("alignment", string(r.cfg.Alignment)).
		Dur("took", time.Since(start)).
		Msg("telemetry reassembled")
	return t, nil
}

// fetchWindow reads [startTs, endTs] in pages of at most Limit points per
// key. When a key fills its page, the page is cut at the earliest last
// timestamp among the full keys and the next page starts right after it.
// A key holds at most one point per timestamp, so nothing is skipped.
func (r *Reader) fetchWindow(ctx context.Context, token string, keys []string, startTs, endTs int64) (*SeriesSet, int, error) {
	merged := &SeriesSet{Series: map[string][]Point{}}
	for pages := 1; ; pages++ {
		page, err := r.api.Timeseries(ctx, token, r.cfg.DeviceID, Query{
			Keys:    keys,
			StartTs: startTs,
			EndTs:   endTs,
			Limit:   r.cfg.Limit,
		})
		if err != nil {
			return nil, pages, err
		}

		cutoff, truncated := int64(0), false
		for _, k := range page.Keys {
			pts := page.Series[k]
			if len(pts) < r.cfg.Limit {
				continue
			}
			last := pts[len(pts)-1].TS
			if !truncated || last < cutoff {
				cutoff = last
			}
			truncated = true
		}

		for _, k := range page.Keys {
			pts := page.Series[k]
			if truncated {
				pts = pointsUpTo(pts, cutoff)
			}
			if len(pts) == 0 {
				continue
			}
			if _, seen := merged.Series[k]; !seen {
				merged.Keys = append(merged.Keys, k)
			}
			merged.Series[k] = append(merged.Series[k], pts...)
		}

		if !truncated {
			return merged, pages, nil
		}
		if cutoff >= endTs {
			return merged, pages, nil
		}
		if cutoff < startTs {
			return nil, pages, fmt.Errorf("timeseries page ends at %d before window start %d", cutoff, startTs)
		}
		logging.Ctx(ctx).Debug().Int("page", pages).Int64("next_start_ts", cutoff+1).Msg("telemetry page full, continuing")
		startTs = cutoff + 1
	}
}

// pointsUpTo returns the prefix of ascending pts with TS <= ts.
func pointsUpTo(pts []Point, ts int64) []Point {
	n := 0
	for n < len(pts) && pts[n].TS <= ts {
		n++
	}
	return pts[:n]
}
