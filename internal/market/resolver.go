// Package market resolves the currently active up/down prediction market.
//
// Markets roll over on fixed 15-minute boundaries. The resolver maps the
// current wall clock to a market slug, fetches the instrument ids and
// reference prices from the gamma REST API, and caches the result until the
// window ends.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pricewire/leadlag/internal/config"
	"github.com/pricewire/leadlag/internal/model"
)

// ErrNoMarket indicates the gamma API returned no market for the current window.
var ErrNoMarket = errors.New("market: no active market for window")

// Resolver returns the market context for the active window.
type Resolver interface {
	// Resolve returns the current market context, re-fetching when the
	// cached window has rolled over.
	Resolve(ctx context.Context) (model.MarketContext, error)
}

// GammaResolver resolves markets against the gamma REST API.
type GammaResolver struct {
	cfg    config.ResolverConfig
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cached model.MarketContext
	valid  bool
}

// NewGammaResolver creates a resolver for the given gamma endpoint.
func NewGammaResolver(cfg config.ResolverConfig, logger *slog.Logger) *GammaResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &GammaResolver{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}
}

// WindowStart returns the start of the window containing t.
func WindowStart(t time.Time, window time.Duration) time.Time {
	return t.UTC().Truncate(window)
}

// Resolve implements Resolver.
func (r *GammaResolver) Resolve(ctx context.Context) (model.MarketContext, error) {
	now := r.now()

	r.mu.Lock()
	if r.valid && r.cached.Active(now) {
		mc := r.cached
		r.mu.Unlock()
		return mc, nil
	}
	r.mu.Unlock()

	start := WindowStart(now, r.cfg.Window)
	mc, err := r.fetch(ctx, start)
	if err != nil {
		return model.MarketContext{}, err
	}

	r.mu.Lock()
	r.cached = mc
	r.valid = true
	r.mu.Unlock()

	return mc, nil
}

// Refresh drops the cached context so the next Resolve re-fetches.
func (r *GammaResolver) Refresh() {
	r.mu.Lock()
	r.valid = false
	r.mu.Unlock()
}

// gammaMarket is the subset of the gamma market payload the relay needs.
type gammaMarket struct {
	Question     string          `json:"question"`
	Slug         string          `json:"slug"`
	ClobTokenIDs string          `json:"clobTokenIds"` // JSON array encoded as a string
	OpenPrice    json.RawMessage `json:"openPrice"`
	ClosePrice   json.RawMessage `json:"closePrice"`
}

func (r *GammaResolver) fetch(ctx context.Context, start time.Time) (model.MarketContext, error) {
	slug := fmt.Sprintf("%s-%d", r.cfg.SlugPrefix, start.Unix())

	u := fmt.Sprintf("%s/markets?slug=%s", r.cfg.GammaURL, url.QueryEscape(slug))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.MarketContext{}, fmt.Errorf("build market request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return model.MarketContext{}, fmt.Errorf("fetch market %s: %w", slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return model.MarketContext{}, fmt.Errorf("fetch market %s: status %d", slug, resp.StatusCode)
	}

	var markets []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return model.MarketContext{}, fmt.Errorf("decode market response: %w", err)
	}
	if len(markets) == 0 {
		return model.MarketContext{}, fmt.Errorf("%w: %s", ErrNoMarket, slug)
	}

	mkt := markets[0]

	var tokenIDs []string
	if err := json.Unmarshal([]byte(mkt.ClobTokenIDs), &tokenIDs); err != nil {
		return model.MarketContext{}, fmt.Errorf("decode clob token ids for %s: %w", slug, err)
	}
	if len(tokenIDs) < 2 {
		return model.MarketContext{}, fmt.Errorf("market %s: want 2 token ids, got %d", slug, len(tokenIDs))
	}

	open, openOK := coercePrice(mkt.OpenPrice)
	cls, closeOK := coercePrice(mkt.ClosePrice)

	mc := model.MarketContext{
		Slug:           slug,
		UpAssetID:      tokenIDs[0],
		DownAssetID:    tokenIDs[1],
		ReferenceOpen:  open,
		ReferenceClose: cls,
		WindowStart:    start,
		WindowEnd:      start.Add(r.cfg.Window),
		PriceDegraded:  !openOK || !closeOK,
	}

	r.logger.Info("resolved market",
		"slug", slug,
		"question", mkt.Question,
		"degraded", mc.PriceDegraded,
	)

	return mc, nil
}

// coercePrice accepts a number or a string-encoded number. A missing or
// unparseable value reports ok=false and the zero placeholder.
func coercePrice(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, f != 0
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, f != 0
		}
	}

	return 0, false
}
