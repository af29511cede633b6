package eastmoney

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/newthinker/screener/internal/collector"
	"github.com/newthinker/screener/internal/core"
)

const (
	historyBaseURL = "https://push2his.eastmoney.com"
	listBaseURL    = "https://push2.eastmoney.com"

	historyPath = "/api/qt/stock/kline/get"
	listPath    = "/api/qt/clist/get"

	// industry boards
	industryBoards = "m:90 t:2"

	defaultRetries   = 2
	defaultBackoff   = 300 * time.Millisecond
	defaultRateLimit = 5
	maxConstituents  = 500
)

var klinePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}),([^,]+),([^,]+),([^,]+),([^,]+),([^,]+)`)

// errEmpty marks a response that decoded but carried no rows. It is retried.
var errEmpty = errors.New("empty response")

// Eastmoney implements the Eastmoney collector for A-shares. History is
// forward-adjusted daily klines; the sector endpoints back the screening
// universe.
type Eastmoney struct {
	client     *http.Client
	config     collector.Config
	historyURL string
	listURL    string
	limiter    *rate.Limiter
	retries    int
	backoff    time.Duration
	logger     *zap.Logger
}

// Option configures the collector.
type Option func(*Eastmoney)

// WithBaseURL points both the history and list endpoints at base.
func WithBaseURL(base string) Option {
	return func(e *Eastmoney) {
		base = strings.TrimSuffix(base, "/")
		e.historyURL = base + historyPath
		e.listURL = base + listPath
	}
}

// WithTransport sets the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(e *Eastmoney) {
		e.client.Transport = rt
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Eastmoney) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithBackoff sets the base retry delay; attempt n waits n times this value.
func WithBackoff(d time.Duration) Option {
	return func(e *Eastmoney) {
		e.backoff = d
	}
}

// WithRateLimit paces requests to perSecond; zero or less disables pacing.
func WithRateLimit(perSecond float64) Option {
	return func(e *Eastmoney) {
		if perSecond <= 0 {
			e.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// New creates a new Eastmoney collector
func New(opts ...Option) *Eastmoney {
	e := &Eastmoney{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		historyURL: historyBaseURL + historyPath,
		listURL:    listBaseURL + listPath,
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), 1),
		retries:    defaultRetries,
		backoff:    defaultBackoff,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Eastmoney) Name() string {
	return "eastmoney"
}

func (e *Eastmoney) SupportedMarkets() []core.Market {
	return []core.Market{core.MarketCNA}
}

func (e *Eastmoney) Init(cfg collector.Config) error {
	e.config = cfg
	if cfg.BaseURL != "" {
		WithBaseURL(cfg.BaseURL)(e)
	}
	if cfg.Retries > 0 {
		e.retries = cfg.Retries
	}
	WithRateLimit(cfg.RateLimit)(e)
	return nil
}

func (e *Eastmoney) Start(ctx context.Context) error {
	return nil
}

func (e *Eastmoney) Stop() error {
	return nil
}

// parseSymbol converts any accepted A-share spelling to (code, market) for the
// Eastmoney API. Shanghai = 1, Shenzhen and Beijing = 0.
func (e *Eastmoney) parseSymbol(symbol string) (code, market string) {
	code, exch, _ := strings.Cut(core.NormalizeSymbol(symbol), ".")
	switch exch {
	case "SH":
		market = "1"
	default:
		market = "0"
	}
	return code, market
}

// FetchHistory fetches forward-adjusted OHLCV bars between start and end
func (e *Eastmoney) FetchHistory(symbol string, start, end time.Time, interval string) ([]core.OHLCV, error) {
	return e.FetchHistoryContext(context.Background(), symbol, start, end, interval)
}

// FetchHistoryContext is FetchHistory with cancellation.
func (e *Eastmoney) FetchHistoryContext(ctx context.Context, symbol string, start, end time.Time, interval string) ([]core.OHLCV, error) {
	canonical := core.NormalizeSymbol(symbol)
	code, market := e.parseSymbol(canonical)

	q := url.Values{}
	q.Set("secid", market+"."+code)
	q.Set("klt", e.toKlineType(interval))
	q.Set("fqt", "1")
	q.Set("beg", start.Format("20060102"))
	q.Set("end", end.Format("20060102"))
	q.Set("fields1", "f1,f2,f3,f4,f5,f6")
	q.Set("fields2", "f51,f52,f53,f54,f55,f56")

	var result historyResponse
	err := e.getJSON(ctx, e.historyURL+"?"+q.Encode(), &result, func() bool {
		return result.Data != nil && len(result.Data.Klines) > 0
	})
	if errors.Is(err, errEmpty) {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no history for symbol: %s", canonical))
	}
	if err != nil {
		return nil, core.WrapError(core.ErrCollectorFailed, fmt.Errorf("fetching history for %s: %w", canonical, err))
	}

	data := make([]core.OHLCV, 0, len(result.Data.Klines))
	for _, line := range result.Data.Klines {
		bar, ok := parseKline(line)
		if !ok {
			e.logger.Debug("malformed kline", zap.String("symbol", canonical), zap.String("line", line))
			continue
		}
		bar.Symbol = canonical
		bar.Interval = interval
		data = append(data, bar)
	}

	return data, nil
}

func parseKline(line string) (core.OHLCV, bool) {
	matches := klinePattern.FindStringSubmatch(line)
	if len(matches) < 7 {
		return core.OHLCV{}, false
	}

	t, err := time.Parse(time.DateOnly, matches[1])
	if err != nil {
		return core.OHLCV{}, false
	}
	var vals [4]float64
	for i := range vals {
		v, err := strconv.ParseFloat(matches[i+2], 64)
		if err != nil {
			return core.OHLCV{}, false
		}
		vals[i] = v
	}
	volume, err := strconv.ParseFloat(matches[6], 64)
	if err != nil {
		return core.OHLCV{}, false
	}

	// klines are date,open,close,high,low,volume
	return core.OHLCV{
		Open:   vals[0],
		Close:  vals[1],
		High:   vals[2],
		Low:    vals[3],
		Volume: int64(volume),
		Time:   t,
	}, true
}

// TopInflowSectors returns the n industry boards with the largest main-force
// net inflow today, largest first.
func (e *Eastmoney) TopInflowSectors(ctx context.Context, n int) ([]collector.Sector, error) {
	if n <= 0 {
		return nil, nil
	}

	q := listQuery(industryBoards, "f62", 100)
	q.Set("fields", "f12,f14,f62")

	var result listResponse
	err := e.getJSON(ctx, e.listURL+"?"+q.Encode(), &result, func() bool {
		return result.Data != nil && len(result.Data.Diff) > 0
	})
	if errors.Is(err, errEmpty) {
		return nil, core.WrapError(core.ErrNoData, errors.New("no sector fund flow data"))
	}
	if err != nil {
		return nil, core.WrapError(core.ErrCollectorFailed, fmt.Errorf("fetching sector flow: %w", err))
	}

	sectors := make([]collector.Sector, 0, len(result.Data.Diff))
	for _, row := range result.Data.Diff {
		if row.Code == "" || row.Inflow == nil {
			continue
		}
		sectors = append(sectors, collector.Sector{
			Code:      row.Code,
			Name:      row.Name,
			NetInflow: float64(*row.Inflow),
		})
	}
	sort.SliceStable(sectors, func(i, j int) bool {
		return sectors[i].NetInflow > sectors[j].NetInflow
	})
	if len(sectors) > n {
		sectors = sectors[:n]
	}
	return sectors, nil
}

// SectorConstituents lists the securities of a board.
func (e *Eastmoney) SectorConstituents(ctx context.Context, sector collector.Sector) ([]core.Security, error) {
	q := listQuery("b:"+sector.Code+" f:!50", "f3", maxConstituents)
	q.Set("fields", "f12,f14")

	var result listResponse
	err := e.getJSON(ctx, e.listURL+"?"+q.Encode(), &result, func() bool {
		return result.Data != nil && len(result.Data.Diff) > 0
	})
	if errors.Is(err, errEmpty) {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no constituents for sector %s", sector.Name))
	}
	if err != nil {
		return nil, core.WrapError(core.ErrCollectorFailed, fmt.Errorf("fetching constituents of %s: %w", sector.Name, err))
	}

	out := make([]core.Security, 0, len(result.Data.Diff))
	for _, row := range result.Data.Diff {
		if row.Code == "" {
			continue
		}
		out = append(out, core.Security{
			Symbol: core.NormalizeSymbol(row.Code),
			Name:   row.Name,
			Sector: sector.Name,
		})
	}
	return out, nil
}

func listQuery(fs, sortField string, size int) url.Values {
	q := url.Values{}
	q.Set("pn", "1")
	q.Set("pz", strconv.Itoa(size))
	q.Set("po", "1")
	q.Set("np", "1")
	q.Set("fltt", "2")
	q.Set("invt", "2")
	q.Set("fid", sortField)
	q.Set("fs", fs)
	return q
}

// getJSON fetches and decodes u, retrying transport errors, 5xx responses and
// empty payloads. ok reports whether the decoded payload has rows.
func (e *Eastmoney) getJSON(ctx context.Context, u string, out any, ok func() bool) error {
	var lastErr error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			e.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.backoff * time.Duration(attempt)):
			}
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}

		retry, err := e.get(ctx, u, out)
		if err == nil {
			if ok() {
				return nil
			}
			err, retry = errEmpty, true
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return lastErr
}

func (e *Eastmoney) get(ctx context.Context, u string, out any) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Referer", "https://quote.eastmoney.com/")

	resp, err := e.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return true, fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}
	return false, nil
}

func (e *Eastmoney) toKlineType(interval string) string {
	switch interval {
	case "1w":
		return "102"
	case "1mo":
		return "103"
	default:
		return "101"
	}
}

// Response types
type historyResponse struct {
	Data *historyData `json:"data"`
}

type historyData struct {
	Code   string   `json:"code"`
	Name   string   `json:"name"`
	Klines []string `json:"klines"`
}

type listResponse struct {
	Data *listData `json:"data"`
}

type listData struct {
	Total int       `json:"total"`
	Diff  []listRow `json:"diff"`
}

type listRow struct {
	Code   string     `json:"f12"`
	Name   string     `json:"f14"`
	Inflow *flexFloat `json:"f62"`
}

// flexFloat decodes a number that the API reports as "-" when missing.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "-" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}
