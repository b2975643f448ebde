// loadtest запускает конкурентные сценарии против собранного в процессе сервиса
// и печатает сводку: сколько операций прошло, причины отказов, задержки и итоговые остатки.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/fulfillment/internal/app"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
)

type scenario string

const (
	scenarioStock   scenario = "stock"
	scenarioBalance scenario = "balance"
	scenarioCoupons scenario = "coupons"
)

type config struct {
	scenario    scenario
	total       int
	concurrency int
	stock       int64
	balance     int64
	amount      int64
	storage     string
	postgresDSN string
	lockDriver  string
	redisAddr   string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type lockSettings struct {
	WaitBudgetMs int64 `json:"wait_budget_ms"`
	LeaseMs      int64 `json:"lease_ms"`
}

func lockSettingsOf(opts lock.Options) lockSettings {
	return lockSettings{WaitBudgetMs: opts.WaitBudget.Milliseconds(), LeaseMs: opts.Lease.Milliseconds()}
}

type report struct {
	Scenario        string           `json:"scenario"`
	StartedAt       time.Time        `json:"started_at"`
	DurationSeconds float64          `json:"duration_seconds"`
	Attempts        int64            `json:"attempts"`
	Succeeded       int64            `json:"succeeded"`
	Contended       int64            `json:"contended"`
	LockFailures    int64            `json:"lock_failures"`
	Outcomes        map[string]int64 `json:"outcomes"`
	RPS             float64          `json:"rps"`
	LatencyMs       latencySummary   `json:"latency_ms"`
	Locks           lockSettings     `json:"locks"`
	FinalStock      *int64           `json:"final_stock,omitempty"`
	FinalBalance    *int64           `json:"final_balance,omitempty"`
	FinalActive     *int64           `json:"final_active_coupons,omitempty"`
}

type collector struct {
	mu           sync.Mutex
	attempts     int64
	succeeded    int64
	contended    int64
	lockFailures int64
	outcomes     map[string]int64
	latencies    []float64
}

func newCollector() *collector {
	return &collector{outcomes: make(map[string]int64)}
}

func (c *collector) record(latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts++
	outcome := outcomeOf(err)
	if err == nil {
		c.succeeded++
	}
	if domain.IsContention(err) {
		c.contended++
	}
	if lock.IsAcquireError(err) {
		c.lockFailures++
	}
	c.outcomes[outcome]++
	c.latencies = append(c.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(name scenario, startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcomes := make(map[string]int64, len(c.outcomes))
	for k, v := range c.outcomes {
		outcomes[k] = v
	}
	result := report{
		Scenario:        string(name),
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Attempts:        c.attempts,
		Succeeded:       c.succeeded,
		Contended:       c.contended,
		LockFailures:    c.lockFailures,
		Outcomes:        outcomes,
		LatencyMs:       buildLatencySummary(c.latencies),
	}
	if duration > 0 {
		result.RPS = float64(c.attempts) / duration.Seconds()
	}
	return result
}

// outcomeOf сводит ошибку к причине отказа; ошибки вне саги (выдача купонов) сводятся к sentinel-ошибке домена.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var fe *saga.FulfillmentError
	if errors.As(err, &fe) {
		return string(fe.Reason)
	}
	for _, known := range []error{domain.ErrCouponLimitReached, domain.ErrLockTimeout, domain.ErrLockStoreUnavailable} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "other"
}

func parseConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)

	var (
		cfg          config
		scenarioName string
	)
	fs.StringVar(&scenarioName, "scenario", string(scenarioStock), "scenario: stock|balance|coupons")
	fs.IntVar(&cfg.total, "total", 20, "number of concurrent operations")
	fs.IntVar(&cfg.concurrency, "concurrency", 0, "max in-flight operations (0 = total)")
	fs.Int64Var(&cfg.stock, "stock", 10, "initial product stock (stock scenario)")
	fs.Int64Var(&cfg.balance, "balance", 10000, "initial balance of the shared user (balance scenario)")
	fs.Int64Var(&cfg.amount, "amount", 6000, "order amount (balance scenario)")
	fs.StringVar(&cfg.storage, "storage", app.StorageMemory, "storage driver: memory|postgres")
	fs.StringVar(&cfg.postgresDSN, "postgres-dsn", os.Getenv("FULFILLMENT_POSTGRES_DSN"), "PostgreSQL DSN for -storage=postgres")
	fs.StringVar(&cfg.lockDriver, "locks", app.LockMemory, "lock driver: memory|redis")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "localhost:6379", "Redis address for -locks=redis")
	fs.StringVar(&cfg.outputPath, "out", "", "optional path for a JSON report")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	switch scenario(scenarioName) {
	case scenarioStock, scenarioBalance, scenarioCoupons:
		cfg.scenario = scenario(scenarioName)
	default:
		return config{}, fmt.Errorf("unsupported scenario %q", scenarioName)
	}
	if cfg.total <= 0 {
		return config{}, errors.New("total must be > 0")
	}
	if cfg.concurrency < 0 {
		return config{}, errors.New("concurrency must be >= 0")
	}
	if cfg.concurrency == 0 {
		cfg.concurrency = cfg.total
	}
	if cfg.stock < 0 || cfg.balance < 0 || cfg.amount <= 0 {
		return config{}, errors.New("stock and balance must be >= 0, amount must be > 0")
	}
	return cfg, nil
}

func (c config) appConfig() app.Config {
	cfg := app.DefaultConfig()
	cfg.StorageDriver = c.storage
	cfg.PostgresDSN = c.postgresDSN
	cfg.LockDriver = c.lockDriver
	cfg.RedisAddr = c.redisAddr
	cfg.LockRetryInterval = 5 * time.Millisecond
	return cfg
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.WarnLevel)

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fail("invalid flags: %v", err)
	}

	result, err := run(context.Background(), cfg)
	if err != nil {
		fail("loadtest failed: %v", err)
	}

	printReport(result)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			fail("write report: %v", err)
		}
	}
}

func run(ctx context.Context, cfg config) (report, error) {
	deps, err := app.NewDependencies(ctx, cfg.appConfig(), log.WithField("component", "loadtest"))
	if err != nil {
		return report{}, err
	}
	defer deps.Close()

	ops, finalize, err := prepare(ctx, cfg, deps)
	if err != nil {
		return report{}, err
	}

	c := newCollector()
	startedAt := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for _, op := range ops {
		g.Go(func() error {
			began := time.Now()
			err := op(gctx)
			c.record(time.Since(began), err)
			return nil
		})
	}
	_ = g.Wait()

	result := c.buildReport(cfg.scenario, startedAt, time.Since(startedAt))
	result.Locks = lockSettingsOf(deps.Locker.Options())
	if err := finalize(ctx, &result); err != nil {
		return report{}, err
	}
	return result, nil
}

type operation func(ctx context.Context) error

// prepare заводит данные под сценарий и возвращает операции и функцию, снимающую итоговое состояние.
func prepare(ctx context.Context, cfg config, deps *app.Dependencies) ([]operation, func(context.Context, *report) error, error) {
	ops := make([]operation, 0, cfg.total)

	switch cfg.scenario {
	case scenarioStock:
		product, err := deps.Products.Create(ctx, domain.Product{Name: "drill-stock", Price: 100, Stock: cfg.stock})
		if err != nil {
			return nil, nil, err
		}
		for i := 0; i < cfg.total; i++ {
			acc, err := deps.Accounts.Create(ctx, domain.Account{Name: "drill-" + strconv.Itoa(i), Balance: 100})
			if err != nil {
				return nil, nil, err
			}
			ops = append(ops, placeOrder(deps, acc.UserID, product.ID))
		}
		return ops, func(ctx context.Context, r *report) error {
			p, err := deps.Products.Get(ctx, product.ID)
			if err != nil {
				return err
			}
			r.FinalStock = &p.Stock
			return nil
		}, nil

	case scenarioBalance:
		product, err := deps.Products.Create(ctx, domain.Product{Name: "drill-balance", Price: cfg.amount, Stock: int64(cfg.total)})
		if err != nil {
			return nil, nil, err
		}
		acc, err := deps.Accounts.Create(ctx, domain.Account{Name: "drill-shared", Balance: cfg.balance})
		if err != nil {
			return nil, nil, err
		}
		for i := 0; i < cfg.total; i++ {
			ops = append(ops, placeOrder(deps, acc.UserID, product.ID))
		}
		return ops, func(ctx context.Context, r *report) error {
			a, err := deps.Accounts.Get(ctx, acc.UserID)
			if err != nil {
				return err
			}
			r.FinalBalance = &a.Balance
			return nil
		}, nil

	case scenarioCoupons:
		for i := 0; i < cfg.total; i++ {
			acc, err := deps.Accounts.Create(ctx, domain.Account{Name: "drill-" + strconv.Itoa(i)})
			if err != nil {
				return nil, nil, err
			}
			userID := acc.UserID
			ops = append(ops, func(ctx context.Context) error {
				_, err := deps.Coupons.Issue(ctx, userID)
				return err
			})
		}
		return ops, func(ctx context.Context, r *report) error {
			active, err := deps.Coupons.ActiveCount(ctx)
			if err != nil {
				return err
			}
			r.FinalActive = &active
			return nil
		}, nil
	}

	return nil, nil, fmt.Errorf("unsupported scenario %q", cfg.scenario)
}

func placeOrder(deps *app.Dependencies, userID, productID int64) operation {
	return func(ctx context.Context) error {
		_, err := deps.Saga.Place(ctx, saga.PlaceOrderCommand{
			UserID: userID,
			Items:  []saga.ItemRequest{{ProductID: productID, Quantity: 1}},
		})
		return err
	}
}

func writeJSONReport(path string, result report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func printReport(result report) {
	fmt.Printf("scenario=%s attempts=%d succeeded=%d duration=%.2fs rps=%.2f\n",
		result.Scenario, result.Attempts, result.Succeeded, result.DurationSeconds, result.RPS)
	fmt.Printf("contended=%d lock_failures=%d lock_wait=%dms lock_lease=%dms\n",
		result.Contended, result.LockFailures, result.Locks.WaitBudgetMs, result.Locks.LeaseMs)
	fmt.Printf("latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.LatencyMs.Min,
		result.LatencyMs.Avg,
		result.LatencyMs.P50,
		result.LatencyMs.P95,
		result.LatencyMs.P99,
		result.LatencyMs.Max,
	)

	names := make([]string, 0, len(result.Outcomes))
	for name := range result.Outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %d\n", name, result.Outcomes[name])
	}
	if result.FinalStock != nil {
		fmt.Printf("final stock=%d\n", *result.FinalStock)
	}
	if result.FinalBalance != nil {
		fmt.Printf("final balance=%d\n", *result.FinalBalance)
	}
	if result.FinalActive != nil {
		fmt.Printf("final active coupons=%d\n", *result.FinalActive)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
