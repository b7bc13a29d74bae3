package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"broker-simv1/config"
	"broker-simv1/internal/dispatch"
	"broker-simv1/internal/insight"
	"broker-simv1/internal/journal"
	"broker-simv1/internal/ledger"
	"broker-simv1/internal/logger"
	"broker-simv1/internal/metrics"
	"broker-simv1/internal/model"
	"broker-simv1/internal/notification"
	"broker-simv1/internal/orderlog"
	"broker-simv1/internal/quote"
	"broker-simv1/internal/scheduler"
	"broker-simv1/internal/store"
	"broker-simv1/internal/trading"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("[brokerd] starting...")

	// ---- Load config from env ----
	cfg := config.Load()
	logger.Init("brokerd", logger.ParseLevel(cfg.LogLevel))

	// ---- Metrics & health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Persistent store ----
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("[brokerd] data dir: %v", err)
	}
	st, err := store.New(cfg.DataDir)
	if err != nil {
		log.Fatalf("[brokerd] store init failed: %v", err)
	}
	seedStore(st, cfg)
	log.Printf("[brokerd] store ready at %s", cfg.DataDir)

	// ---- Ledger & order log ----
	lg, err := ledger.Open(st)
	if err != nil {
		log.Fatalf("[brokerd] ledger open failed: %v", err)
	}
	olog := orderlog.New(st)

	// ---- Execution journal (optional) ----
	var recorder scheduler.Recorder
	if cfg.JournalPath != "" {
		jnl, err := journal.Open(cfg.JournalPath)
		if err != nil {
			log.Printf("[brokerd] WARNING: journal init failed: %v (continuing without journal)", err)
		} else {
			defer jnl.Close()
			recorder = jnl
			log.Printf("[brokerd] execution journal ready at %s", cfg.JournalPath)
		}
	}

	// ---- Quote source: ws feed > static, optionally redis-cached ----
	quotes := buildQuoteSource(ctx, cfg, health)

	// ---- Insight source (optional) ----
	var insights model.InsightSource
	if cfg.InsightURL != "" {
		insights = insight.NewClient(cfg.InsightURL)
		log.Printf("[brokerd] insight client ready (%s)", cfg.InsightURL)
	}

	// ---- Notifiers ----
	notifier := buildNotifier(cfg)

	// ---- Scheduler ----
	sched := scheduler.New(scheduler.Config{
		Ledger:   lg,
		Orders:   olog,
		Notifier: notifier,
		Recorder: recorder,
		Metrics:  prom,
		Health:   health,
		MinDelay: cfg.OrderDelayMin,
		MaxDelay: cfg.OrderDelayMax,
	})
	if err := sched.Resume(); err != nil {
		log.Printf("[brokerd] WARNING: resume of open orders failed: %v", err)
	}

	// ---- Trading service & dispatcher ----
	svc := trading.New(lg, olog, sched, quotes, insights, prom)
	disp := dispatch.New(svc, lg, quotes, insights)

	// ---- Periodic position revaluation ----
	if cfg.RevalueInterval > 0 {
		go revalueLoop(ctx, lg, quotes, cfg.RevalueInterval)
	}

	log.Printf("[brokerd] ready — settlement window [%v, %v], cash %s",
		cfg.OrderDelayMin, cfg.OrderDelayMax, lg.CurrentBalance().Cash.StringFixed(2))

	// ---- Command loop on stdin until EOF or signal ----
	lineCh := make(chan string)
	go readLines(lineCh)

	runLoop(ctx, disp, lineCh, sigCh)

	// ---- Shutdown ----
	log.Println("[brokerd] shutting down...")
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[brokerd] shutdown complete.")
}

// seedStore writes initial state for any kind that has no file yet.
func seedStore(st *store.Store, cfg *config.Config) {
	seeded, err := st.EnsureSeed(store.KindBalances, model.Balance{
		Cash:        cfg.StartingCash,
		NonCash:     decimal.Zero,
		Total:       cfg.StartingCash,
		LastUpdated: time.Now().UTC(),
	})
	if err != nil {
		log.Fatalf("[brokerd] seed balances: %v", err)
	}
	if seeded {
		log.Printf("[brokerd] seeded fresh account with %s cash", cfg.StartingCash.StringFixed(2))
	}
	if _, err := st.EnsureSeed(store.KindPositions, []model.Position{}); err != nil {
		log.Fatalf("[brokerd] seed positions: %v", err)
	}
	if _, err := st.EnsureSeed(store.KindOrders, []model.Order{}); err != nil {
		log.Fatalf("[brokerd] seed orders: %v", err)
	}
	if _, err := st.EnsureSeed(store.KindUser, model.Profile{Username: cfg.Username}); err != nil {
		log.Fatalf("[brokerd] seed user: %v", err)
	}
}

// buildQuoteSource assembles the quote stack: the websocket feed when
// configured (static prices as fallback), wrapped in the redis cache when
// available.
func buildQuoteSource(ctx context.Context, cfg *config.Config, health *metrics.HealthStatus) model.QuoteSource {
	var src model.QuoteSource

	static := quote.NewStatic(cfg.ParseStaticQuotes())
	src = static

	if cfg.QuoteWSURL != "" {
		feed := quote.NewFeed(quote.FeedConfig{
			URL:     cfg.QuoteWSURL,
			Symbols: cfg.QuoteSymbols(),
			Health:  health,
		})
		feed.Start(ctx)
		src = fallbackSource{primary: feed, fallback: static}
		log.Printf("[brokerd] quote feed streaming from %s", cfg.QuoteWSURL)
	}

	if cfg.RedisAddr != "" {
		cache, err := quote.NewCache(quote.CacheConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      30 * time.Second,
			Health:   health,
		}, src)
		if err != nil {
			log.Printf("[brokerd] WARNING: redis init failed: %v (continuing without quote cache)", err)
		} else {
			src = cache
		}
	}
	return src
}

// fallbackSource tries the primary source and falls back on quote misses,
// so placements keep working while the feed warms up or is down.
type fallbackSource struct {
	primary  model.QuoteSource
	fallback model.QuoteSource
}

func (f fallbackSource) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	q, err := f.primary.GetQuote(ctx, symbol)
	if err == nil {
		return q, nil
	}
	return f.fallback.GetQuote(ctx, symbol)
}

func buildNotifier(cfg *config.Config) notification.Notifier {
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Println("[brokerd] webhook notifier enabled")
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[brokerd] telegram notifier enabled")
	}
	if len(backends) == 1 {
		return backends[0]
	}
	return notification.NewMulti(backends...)
}

// revalueLoop refreshes position prices from the quote source so non-cash
// and total track the market between executions.
func revalueLoop(ctx context.Context, lg *ledger.Ledger, quotes model.QuoteSource, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := lg.RefreshValuations(ctx, quotes); err != nil {
				log.Printf("[brokerd] revaluation failed: %v", err)
			}
		}
	}
}

func readLines(out chan<- string) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- sc.Text()
	}
	close(out)
}

func runLoop(ctx context.Context, disp *dispatch.Dispatcher, lineCh <-chan string, sigCh <-chan os.Signal) {
	fmt.Println("Commands: buy|sell SYMBOL QTY [PRICE], cancel ORDID, status, history, balances, positions, quote SYMBOL, insight SYMBOL, rename NAME, quit")
	for {
		fmt.Print("> ")
		select {
		case <-sigCh:
			fmt.Println()
			return
		case line, ok := <-lineCh:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.EqualFold(line, "quit") || strings.EqualFold(line, "exit") {
				return
			}

			req, err := parseCommand(line)
			if err != nil {
				fmt.Println(dispatch.ErrorText(err))
				continue
			}
			resp, err := disp.Dispatch(ctx, req)
			if err != nil {
				fmt.Println(dispatch.ErrorText(err))
				continue
			}
			fmt.Println(resp.Text)
		}
	}
}

// parseCommand turns one input line into a dispatch request.
func parseCommand(line string) (dispatch.Request, error) {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "buy", "sell":
		if len(args) < 2 || len(args) > 3 {
			return dispatch.Request{}, fmt.Errorf("%w: usage: %s SYMBOL QTY [PRICE]", model.ErrInvalidRequest, cmd)
		}
		qty, err := decimal.NewFromString(args[1])
		if err != nil {
			return dispatch.Request{}, fmt.Errorf("%w: bad quantity %q", model.ErrInvalidRequest, args[1])
		}
		req := dispatch.Request{
			Op:       dispatch.OpPlaceOrder,
			Side:     model.SideBuy,
			Symbol:   args[0],
			Quantity: qty,
		}
		if cmd == "sell" {
			req.Side = model.SideSell
		}
		if len(args) == 3 {
			price, err := decimal.NewFromString(args[2])
			if err != nil {
				return dispatch.Request{}, fmt.Errorf("%w: bad price %q", model.ErrInvalidRequest, args[2])
			}
			req.Price = &price
		}
		return req, nil

	case "cancel":
		if len(args) != 1 {
			return dispatch.Request{}, fmt.Errorf("%w: usage: cancel ORDID", model.ErrInvalidRequest)
		}
		return dispatch.Request{Op: dispatch.OpCancelOrder, OrderID: args[0]}, nil

	case "status":
		return dispatch.Request{Op: dispatch.OpOrderStatus}, nil
	case "history":
		return dispatch.Request{Op: dispatch.OpTransactionHistory}, nil
	case "balances":
		return dispatch.Request{Op: dispatch.OpViewBalances}, nil
	case "positions":
		return dispatch.Request{Op: dispatch.OpViewPositions}, nil

	case "quote":
		if len(args) != 1 {
			return dispatch.Request{}, fmt.Errorf("%w: usage: quote SYMBOL", model.ErrInvalidRequest)
		}
		return dispatch.Request{Op: dispatch.OpGetQuote, Symbol: args[0]}, nil

	case "insight":
		if len(args) != 1 {
			return dispatch.Request{}, fmt.Errorf("%w: usage: insight SYMBOL", model.ErrInvalidRequest)
		}
		return dispatch.Request{Op: dispatch.OpGetInsight, Symbol: args[0]}, nil

	case "rename":
		if len(args) == 0 {
			return dispatch.Request{}, fmt.Errorf("%w: usage: rename NAME", model.ErrInvalidRequest)
		}
		return dispatch.Request{Op: dispatch.OpRename, Name: strings.Join(args, " ")}, nil

	default:
		return dispatch.Request{}, fmt.Errorf("%w: unknown command %q", model.ErrInvalidRequest, cmd)
	}
}
