// Package app wires the hedging engine from configuration. The CLI builds it
// directly; the daemon builds it through fx.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/fxhedge/broker"
	"github.com/rustyeddy/fxhedge/broker/oanda"
	"github.com/rustyeddy/fxhedge/broker/sim"
	"github.com/rustyeddy/fxhedge/config"
	"github.com/rustyeddy/fxhedge/eod"
	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/ledger"
	"github.com/rustyeddy/fxhedge/liquidity"
	"github.com/rustyeddy/fxhedge/margin"
	"github.com/rustyeddy/fxhedge/market"
	"github.com/rustyeddy/fxhedge/notify"
	"github.com/rustyeddy/fxhedge/oms"
	"github.com/rustyeddy/fxhedge/pkg/logger"
	"github.com/rustyeddy/fxhedge/recon"
)

// Services is the wired engine for one deployment.
type Services struct {
	Config   *config.Config
	Log      *zap.Logger
	Ledger   ledger.Store
	Rates    *market.SpotCache
	Gateway  broker.Gateway
	Notifier notify.Notifier

	// Sim is the in-process broker when broker.type is sim.
	Sim *sim.Broker

	Orders      *oms.Manager
	Recon       *recon.Orchestrator
	Coordinator *eod.Coordinator
	Scheduler   *eod.Scheduler

	oanda    *oanda.Client
	telegram *notify.Telegram
}

// New wires the engine over an open ledger. tracer may be nil.
func New(cfg *config.Config, log *zap.Logger, tracer opentracing.Tracer, store ledger.Store) (*Services, error) {
	log = logger.Or(log)

	conv, err := cfg.Market.Conventions()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Schedule.Timeout()
	if err != nil {
		return nil, fmt.Errorf("schedule.poll_timeout: %w", err)
	}
	interval, err := cfg.Schedule.Interval()
	if err != nil {
		return nil, fmt.Errorf("schedule.poll_interval: %w", err)
	}

	s := &Services{
		Config: cfg,
		Log:    log,
		Ledger: store,
		Rates:  market.NewSpotCache(cfg.Rates),
	}

	switch cfg.Broker.Type {
	case "oanda":
		base, err := oanda.BaseURL(cfg.Broker.Env)
		if err != nil {
			return nil, err
		}
		s.oanda = oanda.New(base, cfg.Broker.Token, cfg.Broker.RPS)
		s.Gateway = s.oanda
	default:
		s.Sim = sim.New(s.Rates)
		s.Gateway = s.Sim
	}

	alerts := notify.Multi{notify.NewLog(log)}
	if tg := cfg.Notifier.Telegram; tg.Token != "" {
		s.telegram, err = notify.NewTelegram(tg.Token, tg.ChatID, tg.Prefix, log)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		alerts = append(alerts, s.telegram)
	}
	s.Notifier = alerts

	var limiter *rate.Limiter
	if cfg.Broker.OrderRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Broker.OrderRPS), 1)
	}
	s.Orders = &oms.Manager{
		Store:       store,
		Gateway:     s.Gateway,
		Rates:       s.Rates,
		Conventions: conv,
		Limiter:     limiter,
		Log:         log.Named("oms"),
	}
	s.Recon = &recon.Orchestrator{
		Store:    store,
		Gateway:  s.Gateway,
		Fills:    s.Orders,
		Rates:    s.Rates,
		Notifier: s.Notifier,
		Log:      log.Named("recon"),
	}

	calc := &margin.Calculator{
		Rates:     s.Rates,
		Positions: margin.LedgerPositions{Store: store},
		Accounts:  Accounts(cfg),
		MaxUsage:  cfg.Margin.MaxUsage,
	}
	s.Coordinator = &eod.Coordinator{
		Store:       store,
		Recon:       s.Recon,
		Orders:      s.Orders,
		Scaler:      &liquidity.Scaler{Margin: calc, Notifier: s.Notifier, Log: log.Named("liquidity")},
		Margin:      calc,
		Notifier:    s.Notifier,
		Cashflows:   eod.Noop{},
		Forwards:    eod.Noop{},
		Accounts:    eod.Noop{},
		Optimizer:   Targets(cfg),
		Parachute:   eod.Noop{},
		Snapshots:   eod.Noop{},
		Utilization: cfg.Liquidity.Utilization,
		Tracer:      tracer,
		Log:         log.Named("eod"),
	}
	s.Scheduler = &eod.Scheduler{
		Store:        store,
		Pipeline:     s.Coordinator,
		Companies:    Companies(cfg),
		Notifier:     s.Notifier,
		Log:          log.Named("scheduler"),
		Concurrency:  cfg.Schedule.Concurrency,
		MaxAttempts:  cfg.Schedule.MaxAttempts,
		PollTimeout:  timeout,
		PollInterval: interval,
	}
	return s, nil
}

// Company returns a configured company.
func (s *Services) Company(id string) (hedge.Company, error) {
	cc, err := s.Config.Company(id)
	if err != nil {
		return hedge.Company{}, err
	}
	return cc.Company(), nil
}

// RefreshRates reprices every configured pair from the broker. The simulated
// broker keeps the configured rates.
func (s *Services) RefreshRates(ctx context.Context) error {
	if s.oanda == nil {
		return nil
	}
	pairs := Pairs(s.Config)
	if len(pairs) == 0 {
		return nil
	}
	account := s.Config.Broker.RatesAccount
	if account == "" {
		account = s.Config.Companies[0].BrokerAccount
	}
	if err := s.oanda.LoadRates(ctx, account, pairs, s.Rates); err != nil {
		return fmt.Errorf("%w: %v", hedge.ErrUnavailable, err)
	}
	return nil
}

// Close flushes pending alerts. The ledger belongs to the caller.
func (s *Services) Close() {
	if s.telegram != nil {
		s.telegram.Close()
	}
}

// Companies lists the configured companies in config order.
func Companies(cfg *config.Config) []hedge.Company {
	out := make([]hedge.Company, 0, len(cfg.Companies))
	for _, cc := range cfg.Companies {
		out = append(out, cc.Company())
	}
	return out
}

// Accounts is the margin view of each company.
func Accounts(cfg *config.Config) map[string]margin.Account {
	out := make(map[string]margin.Account, len(cfg.Companies))
	for _, cc := range cfg.Companies {
		out[cc.ID] = margin.Account{Currency: cc.Company().Currency, Equity: cc.Equity}
	}
	return out
}

// Targets turns configured targets into the static position optimizer.
func Targets(cfg *config.Config) eod.StaticTargets {
	out := make(eod.StaticTargets, len(cfg.Companies))
	for _, cc := range cfg.Companies {
		byType := make(map[hedge.AccountType][]eod.Target)
		for _, t := range cc.Targets {
			typ := t.AccountType()
			byType[typ] = append(byType[typ], eod.Target{
				AccountID: t.Account,
				Pair:      t.Pair,
				Exposure:  t.Exposure,
				Desired:   t.Desired,
			})
		}
		out[cc.ID] = byType
	}
	return out
}

// Pairs lists the registered pairs named by configured rates and targets.
func Pairs(cfg *config.Config) []string {
	set := make(map[string]bool)
	for p := range cfg.Rates {
		set[market.NormalizePair(p)] = true
	}
	for _, cc := range cfg.Companies {
		for _, t := range cc.Targets {
			set[market.NormalizePair(t.Pair)] = true
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		if _, err := market.LookupPair(p); err == nil {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// OpenLedger opens the configured ledger.
func OpenLedger(ctx context.Context, cfg *config.Config) (*ledger.DB, error) {
	if cfg.Ledger.DSN == "" {
		return nil, errors.New("ledger.dsn is required")
	}
	return ledger.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.DSN)
}
