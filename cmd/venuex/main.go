// Command venuex runs the venue abstraction as a monitoring daemon: it
// connects every configured venue, probes health on an interval, logs
// provider events, and periodically reports aggregated cross-venue
// exposure. Order placement stays with the embedding application, so the
// daemon only needs read access to the trading wallets.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/misterlabs/venuex/internal/config"
	"github.com/misterlabs/venuex/internal/events"
	"github.com/misterlabs/venuex/internal/position"
	"github.com/misterlabs/venuex/internal/registry"
	"github.com/misterlabs/venuex/internal/venue/factory"
	"github.com/misterlabs/venuex/internal/venue/hyperliquid"
)

var (
	configPath   = flag.String("config", "./configs/venuex.yaml", "Path to config file")
	reportPeriod = flag.Duration("report-period", time.Minute, "Exposure report interval")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	log := logrus.WithField("component", "main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var busOpts []events.Option
	if cfg.Events.NATSURL != "" {
		busOpts = append(busOpts, events.WithNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix))
	}
	bus, err := events.NewBus(busOpts...)
	if err != nil {
		log.Fatalf("failed to create event bus: %v", err)
	}
	defer bus.Close()

	reg := registry.New(registry.Config{
		ProbeInterval:     cfg.Registry.ProbeInterval(),
		ProbeTimeout:      cfg.Registry.ProbeTimeout(),
		DegradedThreshold: cfg.Registry.DegradedThreshold,
		DownThreshold:     cfg.Registry.DownThreshold,
	}, bus)

	signers := factory.Signers{
		Cardano: readOnlyCardanoSigner{address: os.Getenv("VENUEX_CARDANO_ADDRESS")},
		EVM:     readOnlyEVMSigner{address: os.Getenv("VENUEX_EVM_ADDRESS")},
	}
	for _, vc := range cfg.Venues {
		venueCfg := vc.ToVenueConfig()
		v, err := factory.Build(venueCfg, signers)
		if err != nil {
			log.Fatalf("failed to build venue: %v", err)
		}
		if err := reg.Register(venueCfg, v); err != nil {
			log.Fatalf("failed to register venue: %v", err)
		}
		log.WithField("venue", venueCfg.Name).Info("venue registered")
	}

	thresholds := position.Thresholds{
		Critical: decimal.NewFromFloat(cfg.Risk.CriticalDistance),
		High:     decimal.NewFromFloat(cfg.Risk.HighDistance),
		Medium:   decimal.NewFromFloat(cfg.Risk.MediumDistance),
	}

	go reg.RunProbes(ctx)
	go logEvents(ctx, bus)
	go reportExposure(ctx, reg, thresholds, *reportPeriod)

	log.Infof("running with %d venues, probing every %s", len(cfg.Venues), cfg.Registry.ProbeInterval())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
}

func logEvents(ctx context.Context, bus *events.Bus) {
	ch, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	log := logrus.WithField("component", "events")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			log.WithFields(logrus.Fields{
				"type":  ev.Type,
				"venue": ev.Venue,
				"asset": ev.Asset,
			}).Info(ev.Message)
		}
	}
}

func reportExposure(ctx context.Context, reg *registry.Registry, thresholds position.Thresholds, period time.Duration) {
	agg := position.NewAggregator(reg, position.WithThresholds(thresholds))
	log := logrus.WithField("component", "exposure")
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			positions, err := agg.Aggregate(ctx)
			if err != nil {
				log.Warnf("aggregation failed: %v", err)
				continue
			}
			for _, p := range positions {
				log.WithFields(logrus.Fields{
					"asset":    p.Asset,
					"net_size": p.NetSize,
					"notional": p.TotalNotional.Round(2),
					"leverage": p.EffectiveLeverage.Round(2),
					"risk":     p.Risk.Level,
				}).Info("aggregate position")
			}
		}
	}
}

// readOnlyCardanoSigner exposes a wallet address for position and balance
// reads; signing is refused because the daemon never places orders.
type readOnlyCardanoSigner struct {
	address string
}

func (s readOnlyCardanoSigner) Address() string { return s.address }

func (s readOnlyCardanoSigner) SignTx(ctx context.Context, cborHex string) (string, error) {
	return "", fmt.Errorf("read-only mode: signing disabled")
}

type readOnlyEVMSigner struct {
	address string
}

func (s readOnlyEVMSigner) Address() string { return s.address }

func (s readOnlyEVMSigner) SignAction(ctx context.Context, action interface{}, nonce int64) (hyperliquid.Signature, error) {
	return hyperliquid.Signature{}, fmt.Errorf("read-only mode: signing disabled")
}
