package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
)

// Checker periodically snapshots session health, breaker states, and rate
// budgets, and pushes threshold alerts. One instance runs for the lifetime
// of the serve command.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
}

// NewChecker builds a checker from the monitoring config. A zero check
// interval defaults to 5 minutes, a zero lookback window to 24 hours.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	lookback := cfg.LookbackWindowHours
	if lookback <= 0 {
		lookback = 24
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  lookback,
	}
}

// Run blocks until ctx is cancelled. The first check fires immediately so a
// freshly started server surfaces already-open breakers without waiting out
// a full interval.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting health checker",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runCheck(ctx, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.runCheck(ctx, log)
		}
	}
}

// runCheck takes one snapshot, logs the session and breaker health it saw,
// and dispatches any threshold alerts.
func (c *Checker) runCheck(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("health check failed", zap.Error(err))
		return
	}

	log.Debug("health snapshot",
		zap.Int("sessions", snap.SessionsTotal),
		zap.Float64("session_fail_rate", snap.SessionFailRate),
		zap.Float64("cost_usd", snap.TotalCostUSD),
		zap.Int("open_breakers", len(snap.OpenBreakers)),
	)
	if len(snap.OpenBreakers) > 0 {
		log.Warn("circuit breakers open", zap.Strings("resources", snap.OpenBreakers))
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return
	}
	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("alerts dispatched",
		zap.Int("triggered", len(alerts)),
		zap.Int("sent", sent),
	)
}
