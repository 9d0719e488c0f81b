package liquidity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rustyeddy/fxhedge/margin"
	"github.com/rustyeddy/fxhedge/notify"
	"github.com/rustyeddy/fxhedge/pkg/logger"
)

// Ratios are tried in order when the full change is unhealthy.
var Ratios = []float64{0.8, 0.6, 0.4, 0.2, 0.0}

type Scale struct {
	Ratio      float64
	Delta      map[string]float64
	Projection margin.Projection
	// Forced means no ratio was healthy and the full change goes ahead.
	Forced bool
}

// Scaler picks the largest healthy fraction of a company's new LIVE targets.
type Scaler struct {
	Margin   margin.Provider
	Notifier notify.Notifier
	Log      *zap.Logger
}

// Scale compares old and target positions per pair. Each candidate holds
// ratio × target, so the delta sent is ratio·target − old.
func (s *Scaler) Scale(ctx context.Context, companyID string, old, target map[string]float64) (Scale, error) {
	log := logger.Or(s.Log).With(zap.String("company", companyID))

	full := deltaAt(1, old, target)
	proj, err := s.Margin.ProjectMargin(ctx, companyID, full)
	if err != nil {
		return Scale{}, fmt.Errorf("project margin: %w", err)
	}
	if proj.Healthy {
		return Scale{Ratio: 1, Delta: full, Projection: proj}, nil
	}
	log.Warn("margin unhealthy, scaling down new positions", zap.String("detail", proj.Detail()))

	for _, ratio := range Ratios {
		d := deltaAt(ratio, old, target)
		p, err := s.Margin.ProjectMargin(ctx, companyID, d)
		if err != nil {
			return Scale{}, fmt.Errorf("project margin at %.1f: %w", ratio, err)
		}
		if p.Healthy {
			log.Info("margin healthy after scale-down", zap.Float64("ratio", ratio))
			return Scale{Ratio: ratio, Delta: d, Projection: p}, nil
		}
	}

	msg := fmt.Sprintf("company %s: margin unhealthy at every scale-down ratio, executing full change (%s)",
		companyID, proj.Detail())
	log.Error("forced execution with unhealthy margin", zap.String("detail", proj.Detail()))
	if s.Notifier != nil {
		s.Notifier.Alert(ctx, msg)
	}
	return Scale{Ratio: 1, Delta: full, Projection: proj, Forced: true}, nil
}

func deltaAt(ratio float64, old, target map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(old)+len(target))
	for p, amt := range target {
		if d := ratio*amt - old[p]; d != 0 {
			out[p] = d
		}
	}
	for p, amt := range old {
		if _, ok := target[p]; !ok && amt != 0 {
			out[p] = -amt
		}
	}
	return out
}
