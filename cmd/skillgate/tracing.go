package main

import (
	"context"

	"github.com/jingkaihe/skillgate/pkg/config"
	"github.com/jingkaihe/skillgate/pkg/telemetry"
	"github.com/jingkaihe/skillgate/pkg/version"
)

// initTracing initializes OpenTelemetry tracing from the effective
// configuration. The returned shutdown must be called before exit.
func initTracing(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	return telemetry.InitTracer(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "skillgate",
		ServiceVersion: version.Get().Version,
		SamplerType:    cfg.Tracing.SamplerType,
		SamplerRatio:   cfg.Tracing.SamplerRatio,
	})
}
