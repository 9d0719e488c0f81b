// Package tracing installs the global opentracing tracer.
package tracing

import (
	"fmt"

	"github.com/opentracing/opentracing-go"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
)

type Config struct {
	ServiceName string
	Host        string
	Port        int
}

// Init reports spans to a jaeger agent. The returned func flushes and
// closes the tracer.
func Init(conf Config) (opentracing.Tracer, func() error, error) {
	name := conf.ServiceName
	if name == "" {
		name = "fxhedge"
	}
	cfg := &jCfg.Configuration{
		ServiceName: name,
		Sampler: &jCfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jCfg.ReporterConfig{
			LogSpans:           false,
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	tracer, closer, err := cfg.NewTracer(jCfg.Metrics(metrics.NullFactory))
	if err != nil {
		return nil, nil, err
	}

	opentracing.SetGlobalTracer(tracer)
	return tracer, closer.Close, nil
}
