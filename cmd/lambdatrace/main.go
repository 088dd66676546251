// Gateway trigger tracing replay tool
// Replays recorded HTTP gateway events through the entry span instrumentation and exports the result via OTel SDK
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/andrewh/lambdatrace/pkg/replay"
	"github.com/andrewh/lambdatrace/pkg/span"
	"github.com/andrewh/lambdatrace/pkg/trigger"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "lambdatrace",
		Short:        "Entry span instrumentation for HTTP gateway triggered functions",
		SilenceUsage: true,
	}

	root.PersistentFlags().Bool("verbose", false, "log instrumentation faults at debug level")

	root.AddCommand(replayCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(versionCmd())

	return root
}

func replayCmd() *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay <event.json | suite.yaml>",
		Short: "Replay recorded gateway events and export their entry spans",
		Long: "Replay recorded gateway events and export their entry spans.\n\n" +
			"A .json argument is a single trigger event. A .yaml or .yml argument is a\n" +
			"suite listing events and the handler outcome to simulate for each.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing event or suite file\n\nUsage: lambdatrace replay <event.json | suite.yaml>")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := trigger.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, opts)
			if err := trigger.ValidateConfig(cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("slow-threshold") && !strings.Contains(opts.signals, "logs") {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Warning: --slow-threshold has no effect without --signals logs")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runReplay(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], cfg, opts, logger)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "configuration file (YAML); LAMBDATRACE_* variables override it")
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "OTLP endpoint (e.g. localhost:4318)")
	cmd.Flags().BoolVar(&opts.stdout, "stdout", false, "emit signals to stdout as JSON")
	cmd.Flags().StringVar(&opts.protocol, "protocol", trigger.ProtocolHTTP, "OTLP protocol (http/protobuf or grpc)")
	cmd.Flags().StringVar(&opts.signals, "signals", "traces", "comma-separated signals to emit: traces,metrics,logs")
	cmd.Flags().DurationVar(&opts.slowThreshold, "slow-threshold", time.Second, "duration threshold for slow invocation log emission")
	cmd.Flags().StringVar(&opts.functionName, "function-name", "", "function name used when an event carries no path")
	cmd.Flags().StringSliceVar(&opts.ignoreMethods, "ignore-method", nil, "HTTP methods that are not traced (repeatable or comma-separated)")
	cmd.Flags().StringVar(&opts.traceparent, "traceparent", "", "inject this W3C traceparent into every replayed event")
	cmd.Flags().BoolVar(&opts.table, "table", false, "print a summary table instead of JSON stats")
	cmd.Flags().IntVar(&opts.status, "status", 0, "status code every simulated handler returns")
	cmd.Flags().StringVar(&opts.errText, "error", "", "error every simulated handler returns")

	return cmd
}

func validateCmd() *cobra.Command {
	var suitePath string

	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Parse and validate a tracing configuration",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing configuration file\n\nUsage: lambdatrace validate <config.yaml>")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := trigger.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if err := trigger.ValidateConfig(cfg); err != nil {
				return err
			}

			methodLabel := "methods"
			if len(cfg.HTTPIgnoreMethod) == 1 {
				methodLabel = "method"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration valid: %d ignored %s, exporter %s\n",
				len(cfg.HTTPIgnoreMethod), methodLabel, exporterLabel(cfg.Exporter))

			if suitePath != "" {
				s, err := replay.Load(suitePath)
				if err != nil {
					return err
				}
				invLabel := "invocations"
				if len(s.Invocations) == 1 {
					invLabel = "invocation"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Suite valid: %d %s\n", len(s.Invocations), invLabel)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nTo replay events:\n  lambdatrace replay --stdout --config %s <event.json | suite.yaml>\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&suitePath, "suite", "", "also validate this event file or replay suite")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "lambdatrace %s (commit: %s, built: %s)\n", version, commit, buildTime)
		},
	}
}

type replayOptions struct {
	configPath    string
	endpoint      string
	stdout        bool
	protocol      string
	signals       string
	slowThreshold time.Duration
	functionName  string
	ignoreMethods []string
	traceparent   string
	table         bool
	status        int
	errText       string
}

// applyFlags overrides configuration values with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *trigger.Config, opts replayOptions) {
	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.Exporter.Endpoint = opts.endpoint
	}
	if flags.Changed("stdout") {
		cfg.Exporter.Stdout = opts.stdout
	}
	if flags.Changed("protocol") {
		cfg.Exporter.Protocol = opts.protocol
	}
	if flags.Changed("slow-threshold") {
		cfg.SlowThreshold = opts.slowThreshold
	}
	if flags.Changed("ignore-method") {
		cfg.HTTPIgnoreMethod = trigger.NewMethodFilter(opts.ignoreMethods).Methods()
	}
}

func exporterLabel(e trigger.ExporterConfig) string {
	if e.Stdout {
		return "stdout"
	}
	endpoint := e.Endpoint
	if endpoint == "" {
		endpoint = "default endpoint"
	}
	protocol := e.Protocol
	if protocol == "" {
		protocol = trigger.ProtocolHTTP
	}
	return fmt.Sprintf("%s (%s)", endpoint, protocol)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		logger, err = cfg.Build()
	}
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger, nil
}

var validSignals = map[string]bool{
	"traces":  true,
	"metrics": true,
	"logs":    true,
}

func parseSignals(s string) (map[string]bool, error) {
	set := make(map[string]bool)
	for sig := range strings.SplitSeq(s, ",") {
		sig = strings.TrimSpace(sig)
		if sig == "" {
			continue
		}
		if !validSignals[sig] {
			return nil, fmt.Errorf("unknown signal %q, valid signals: traces, metrics, logs", sig)
		}
		set[sig] = true
	}
	return set, nil
}

const (
	shutdownTimeout     = 5 * time.Second
	connectCheckTimeout = 2 * time.Second
	defaultHTTPPort     = "4318"
	defaultGRPCPort     = "4317"
	defaultServiceName  = "lambdatrace"
)

func checkEndpoint(endpoint, protocol, inputPath string) error {
	port := defaultHTTPPort
	if protocol == trigger.ProtocolGRPC {
		port = defaultGRPCPort
	}
	host := endpoint
	if host == "" {
		host = "localhost:" + port
	} else if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, port)
	}

	conn, err := net.DialTimeout("tcp", host, connectCheckTimeout)
	if err != nil {
		return fmt.Errorf("cannot reach OTLP collector at %s\n\n"+
			"To emit signals as JSON to the terminal, use --stdout:\n"+
			"  lambdatrace replay --stdout %s\n\n"+
			"To send to a specific collector, use --endpoint:\n"+
			"  lambdatrace replay --endpoint collector.example.com:4318 %s", host, inputPath, inputPath)
	}
	_ = conn.Close()
	return nil
}

func runReplay(ctx context.Context, stdout, stderr io.Writer, inputPath string, cfg *trigger.Config, opts replayOptions, logger *zap.Logger) error {
	suite, err := replay.Load(inputPath)
	if err != nil {
		return err
	}

	enabledSignals, err := parseSignals(opts.signals)
	if err != nil {
		return err
	}

	if !cfg.Exporter.Stdout {
		if err := checkEndpoint(cfg.Exporter.Endpoint, cfg.Exporter.Protocol, inputPath); err != nil {
			return err
		}
	}

	functionName := opts.functionName
	if functionName == "" {
		functionName = suite.FunctionName
	}
	res, err := newResource(cfg.ServiceName, functionName)
	if err != nil {
		return err
	}

	exp := exportOptions{ExporterConfig: cfg.Exporter, out: stdout}

	tp, shutdownTraces, err := createTraceProvider(ctx, exp, enabledSignals["traces"], res)
	if err != nil {
		return fmt.Errorf("creating trace provider: %w", err)
	}
	defer shutdownTraces()

	recorder := &replay.Recorder{}
	observers := []span.Observer{recorder}

	if enabledSignals["metrics"] {
		mp, shutdownMetrics, mErr := createMeterProvider(ctx, exp, res)
		if mErr != nil {
			return fmt.Errorf("creating meter provider: %w", mErr)
		}
		defer shutdownMetrics()
		obs, mErr := span.NewMetricObserver(mp)
		if mErr != nil {
			return fmt.Errorf("creating metric observer: %w", mErr)
		}
		observers = append(observers, obs)
	}

	if enabledSignals["logs"] {
		lp, shutdownLogs, lErr := createLoggerProvider(ctx, exp, res)
		if lErr != nil {
			return fmt.Errorf("creating logger provider: %w", lErr)
		}
		defer shutdownLogs()
		observers = append(observers, span.NewLogObserver(lp, cfg.SlowThreshold))
	}

	gateway := trigger.New(span.NewTracer(tp, observers...),
		trigger.WithExemption(trigger.NewMethodFilter(cfg.HTTPIgnoreMethod)),
		trigger.WithLogger(logger),
	)
	runner := replay.NewRunner(gateway, recorder, replay.Options{
		FunctionName: opts.functionName,
		Traceparent:  opts.traceparent,
		Status:       opts.status,
		Error:        opts.errText,
	})

	// Handle OS signals for graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := runner.Run(ctx, suite)
	if err != nil {
		return err
	}

	if opts.table {
		return replay.WriteTable(stderr, results)
	}
	return json.NewEncoder(stderr).Encode(replay.Summarize(results))
}

func newResource(serviceName, functionName string) (*resource.Resource, error) {
	name := serviceName
	if name == "" {
		name = functionName
	}
	if name == "" {
		name = defaultServiceName
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		attribute.String("lambdatrace.version", version),
	}
	if functionName != "" {
		attrs = append(attrs, semconv.FaaSName(functionName))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}
	return res, nil
}

// exportOptions selects exporters for every signal.
type exportOptions struct {
	trigger.ExporterConfig
	out io.Writer
}

// createTraceProvider creates the TracerProvider entry spans are recorded on.
// A disabled provider records nothing and exports nothing.
func createTraceProvider(ctx context.Context, opts exportOptions, enabled bool, res *resource.Resource) (*sdktrace.TracerProvider, func(), error) {
	if !enabled {
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		return tp, func() { _ = tp.Shutdown(context.Background()) }, nil
	}

	exporter, err := createTraceExporter(ctx, opts)
	if err != nil {
		return nil, func() {}, err
	}

	var sp sdktrace.SpanProcessor
	if opts.Stdout {
		sp = sdktrace.NewSimpleSpanProcessor(exporter)
	} else {
		sp = sdktrace.NewBatchSpanProcessor(exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sp),
		sdktrace.WithResource(res),
	)
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownAll(shutdownCtx, []*sdktrace.TracerProvider{tp}, "tracer provider")
	}
	return tp, shutdown, nil
}

func createTraceExporter(ctx context.Context, opts exportOptions) (sdktrace.SpanExporter, error) {
	if opts.Stdout {
		return stdouttrace.New(stdouttrace.WithWriter(opts.out))
	}
	switch opts.Protocol {
	case trigger.ProtocolGRPC:
		var grpcOpts []otlptracegrpc.Option
		if opts.Endpoint != "" {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpoint(opts.Endpoint), otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, grpcOpts...)
	case trigger.ProtocolHTTP, "":
		var httpOpts []otlptracehttp.Option
		if opts.Endpoint != "" {
			httpOpts = append(httpOpts, otlptracehttp.WithEndpoint(opts.Endpoint), otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unsupported protocol %q, supported: http/protobuf, grpc", opts.Protocol)
	}
}

func createMeterProvider(ctx context.Context, opts exportOptions, res *resource.Resource) (*sdkmetric.MeterProvider, func(), error) {
	exporter, err := createMetricExporter(ctx, opts)
	if err != nil {
		return nil, func() {}, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownAll(shutdownCtx, []*sdkmetric.MeterProvider{mp}, "meter provider")
	}
	return mp, shutdown, nil
}

func createMetricExporter(ctx context.Context, opts exportOptions) (sdkmetric.Exporter, error) {
	if opts.Stdout {
		return stdoutmetric.New(stdoutmetric.WithWriter(opts.out))
	}
	switch opts.Protocol {
	case trigger.ProtocolGRPC:
		var grpcOpts []otlpmetricgrpc.Option
		if opts.Endpoint != "" {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithEndpoint(opts.Endpoint), otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, grpcOpts...)
	case trigger.ProtocolHTTP, "":
		var httpOpts []otlpmetrichttp.Option
		if opts.Endpoint != "" {
			httpOpts = append(httpOpts, otlpmetrichttp.WithEndpoint(opts.Endpoint), otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unsupported protocol %q for metrics", opts.Protocol)
	}
}

func createLoggerProvider(ctx context.Context, opts exportOptions, res *resource.Resource) (*sdklog.LoggerProvider, func(), error) {
	exporter, err := createLogExporter(ctx, opts)
	if err != nil {
		return nil, func() {}, err
	}

	var processor sdklog.Processor
	if opts.Stdout {
		processor = sdklog.NewSimpleProcessor(exporter)
	} else {
		processor = sdklog.NewBatchProcessor(exporter)
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(processor),
		sdklog.WithResource(res),
	)
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownAll(shutdownCtx, []*sdklog.LoggerProvider{lp}, "logger provider")
	}
	return lp, shutdown, nil
}

func createLogExporter(ctx context.Context, opts exportOptions) (sdklog.Exporter, error) {
	if opts.Stdout {
		return stdoutlog.New(stdoutlog.WithWriter(opts.out))
	}
	switch opts.Protocol {
	case trigger.ProtocolGRPC:
		var grpcOpts []otlploggrpc.Option
		if opts.Endpoint != "" {
			grpcOpts = append(grpcOpts, otlploggrpc.WithEndpoint(opts.Endpoint), otlploggrpc.WithInsecure())
		}
		return otlploggrpc.New(ctx, grpcOpts...)
	case trigger.ProtocolHTTP, "":
		var httpOpts []otlploghttp.Option
		if opts.Endpoint != "" {
			httpOpts = append(httpOpts, otlploghttp.WithEndpoint(opts.Endpoint), otlploghttp.WithInsecure())
		}
		return otlploghttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unsupported protocol %q for logs", opts.Protocol)
	}
}

// shutdownable is anything with a Shutdown method (TracerProvider, MeterProvider, LoggerProvider).
type shutdownable interface {
	Shutdown(context.Context) error
}

// shutdownAll shuts down all items concurrently within the given context.
// Errors are logged to stderr individually; a slow item does not block others.
func shutdownAll[S shutdownable](ctx context.Context, items []S, label string) {
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Go(func() {
			if err := item.Shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "error shutting down %s: %v\n", label, err)
			}
		})
	}
	wg.Wait()
}
