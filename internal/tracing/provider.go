package tracing

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Breakpoint-specific span attribute keys. Rooms and game-loop ticks are
// this server's own unit of work, distinct from whatever otelgin already
// tags on the inbound HTTP/WS span.
const (
	AttrRoomCode = attribute.Key("breakpoint.room_code")
	AttrGameID   = attribute.Key("breakpoint.game_id")
	AttrPlayerID = attribute.Key("breakpoint.player_id")
)

// roomTracer traces room-lifecycle operations (game start, round/game end,
// panic recovery) independently of the HTTP-request tracer otelgin
// installs, since a room's lifespan outlives any single request.
var roomTracer = otel.Tracer("breakpoint/room")

// StartRoomSpan starts a span for a room-lifecycle event, tagged with the
// room code and game module so traces can be filtered per room.
func StartRoomSpan(ctx context.Context, operation, roomCode, gameID string) (context.Context, trace.Span) {
	return roomTracer.Start(ctx, operation, trace.WithAttributes(
		AttrRoomCode.String(roomCode),
		AttrGameID.String(gameID),
	))
}

// InitTracer initializes the OpenTelemetry tracer provider
func InitTracer(ctx context.Context, serviceName string, collectorAddr string) (*sdktrace.TracerProvider, error) {
	// Configure TLS for gRPC collector connection
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// Allow insecure skip verify for development if explicitly enabled
	if os.Getenv("OTEL_INSECURE_SKIP_VERIFY") == "true" {
		tlsConfig.InsecureSkipVerify = true
	}

	// Create gRPC client for collector with TLS
	creds := credentials.NewTLS(tlsConfig)
	conn, err := grpc.NewClient(collectorAddr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client to collector: %w", err)
	}

	// Create OTLP exporter
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// Define resource attributes. ServiceNamespace and DeploymentEnvironment
	// separate a relay-mode process's traces from a full game server's in
	// the same collector (§4.J runs under the same binary, different mode).
	deployEnv := os.Getenv("DEVELOPMENT_MODE")
	if deployEnv == "true" {
		deployEnv = "development"
	} else if deployEnv == "" {
		deployEnv = "production"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceNamespace("breakpoint"),
			attribute.String("deployment.environment", deployEnv),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create TracerProvider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	// Set global TracerProvider
	otel.SetTracerProvider(tp)

	// Set global Propagator (W3C TraceContext is standard)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}
