package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod is the unary method the model sidecar serves. Requests and
// responses are google.protobuf.Struct values.
const GenerateMethod = "/tutor.model.v1.ModelService/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds configuration for the sidecar client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCGenerator calls a model sidecar over gRPC.
type GRPCGenerator struct {
	conn     *grpc.ClientConn
	health   grpc_health_v1.HealthClient
	addr     string
	defaults Defaults
	logger   *slog.Logger
}

// NewGRPCGenerator connects to the sidecar and waits until the channel is ready.
func NewGRPCGenerator(cfg GRPCConfig, defaults Defaults, logger *slog.Logger, extra ...grpc.DialOption) (*GRPCGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGRPCConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	}, extra...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("create model client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("model sidecar at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("connected to model sidecar", "address", cfg.Address)
	return &GRPCGenerator{
		conn:     conn,
		health:   grpc_health_v1.NewHealthClient(conn),
		addr:     cfg.Address,
		defaults: defaults,
		logger:   logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Health reports whether the sidecar is serving.
func (g *GRPCGenerator) Health(ctx context.Context) error {
	resp, err := g.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("model sidecar %s: %w", resp.GetStatus(), ErrOverloaded)
	}
	return nil
}

// Close closes the connection.
func (g *GRPCGenerator) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Generate implements Generator.
func (g *GRPCGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := make([]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{"role": string(m.Role), "content": m.Content})
	}
	payload := map[string]any{
		"messages":    messages,
		"maxTokens":   float64(g.defaults.maxTokens(req)),
		"temperature": g.defaults.temperature(req),
	}
	if g.defaults.Model != "" {
		payload["model"] = g.defaults.Model
	}
	if req.SystemInstruction != "" {
		payload["systemInstruction"] = req.SystemInstruction
	}

	in, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, GenerateMethod, in, out); err != nil {
		return nil, wrapGRPCError(err)
	}

	fields := out.GetFields()
	resp := &Response{
		Text:         fields["text"].GetStringValue(),
		Model:        fields["model"].GetStringValue(),
		TokensUsed:   int(fields["tokensUsed"].GetNumberValue()),
		FinishReason: fields["finishReason"].GetStringValue(),
	}
	if resp.Model == "" {
		resp.Model = g.defaults.Model
	}
	return resp, nil
}

func wrapGRPCError(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("grpc: %w: %w", ErrOverloaded, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("grpc: %w: %w", ErrTimeout, err)
	case codes.InvalidArgument:
		return fmt.Errorf("grpc: %w: %w", errdefs.ErrInvalidArgument, err)
	default:
		return fmt.Errorf("grpc generate: %w", err)
	}
}
