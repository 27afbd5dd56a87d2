package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// AskMethod is the unary method carrying Struct-encoded requests and replies.
const AskMethod = "/parley.responder.v1.Responder/Ask"

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Addr        string
	Token       string
	DialTimeout time.Duration
	DebugSink   io.Writer
	DialOptions []grpc.DialOption
}

// GRPCClient calls a responder over one gRPC connection.
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string

	sinkMu sync.Mutex
	sink   io.Writer
}

// DialGRPC connects and waits until the connection is ready.
func DialGRPC(ctx context.Context, cfg GRPCConfig) (*GRPCClient, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, ErrNotConfigured
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, cfg.DialOptions...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial responder grpc %q: %w", addr, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for responder grpc readiness: %w", err)
	}

	return &GRPCClient{conn: conn, token: strings.TrimSpace(cfg.Token), sink: cfg.DebugSink}, nil
}

func (c *GRPCClient) Ask(ctx context.Context, req Request) (Response, error) {
	in, err := requestStruct(req)
	if err != nil {
		return Response{}, err
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, AskMethod, in, out); err != nil {
		return Response{}, fmt.Errorf("call responder: %w", err)
	}

	raw, err := protojson.Marshal(out)
	if err != nil {
		return Response{}, fmt.Errorf("encode responder reply: %w", err)
	}
	c.dump(raw)

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("decode responder reply: %w", err)
	}
	if err := resp.validate(); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) dump(raw []byte) {
	if c.sink == nil {
		return
	}
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	_, _ = c.sink.Write(append(append([]byte(nil), raw...), '\n'))
}

func requestStruct(req Request) (*structpb.Struct, error) {
	history := make([]any, 0, len(req.History))
	for _, msg := range req.History {
		history = append(history, map[string]any{"role": msg.Role, "content": msg.Content})
	}
	in, err := structpb.NewStruct(map[string]any{
		"message":              req.Message,
		"conversation_mode":    req.Mode,
		"conversation_history": history,
	})
	if err != nil {
		return nil, fmt.Errorf("encode responder request: %w", err)
	}
	return in, nil
}

// waitForReady blocks until the connection is Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}
