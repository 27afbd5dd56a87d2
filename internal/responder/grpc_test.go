package responder

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type structResponder struct {
	mu       sync.Mutex
	requests []*structpb.Struct
	auth     []string
	reply    *structpb.Struct
	err      error
}

func (s *structResponder) ask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, in)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		s.auth = append(s.auth, md.Get("authorization")...)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

var responderServiceDesc = grpc.ServiceDesc{
	ServiceName: "parley.responder.v1.Responder",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Ask",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(*structResponder).ask(ctx, in)
		},
	}},
}

func startBufconnResponder(t *testing.T, impl *structResponder, sink *bytes.Buffer, token string) *GRPCClient {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	server.RegisterService(&responderServiceDesc, impl)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	cfg := GRPCConfig{
		Addr:        "passthrough:///bufnet",
		Token:       token,
		DialTimeout: 2 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return listener.DialContext(ctx)
			}),
		},
	}
	if sink != nil {
		cfg.DebugSink = sink
	}

	client, err := DialGRPC(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func mustStruct(t *testing.T, v map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(v)
	require.NoError(t, err)
	return s
}

func TestGRPCClientAsk(t *testing.T) {
	impl := &structResponder{reply: mustStruct(t, map[string]any{
		"response":    "Tell me about a project you led.",
		"suggestions": []any{"Use the STAR method"},
		"feedback": map[string]any{
			"mode":             "interview",
			"encouragement":    "Clear answer.",
			"areas_to_improve": []any{"quantify impact"},
		},
	})}
	var sink bytes.Buffer
	client := startBufconnResponder(t, impl, &sink, "secret")

	resp, err := client.Ask(context.Background(), Request{
		Message: "I'm ready",
		Mode:    "interview",
		History: []Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
	})
	require.NoError(t, err)
	require.Equal(t, "Tell me about a project you led.", resp.Response)
	require.Equal(t, []string{"Use the STAR method"}, resp.Suggestions)
	require.Equal(t, "Clear answer.", resp.Feedback.Encouragement)

	impl.mu.Lock()
	defer impl.mu.Unlock()
	require.Len(t, impl.requests, 1)
	got := impl.requests[0].AsMap()
	require.Equal(t, "I'm ready", got["message"])
	require.Equal(t, "interview", got["conversation_mode"])
	require.Equal(t, []any{
		map[string]any{"role": "user", "content": "hi"},
		map[string]any{"role": "assistant", "content": "hello"},
	}, got["conversation_history"])
	require.Equal(t, []string{"Bearer secret"}, impl.auth)

	lines := strings.Split(strings.TrimSpace(sink.String()), "\n")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "Tell me about a project you led.")
}

func TestGRPCClientEmptyHistoryIsList(t *testing.T) {
	impl := &structResponder{reply: mustStruct(t, map[string]any{"response": "Hi!"})}
	client := startBufconnResponder(t, impl, nil, "")

	_, err := client.Ask(context.Background(), Request{Message: "hello", Mode: "practice"})
	require.NoError(t, err)

	impl.mu.Lock()
	defer impl.mu.Unlock()
	require.Equal(t, []any{}, impl.requests[0].AsMap()["conversation_history"])
	require.Empty(t, impl.auth)
}

func TestGRPCClientErrors(t *testing.T) {
	impl := &structResponder{err: status.Error(codes.Unavailable, "responder warming up")}
	client := startBufconnResponder(t, impl, nil, "")

	_, err := client.Ask(context.Background(), Request{Message: "hello"})
	require.Error(t, err)
	require.Equal(t, codes.Unavailable, status.Code(err))

	impl.mu.Lock()
	impl.err = nil
	impl.reply = mustStruct(t, map[string]any{"suggestions": []any{}})
	impl.mu.Unlock()

	_, err = client.Ask(context.Background(), Request{Message: "hello"})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestDialGRPCRequiresAddr(t *testing.T) {
	_, err := DialGRPC(context.Background(), GRPCConfig{})
	require.ErrorIs(t, err, ErrNotConfigured)
}
