package remote

import (
	"context"
	"errors"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/gatewayrpc"
	"github.com/dmitrijs2005/garagekeeper/internal/logging"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

var errStreamRefused = errors.New("change stream closed before it was accepted")

// TokenSource supplies the bearer token attached to every call.
type TokenSource interface {
	Token() string
}

// GRPCGateway talks to the garagekeeper.v1.Gateway service.
type GRPCGateway struct {
	conn        *grpc.ClientConn
	client      gatewayrpc.GatewayClient
	health      grpc_health_v1.HealthClient
	tokens      TokenSource
	logger      logging.Logger
	callTimeout time.Duration
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (g *GRPCGateway) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	return invoker(withAccessToken(ctx, g.tokens.Token()), method, req, reply, cc, opts...)
}

func (g *GRPCGateway) streamAccessTokenInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	return streamer(withAccessToken(ctx, g.tokens.Token()), desc, cc, method, opts...)
}

// NewGRPCGateway creates a lazily connecting client for target. Extra dial
// options are appended after the defaults (tests pass a bufconn dialer).
func NewGRPCGateway(target string, tokens TokenSource, logger logging.Logger, opts ...grpc.DialOption) (*GRPCGateway, error) {
	g := &GRPCGateway{
		tokens:      tokens,
		logger:      logger.With("module", "remote"),
		callTimeout: 10 * time.Second,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(g.accessTokenInterceptor),
		grpc.WithStreamInterceptor(g.streamAccessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	g.conn = conn
	g.client = gatewayrpc.NewGatewayClient(conn)
	g.health = grpc_health_v1.NewHealthClient(conn)
	return g, nil
}

func (g *GRPCGateway) Close() error {
	return g.conn.Close()
}

// mapError turns a gRPC status into a tagged gateway error.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return NewError(KindTransient, op, err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return NewError(KindAuth, op, err)
	case codes.NotFound:
		return NewError(KindNotFound, op, err)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return NewError(KindRejected, op, err)
	default:
		return NewError(KindTransient, op, err)
	}
}

func (g *GRPCGateway) Select(ctx context.Context, table models.Collection, f Filter) ([]*models.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	resp, err := g.client.Select(ctx, gatewayrpc.EncodeSelectRequest(gatewayrpc.SelectRequest{
		Table: string(table), ID: f.ID, UserID: f.UserID,
	}))
	if err != nil {
		return nil, mapError("select", err)
	}
	records, err := gatewayrpc.DecodeRecords(resp)
	if err != nil {
		return nil, NewError(KindTransient, "select", err)
	}
	return records, nil
}

func (g *GRPCGateway) Upsert(ctx context.Context, table models.Collection, r *models.Record) (*models.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	req, err := gatewayrpc.EncodeUpsertRequest(string(table), r)
	if err != nil {
		return nil, NewError(KindRejected, "upsert", err)
	}
	resp, err := g.client.Upsert(ctx, req)
	if err != nil {
		return nil, mapError("upsert", err)
	}
	out, err := gatewayrpc.DecodeRecord(resp)
	if err != nil {
		return nil, NewError(KindTransient, "upsert", err)
	}
	return out, nil
}

func (g *GRPCGateway) Delete(ctx context.Context, table models.Collection, id string) error {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	_, err := g.client.Delete(ctx, gatewayrpc.EncodeDeleteRequest(string(table), id))
	return mapError("delete", err)
}

func (g *GRPCGateway) Subscribe(ctx context.Context, tables []models.Collection) (<-chan models.ChangeEvent, error) {
	stream, err := g.client.Subscribe(ctx, gatewayrpc.EncodeSubscribeRequest(tables))
	if err != nil {
		return nil, mapError("subscribe", err)
	}
	// A stream the server refused ends without headers; its status is
	// only readable through Recv.
	if md, _ := stream.Header(); md == nil {
		_, err := stream.Recv()
		if err == nil || errors.Is(err, io.EOF) {
			err = errStreamRefused
		}
		return nil, mapError("subscribe", err)
	}

	out := make(chan models.ChangeEvent)
	go func() {
		defer close(out)
		for {
			msg, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					g.logger.Warn(ctx, "change stream ended", "error", mapError("subscribe", err))
				}
				return
			}
			ev, err := gatewayrpc.DecodeEvent(msg)
			if err != nil {
				g.logger.Warn(ctx, "skipping malformed change event", "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Ping asks the standard health service whether the gateway is serving.
func (g *GRPCGateway) Ping(ctx context.Context) error {
	resp, err := g.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: gatewayrpc.ServiceName})
	if err != nil {
		return mapError("ping", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return NewError(KindTransient, "ping", errors.New(resp.GetStatus().String()))
	}
	return nil
}
