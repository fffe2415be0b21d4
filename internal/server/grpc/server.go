// Package grpc exposes the record service and the change hub as the
// garagekeeper.v1.Gateway gRPC service, plus the standard health service
// clients use as their connectivity probe.
package grpc

import (
	"context"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/garagekeeper/internal/gatewayrpc"
	"github.com/dmitrijs2005/garagekeeper/internal/logging"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
	"github.com/dmitrijs2005/garagekeeper/internal/server/services"
)

type RecordService interface {
	Select(ctx context.Context, userID, table string, f services.Filter) ([]*models.Record, error)
	Upsert(ctx context.Context, userID, table string, r *models.Record) (*models.Record, error)
	Delete(ctx context.Context, userID, table, id string) error
}

type ChangeHub interface {
	Subscribe(userID string, tables []models.Collection) (<-chan models.ChangeEvent, func())
}

type GRPCServer struct {
	gatewayrpc.UnimplementedGatewayServer
	address   string
	records   RecordService
	hub       ChangeHub
	logger    logging.Logger
	jwtSecret []byte
	health    *health.Server

	stopOnce sync.Once
	done     chan struct{}
}

func NewGRPCServer(a string, l logging.Logger, records RecordService, hub ChangeHub, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		records:   records,
		hub:       hub,
		jwtSecret: []byte(secretKey),
		health:    health.NewServer(),
		done:      make(chan struct{}),
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context) error {
	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled, then stops
// gracefully. Open change streams are ended first so the stop does not
// wait on them.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	// creates gRPC-server
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.streamAccessTokenInterceptor),
	)

	// registers services
	gatewayrpc.RegisterGatewayServer(srv, s)
	grpc_health_v1.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(gatewayrpc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		s.stopOnce.Do(func() { close(s.done) })
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
