package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/gatewayrpc"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
	"github.com/dmitrijs2005/garagekeeper/internal/server/services"
)

// toStatus maps service errors onto gRPC codes. Clients treat
// InvalidArgument and FailedPrecondition as permanent rejections,
// Unauthenticated and PermissionDenied as a broken session.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrUnknownCollection), errors.Is(err, common.ErrInvalidRecord):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.PermissionDenied, "unauthorized")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	s.logger.Error(ctx, err.Error())
	return status.Error(codes.Internal, "internal error")
}

func (s *GRPCServer) caller(ctx context.Context) (string, error) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "unauthenticated")
	}
	return userID, nil
}

func (s *GRPCServer) Select(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	q := gatewayrpc.DecodeSelectRequest(req)
	result, err := s.records.Select(ctx, userID, q.Table, services.Filter{ID: q.ID, UserID: q.UserID})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	resp, err := gatewayrpc.EncodeRecords(result)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return resp, nil
}

func (s *GRPCServer) Upsert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	table, rec, err := gatewayrpc.DecodeUpsertRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	stored, err := s.records.Upsert(ctx, userID, table, rec)
	if err != nil {
		// An id taken by another user is a conflict on this record, not a
		// reason to drop the caller's session.
		if errors.Is(err, common.ErrorUnauthorized) {
			return nil, status.Error(codes.FailedPrecondition, "record belongs to another user")
		}
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Debug(ctx, "record stored", "table", table, "id", stored.ID)

	resp, err := gatewayrpc.EncodeRecord(stored)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return resp, nil
}

func (s *GRPCServer) Delete(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	table, id := gatewayrpc.DecodeDeleteRequest(req)
	if err := s.records.Delete(ctx, userID, table, id); err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Debug(ctx, "record deleted", "table", table, "id", id)
	return &emptypb.Empty{}, nil
}

// Subscribe streams the caller's changes to the requested tables (all
// tables when none are named) until the client goes away or the server
// stops. A subscriber dropped by the hub gets Unavailable and is expected
// to resubscribe.
func (s *GRPCServer) Subscribe(req *structpb.Struct, stream gatewayrpc.SubscribeServer) error {
	ctx := stream.Context()

	userID, err := s.caller(ctx)
	if err != nil {
		return err
	}

	var tables []models.Collection
	for _, name := range gatewayrpc.DecodeSubscribeRequest(req) {
		c, err := models.ParseCollection(name)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "table %q: %v", name, err)
		}
		tables = append(tables, c)
	}
	if len(tables) == 0 {
		tables = models.Collections
	}

	events, cancel := s.hub.Subscribe(userID, tables)
	defer cancel()

	// headers tell the client the stream was accepted
	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}

	s.logger.Info(ctx, "change stream opened", "user_id", userID)
	defer s.logger.Info(ctx, "change stream closed", "user_id", userID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return status.Error(codes.Unavailable, "server is shutting down")
		case ev, ok := <-events:
			if !ok {
				return status.Error(codes.Unavailable, "subscription dropped")
			}
			msg, err := gatewayrpc.EncodeEvent(ev)
			if err != nil {
				s.logger.Warn(ctx, "skipping unencodable event", "error", err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}
