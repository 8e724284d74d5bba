// Package rpc serves the streak ledger over gRPC.
//
// Messages are google.protobuf.Struct values so the service needs no
// generated code; the field names match the HTTP API.
package rpc

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jmerrifield20/civicstreak/internal/identity"
	"github.com/jmerrifield20/civicstreak/internal/ledger"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "civicstreak.v1.StreakLedger"

// Full method names.
const (
	MethodInitialize       = "/" + ServiceName + "/Initialize"
	MethodRecordEngagement = "/" + ServiceName + "/RecordEngagement"
	MethodGetRecord        = "/" + ServiceName + "/GetRecord"
)

// StreakLedgerServer is the server API of ServiceName.
type StreakLedgerServer interface {
	Initialize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RecordEngagement(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetRecord(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes ServiceName for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StreakLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Initialize", Handler: unaryHandler(MethodInitialize, StreakLedgerServer.Initialize)},
		{MethodName: "RecordEngagement", Handler: unaryHandler(MethodRecordEngagement, StreakLedgerServer.RecordEngagement)},
		{MethodName: "GetRecord", Handler: unaryHandler(MethodGetRecord, StreakLedgerServer.GetRecord)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "civicstreak/v1/ledger.proto",
}

func unaryHandler(fullMethod string, call func(StreakLedgerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StreakLedgerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		h := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StreakLedgerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, h)
	}
}

// Server implements StreakLedgerServer on top of a ledger.Service.
type Server struct {
	svc    *ledger.Service
	auth   *identity.Authenticator
	logger *zap.Logger
}

// NewServer creates a Server.
func NewServer(svc *ledger.Service, auth *identity.Authenticator, logger *zap.Logger) *Server {
	return &Server{svc: svc, auth: auth, logger: logger}
}

// Register adds the service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// Initialize implements StreakLedgerServer. The optional "owner" field must
// name the authenticated caller.
func (s *Server) Initialize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	owner := caller
	if v := stringField(req, "owner"); v != "" {
		if owner, err = streak.ParseIdentity(v); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}

	res, err := s.svc.Initialize(ctx, caller, owner)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.result(res)
}

// RecordEngagement implements StreakLedgerServer for the authenticated caller.
func (s *Server) RecordEngagement(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	owner, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.RecordEngagement(ctx, owner)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.result(res)
}

// GetRecord implements StreakLedgerServer. It is unauthenticated; records
// are public.
func (s *Server) GetRecord(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := streak.ParseIdentity(stringField(req, "owner"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	rec, err := s.svc.Get(ctx, owner)
	if err != nil {
		return nil, s.toStatus(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"record":           recordMap(*rec),
		"address":          s.svc.Address(owner).String(),
		"next_eligible_at": rec.NextEligibleAt(),
		"expires_at":       rec.ExpiresAt(),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) authenticate(ctx context.Context) (streak.Identity, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	owner, err := s.auth.Authenticate(first(md, "authorization"), first(md, strings.ToLower(identity.HeaderDevOwner)))
	if err != nil {
		return streak.Identity{}, status.Error(codes.Unauthenticated, err.Error())
	}
	return owner, nil
}

func (s *Server) result(res ledger.Result) (*structpb.Struct, error) {
	events := make([]any, 0, len(res.Events))
	for _, ev := range res.Events {
		events = append(events, eventMap(ev))
	}
	out, err := structpb.NewStruct(map[string]any{
		"record":           recordMap(res.Record),
		"address":          res.Address.String(),
		"events":           events,
		"next_eligible_at": res.Record.NextEligibleAt(),
		"expires_at":       res.Record.ExpiresAt(),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func recordMap(rec streak.Record) map[string]any {
	return map[string]any{
		"owner":               rec.Owner.String(),
		"streak_count":        rec.StreakCount,
		"last_interaction_ts": rec.LastInteractionTS,
		"created_ts":          rec.CreatedTS,
		"milestones_claimed":  uint32(rec.MilestonesClaimed),
	}
}

func eventMap(ev streak.Event) map[string]any {
	m := map[string]any{"kind": string(ev.Kind)}
	if ev.Kind == streak.EventMilestoneReached {
		m["label"] = ev.Label
		m["badge_id"] = ev.BadgeID
		m["reward_points"] = ev.RewardPoints
		m["threshold"] = ev.Threshold
	}
	return m
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
