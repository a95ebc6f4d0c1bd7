package api

import (
	"context"

	"github.com/matheus3301/ims/internal/rpc"
	intsync "github.com/matheus3301/ims/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const FriendServiceName = "ims.v1.FriendService"

// FriendServer is the server side of FriendService.
type FriendServer interface {
	ListFriends(context.Context, *Empty) (*FriendsResponse, error)
	ListRequests(context.Context, *Empty) (*RequestsResponse, error)
	SendRequest(context.Context, *NameRequest) (*Empty, error)
	AcceptRequest(context.Context, *NameRequest) (*Empty, error)
	DeclineRequest(context.Context, *NameRequest) (*Empty, error)
}

var friendServiceDesc = grpc.ServiceDesc{
	ServiceName: FriendServiceName,
	HandlerType: (*FriendServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(FriendServiceName, "ListFriends", FriendServer.ListFriends),
		rpc.Unary(FriendServiceName, "ListRequests", FriendServer.ListRequests),
		rpc.Unary(FriendServiceName, "SendRequest", FriendServer.SendRequest),
		rpc.Unary(FriendServiceName, "AcceptRequest", FriendServer.AcceptRequest),
		rpc.Unary(FriendServiceName, "DeclineRequest", FriendServer.DeclineRequest),
	},
}

// FriendService exposes the friend directory and request handling.
type FriendService struct {
	engine *intsync.Engine
}

// NewFriendService creates a new friend service.
func NewFriendService(engine *intsync.Engine) *FriendService {
	return &FriendService{engine: engine}
}

func (s *FriendService) ListFriends(_ context.Context, _ *Empty) (*FriendsResponse, error) {
	return &FriendsResponse{Friends: s.engine.Friends().List()}, nil
}

func (s *FriendService) ListRequests(_ context.Context, _ *Empty) (*RequestsResponse, error) {
	dir := s.engine.Friends()
	return &RequestsResponse{Sent: dir.Sent(), Received: dir.Received()}, nil
}

func (s *FriendService) SendRequest(ctx context.Context, req *NameRequest) (*Empty, error) {
	return s.call(req, func(name string) error { return s.engine.SendFriendRequest(ctx, name) })
}

func (s *FriendService) AcceptRequest(ctx context.Context, req *NameRequest) (*Empty, error) {
	return s.call(req, func(name string) error { return s.engine.AcceptRequest(ctx, name) })
}

func (s *FriendService) DeclineRequest(ctx context.Context, req *NameRequest) (*Empty, error) {
	return s.call(req, func(name string) error { return s.engine.DeclineRequest(ctx, name) })
}

func (s *FriendService) call(req *NameRequest, fn func(name string) error) (*Empty, error) {
	if req.Name == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "name is required")
	}
	if err := fn(req.Name); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}
