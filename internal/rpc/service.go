package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/ims/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"
)

// ServiceName is the fully qualified name of the IMS server service.
const ServiceName = "psdims.v1.IMS"

// Metadata keys carrying the login credentials on every call.
const (
	mdUser     = "psdims-user"
	mdPassword = "psdims-password"
)

// IMSServer is the server side of the IMS service.
type IMSServer interface {
	GetUser(context.Context, *LoginRequest) (*UserResponse, error)
	UserRegister(context.Context, *RegisterRequest) (*Empty, error)
	GetFriends(context.Context, *CursorRequest) (*FriendsResponse, error)
	GetChats(context.Context, *CursorRequest) (*ChatsResponse, error)
	GetChatInfo(context.Context, *ChatRequest) (*ChatInfoResponse, error)
	GetChatMessages(context.Context, *ChatRequest) (*MessagesResponse, error)
	GetPendingNotifications(context.Context, *CursorRequest) (*NotificationResponse, error)
	CreateChat(context.Context, *CreateChatRequest) (*CreateChatResponse, error)
	AddMember(context.Context, *MemberRequest) (*Empty, error)
	QuitFromChat(context.Context, *ChatRequest) (*Empty, error)
	SendMessage(context.Context, *SendMessageRequest) (*TimestampResponse, error)
	SendFriendRequest(context.Context, *UserRequest) (*TimestampResponse, error)
	AcceptRequest(context.Context, *UserRequest) (*TimestampResponse, error)
	DeclineRequest(context.Context, *UserRequest) (*TimestampResponse, error)
}

// RegisterIMSServer registers srv on s.
func RegisterIMSServer(s grpc.ServiceRegistrar, srv IMSServer) {
	s.RegisterService(&imsServiceDesc, srv)
}

var imsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IMSServer)(nil),
	Methods: []grpc.MethodDesc{
		Unary(ServiceName, "GetUser", IMSServer.GetUser),
		Unary(ServiceName, "UserRegister", IMSServer.UserRegister),
		Unary(ServiceName, "GetFriends", IMSServer.GetFriends),
		Unary(ServiceName, "GetChats", IMSServer.GetChats),
		Unary(ServiceName, "GetChatInfo", IMSServer.GetChatInfo),
		Unary(ServiceName, "GetChatMessages", IMSServer.GetChatMessages),
		Unary(ServiceName, "GetPendingNotifications", IMSServer.GetPendingNotifications),
		Unary(ServiceName, "CreateChat", IMSServer.CreateChat),
		Unary(ServiceName, "AddMember", IMSServer.AddMember),
		Unary(ServiceName, "QuitFromChat", IMSServer.QuitFromChat),
		Unary(ServiceName, "SendMessage", IMSServer.SendMessage),
		Unary(ServiceName, "SendFriendRequest", IMSServer.SendFriendRequest),
		Unary(ServiceName, "AcceptRequest", IMSServer.AcceptRequest),
		Unary(ServiceName, "DeclineRequest", IMSServer.DeclineRequest),
	},
	Metadata: "psdims/v1/ims",
}

// Unary builds a method descriptor for a handler written as a method
// expression on the service interface S.
func Unary[S any, Req any, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			})
		},
	}
}

// Credentials extracts the caller's login from incoming call metadata.
func Credentials(ctx context.Context) (name, password string, ok bool) {
	md, found := metadata.FromIncomingContext(ctx)
	if !found {
		return "", "", false
	}
	users, passwords := md.Get(mdUser), md.Get(mdPassword)
	if len(users) == 0 || len(passwords) == 0 {
		return "", "", false
	}
	return users[0], passwords[0], true
}

func withCredentials(ctx context.Context, name, password string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, mdUser, name, mdPassword, password)
}

// ToStatus converts a model error into a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, model.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, model.ErrDuplicateKey):
		return grpcstatus.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, model.ErrAuth):
		return grpcstatus.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, model.ErrTransport):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}

// FromStatus converts a gRPC error returned by op back into the model taxonomy.
func FromStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return &model.TransportError{Op: op, Err: err}
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %s: %w", op, st.Message(), model.ErrNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %s: %w", op, st.Message(), model.ErrDuplicateKey)
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%s: %s: %w", op, st.Message(), model.ErrAuth)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%s: %s", op, st.Message())
	default:
		return &model.TransportError{Op: op, Err: err}
	}
}
