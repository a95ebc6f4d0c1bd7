package api

import (
	"context"
	"errors"

	"github.com/matheus3301/ims/internal/model"
	"github.com/matheus3301/ims/internal/rpc"
	intsync "github.com/matheus3301/ims/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const ChatServiceName = "ims.v1.ChatService"

// ChatServer is the server side of ChatService.
type ChatServer interface {
	ListChats(context.Context, *Empty) (*ChatsResponse, error)
	GetChat(context.Context, *ChatRequest) (*ChatResponse, error)
	OpenChat(context.Context, *ChatRequest) (*OpenChatResponse, error)
	CreateChat(context.Context, *CreateChatRequest) (*CreateChatResponse, error)
	AddMember(context.Context, *MemberRequest) (*Empty, error)
	LeaveChat(context.Context, *ChatRequest) (*Empty, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
}

var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ChatServiceName, "ListChats", ChatServer.ListChats),
		rpc.Unary(ChatServiceName, "GetChat", ChatServer.GetChat),
		rpc.Unary(ChatServiceName, "OpenChat", ChatServer.OpenChat),
		rpc.Unary(ChatServiceName, "CreateChat", ChatServer.CreateChat),
		rpc.Unary(ChatServiceName, "AddMember", ChatServer.AddMember),
		rpc.Unary(ChatServiceName, "LeaveChat", ChatServer.LeaveChat),
		rpc.Unary(ChatServiceName, "SendMessage", ChatServer.SendMessage),
	},
}

// ChatService exposes the chat registry and chat mutations.
type ChatService struct {
	engine *intsync.Engine
	logger *zap.Logger
}

// NewChatService creates a new chat service.
func NewChatService(engine *intsync.Engine, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{engine: engine, logger: logger}
}

func (s *ChatService) ListChats(_ context.Context, _ *Empty) (*ChatsResponse, error) {
	return &ChatsResponse{Chats: s.engine.Chats().List()}, nil
}

func (s *ChatService) GetChat(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	v, err := s.engine.Chat(req.ChatID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &v, nil
}

// OpenChat fetches new messages of a chat, marks it read and returns it.
// When the fetch fails for any reason other than the chat being gone, the
// cached history is returned with a warning.
func (s *ChatService) OpenChat(ctx context.Context, req *ChatRequest) (*OpenChatResponse, error) {
	resp := &OpenChatResponse{}
	n, err := s.engine.RefreshChat(ctx, req.ChatID)
	switch {
	case err == nil:
		resp.Fetched = n
	case errors.Is(err, model.ErrNotFound), errors.Is(err, intsync.ErrNotLoggedIn):
		return nil, toStatus(err)
	default:
		s.logger.Warn("open chat: refresh failed", zap.Int64("chat_id", req.ChatID), zap.Error(err))
		resp.Warning = err.Error()
	}

	if err := s.engine.MarkRead(req.ChatID); err != nil {
		return nil, toStatus(err)
	}
	v, err := s.engine.Chat(req.ChatID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp.Chat = v
	return resp, nil
}

func (s *ChatService) CreateChat(ctx context.Context, req *CreateChatRequest) (*CreateChatResponse, error) {
	id, err := s.engine.CreateChat(ctx, req.Description, req.Member)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateChatResponse{ChatID: id}, nil
}

func (s *ChatService) AddMember(ctx context.Context, req *MemberRequest) (*Empty, error) {
	if req.Name == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "name is required")
	}
	if err := s.engine.AddMember(ctx, req.ChatID, req.Name); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) LeaveChat(ctx context.Context, req *ChatRequest) (*Empty, error) {
	if err := s.engine.LeaveChat(ctx, req.ChatID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	if req.Text == "" && req.Attachment == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "message is empty")
	}
	ts, err := s.engine.SendMessage(ctx, req.ChatID, req.Text, req.Attachment)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendMessageResponse{Timestamp: ts}, nil
}
