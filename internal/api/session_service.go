package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/ims/internal/rpc"
	"github.com/matheus3301/ims/internal/status"
	"github.com/matheus3301/ims/internal/store"
	intsync "github.com/matheus3301/ims/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const SessionServiceName = "ims.v1.SessionService"

// SessionServer is the server side of SessionService.
type SessionServer interface {
	GetStatus(context.Context, *Empty) (*StatusResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Register(context.Context, *RegisterRequest) (*Empty, error)
	Logout(context.Context, *Empty) (*Empty, error)
	Save(context.Context, *Empty) (*SaveResponse, error)
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(SessionServiceName, "GetStatus", SessionServer.GetStatus),
		rpc.Unary(SessionServiceName, "Login", SessionServer.Login),
		rpc.Unary(SessionServiceName, "Register", SessionServer.Register),
		rpc.Unary(SessionServiceName, "Logout", SessionServer.Logout),
		rpc.Unary(SessionServiceName, "Save", SessionServer.Save),
	},
}

// SessionService reports daemon status and drives login, logout and saves.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	machine     *status.Machine
	engine      *intsync.Engine
	db          *store.DB
	logger      *zap.Logger
}

// NewSessionService creates a new session service. db may be nil, which
// disables saves.
func NewSessionService(sessionName string, machine *status.Machine, engine *intsync.Engine, db *store.DB, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		machine:     machine,
		engine:      engine,
		db:          db,
		logger:      logger,
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ *Empty) (*StatusResponse, error) {
	user, loggedIn := s.engine.User()
	resp := &StatusResponse{
		Session:       s.sessionName,
		Status:        string(s.machine.Current()),
		StatusSinceMs: s.machine.Since().UnixMilli(),
		User:          user,
		LoggedIn:      loggedIn,
		UptimeMs:      time.Since(s.startedAt).Milliseconds(),
		Friends:       s.engine.Friends().Len(),
		Chats:         s.engine.Chats().Len(),
		Cursors:       s.engine.Cursors(),
	}
	if s.db != nil {
		if last, err := s.db.LastSave(); err == nil {
			resp.LastSave = &last
		}
	}
	return resp, nil
}

// Login moves AUTH_REQUIRED → CONNECTING → SYNCING → READY. A rejected login
// falls back to AUTH_REQUIRED; a failed initial retrieval ends in DEGRADED.
func (s *SessionService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if err := s.machine.Transition(status.Connecting); err != nil {
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "cannot log in while %s", s.machine.Current())
	}

	user, err := s.engine.Login(ctx, req.Name, req.Password)
	if user.Name == "" {
		_ = s.machine.Transition(status.AuthRequired)
		if err == nil {
			err = errors.New("server returned an empty user")
		}
		s.logger.Warn("login failed", zap.String("user", req.Name), zap.Error(err))
		return nil, toStatus(err)
	}

	_ = s.machine.Transition(status.Syncing)
	if err != nil {
		s.logger.Warn("initial retrieval failed", zap.Error(err))
		_ = s.machine.Transition(status.Degraded)
		return &LoginResponse{User: user, Warning: err.Error()}, nil
	}
	_ = s.machine.Transition(status.Ready)
	return &LoginResponse{User: user}, nil
}

func (s *SessionService) Register(ctx context.Context, req *RegisterRequest) (*Empty, error) {
	if req.Name == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "name is required")
	}
	if err := s.engine.Register(ctx, req.Name, req.Password, req.Info); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *SessionService) Logout(ctx context.Context, _ *Empty) (*Empty, error) {
	if _, ok := s.engine.User(); !ok {
		return nil, toStatus(intsync.ErrNotLoggedIn)
	}
	if err := s.engine.Logout(ctx); err != nil {
		return nil, toStatus(err)
	}
	_ = s.machine.Transition(status.AuthRequired)
	return &Empty{}, nil
}

func (s *SessionService) Save(_ context.Context, _ *Empty) (*SaveResponse, error) {
	info, err := SaveState(s.engine, s.db)
	if err != nil {
		return nil, toStatus(err)
	}
	return &info, nil
}

// SaveState archives the engine's mirror in db.
func SaveState(engine *intsync.Engine, db *store.DB) (store.SaveInfo, error) {
	if db == nil {
		return store.SaveInfo{}, grpcstatus.Error(codes.Unavailable, "no state archive configured")
	}
	if _, ok := engine.User(); !ok {
		return store.SaveInfo{}, intsync.ErrNotLoggedIn
	}
	return db.SaveSnapshot(engine.Snapshot())
}
