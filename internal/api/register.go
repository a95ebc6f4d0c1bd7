package api

import "google.golang.org/grpc"

// Services bundles the daemon control services.
type Services struct {
	Session *SessionService
	Friend  *FriendService
	Chat    *ChatService
	Event   *EventService
}

// Register registers every control service on s.
func Register(s grpc.ServiceRegistrar, svc Services) {
	s.RegisterService(&sessionServiceDesc, svc.Session)
	s.RegisterService(&friendServiceDesc, svc.Friend)
	s.RegisterService(&chatServiceDesc, svc.Chat)
	s.RegisterService(&eventServiceDesc, svc.Event)
}
