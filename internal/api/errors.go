package api

import (
	"errors"

	"github.com/matheus3301/ims/internal/rpc"
	intsync "github.com/matheus3301/ims/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps engine errors onto gRPC status codes for the CLI.
func toStatus(err error) error {
	if errors.Is(err, intsync.ErrNotLoggedIn) {
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	}
	return rpc.ToStatus(err)
}
