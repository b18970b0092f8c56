package validator

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ConnectTimeout and RPCTimeout are the two compile-time constants
// bounding every validator connection: how long to wait for the
// transport to come up, and how long any single RPC may run.
const (
	ConnectTimeout = 5 * time.Second
	RPCTimeout     = 10 * time.Second
)

// dial opens a lazily-connecting channel to uri: no network I/O happens
// until the first RPC is issued on it.
func dial(uri string) (*grpc.ClientConn, error) {
	return grpc.NewClient(uri,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
		grpc.WithConnectParams(grpc.ConnectParams{
			MinConnectTimeout: ConnectTimeout,
		}),
	)
}
