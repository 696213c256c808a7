// Package grpcpublisher implements notify.Publisher against a remote gRPC
// endpoint. It registers a JSON wire codec rather than a generated
// protobuf message, so a completion message round-trips as plain
// notify.BundleCompletion JSON over the gRPC transport without requiring a
// separate .proto contract for this single one-way call.
package grpcpublisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/oriys/fetchengine/internal/notify"
)

const codecName = "json"

var registerOnce sync.Once

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
func (jsonCodec) Name() string { return codecName }

// Publisher sends one unary RPC per completed bundle to method on a single
// shared *grpc.ClientConn.
type Publisher struct {
	conn   *grpc.ClientConn
	method string
}

// New dials addr and returns a Publisher that invokes method (an RPC path
// of the form "/package.Service/Method") for every published bundle.
func New(addr, method string) (*Publisher, error) {
	registerOnce.Do(func() { encoding.RegisterCodec(jsonCodec{}) })

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("grpcpublisher: connect %s: %w", addr, err)
	}
	return &Publisher{conn: conn, method: method}, nil
}

// ack is the reply envelope; its contents are ignored, only the RPC's
// success or failure matters to the caller.
type ack struct{}

func (p *Publisher) Publish(ctx context.Context, msg notify.BundleCompletion) error {
	var reply ack
	if err := p.conn.Invoke(ctx, p.method, &msg, &reply); err != nil {
		return fmt.Errorf("grpcpublisher: invoke %s: %w", p.method, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}
