/*
Package jsonrpc implements the nexd control transport: JSON-RPC 2.0 over a
unix domain socket, as described in https://www.jsonrpc.org/specification.

Framing is one request per connection. The client writes the request and
half-closes its write side; the server reads to EOF, writes the full reply
and closes. This keeps both ends free of length-prefix framing and matches
the storage daemon sockets nexd interoperates with.

# Error mapping

Handler errors carrying an errdefs kind are mapped onto codes in the
JSON-RPC reserved server-error range (-32000..-32099) and reconstructed as
the same kind on the client, so errors.Is works across the wire:

	err := jsonrpc.Call(ctx, sock, "destroy_nexus", req, nil)
	if errors.Is(err, errdefs.ErrStillPublished) { ... }

Protocol failures use the spec codes (-32700 parse error, -32600 invalid
request, -32601 method not found, -32602 invalid params, -32603 internal).

# Usage

Server:

	srv := jsonrpc.NewServer("/var/run/nexd/nexd.sock")
	srv.Handle("list_nexus", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return registryList(), nil
	})
	go srv.Start()
	defer srv.Stop()

Client:

	var reply types.ListNexusReply
	err := jsonrpc.Call(ctx, sock, "list_nexus", nil, &reply)
*/
package jsonrpc
