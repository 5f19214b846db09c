package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
)

// Call makes a JSON-RPC request over the unix domain socket and decodes the
// reply into result (which may be nil when no payload is expected).
//
// Framing is one request per connection: write the request, half-close the
// write side, then read the full reply until the server closes. The reply id
// must echo the request id.
func Call(ctx context.Context, sockPath, method string, params, result interface{}) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode params: %w", err)
		}
		raw = data
	}

	request := Request{
		Method:  method,
		Params:  raw,
		ID:      json.Number("0"),
		JSONRPC: Version,
	}
	requestRaw, err := json.Marshal(&request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", sockPath)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", sockPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}

	if _, err := conn.Write(requestRaw); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	if err := conn.(*net.UnixConn).CloseWrite(); err != nil {
		return fmt.Errorf("failed to half-close: %w", err)
	}

	replyRaw, err := io.ReadAll(conn)
	if err != nil {
		return fmt.Errorf("failed to read reply: %w", err)
	}

	return parseReply(replyRaw, result)
}

// parseReply validates a JSON-RPC reply and decodes the embedded user data.
func parseReply(replyRaw []byte, result interface{}) error {
	var reply Response
	if err := json.Unmarshal(replyRaw, &reply); err != nil {
		return fmt.Errorf("failed to parse reply: %w", err)
	}

	if reply.JSONRPC != "" && reply.JSONRPC != Version {
		return fmt.Errorf("invalid jsonrpc version %q", reply.JSONRPC)
	}
	if reply.ID != "0" {
		return fmt.Errorf("reply id %q does not match request", reply.ID)
	}

	if reply.Error != nil {
		if kind := kindFor(reply.Error.Code); kind != nil {
			return fmt.Errorf("%s: %w", reply.Error.Message, kind)
		}
		return reply.Error
	}

	if result == nil {
		return nil
	}
	if reply.Result == nil {
		// void reply, leave result zeroed
		return nil
	}
	return json.Unmarshal(reply.Result, result)
}
