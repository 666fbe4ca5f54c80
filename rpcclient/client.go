// Package rpcclient wraps the orchestrator's XML-RPC endpoint. It exposes
// only the one call the monitor core needs (one.hostpool.info); there is
// no ambition here to be a general-purpose OpenNebula client.
package rpcclient

import (
	"context"
	"fmt"

	"github.com/kolo/xmlrpc"
)

// Config configures a Client.
type Config struct {
	Endpoint string // e.g. "http://127.0.0.1:2633/RPC2"
	Session  string // oneadmin auth string, empty if the endpoint needs none
}

// Client talks to the orchestrator's XML-RPC endpoint.
type Client struct {
	rpc     *xmlrpc.Client
	session string
}

// NewClient dials the configured endpoint. Dialing is lazy in the
// underlying library — this mostly validates the URL.
func NewClient(cfg Config) (*Client, error) {
	rpc, err := xmlrpc.NewClient(cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", cfg.Endpoint, err)
	}
	return &Client{rpc: rpc, session: cfg.Session}, nil
}

// hostPoolInfoReply is the one.hostpool.info response shape: a leading
// success boolean, followed by the XML document on success or an error
// message on failure, per the orchestrator's RPC convention.
type hostPoolInfoReply struct {
	Success bool
	Message string
}

// HostPoolInfo calls one.hostpool.info and returns the raw
// <HOST_POOL>...</HOST_POOL> XML document. The kolo/xmlrpc client does not
// thread a context into the underlying HTTP round trip; ctx cancellation
// is honored only between retry attempts by the caller (hostpool.Bootstrap),
// not mid-call.
func (c *Client) HostPoolInfo(ctx context.Context) (string, error) {
	var reply []interface{}
	if err := c.rpc.Call("one.hostpool.info", []interface{}{c.session}, &reply); err != nil {
		return "", fmt.Errorf("rpcclient: one.hostpool.info: %w", err)
	}

	parsed, err := parseReply(reply)
	if err != nil {
		return "", err
	}
	if !parsed.Success {
		return "", fmt.Errorf("rpcclient: one.hostpool.info failed: %s", parsed.Message)
	}
	return parsed.Message, nil
}

func parseReply(reply []interface{}) (hostPoolInfoReply, error) {
	if len(reply) < 2 {
		return hostPoolInfoReply{}, fmt.Errorf("rpcclient: malformed reply, want at least 2 elements, got %d", len(reply))
	}
	ok, isBool := reply[0].(bool)
	if !isBool {
		return hostPoolInfoReply{}, fmt.Errorf("rpcclient: malformed reply, element 0 is not bool")
	}
	msg, isString := reply[1].(string)
	if !isString {
		return hostPoolInfoReply{}, fmt.Errorf("rpcclient: malformed reply, element 1 is not string")
	}
	return hostPoolInfoReply{Success: ok, Message: msg}, nil
}
