// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginsdk

import (
	"context"
	"fmt"
	"net/rpc"
	"sync"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// PluginServer runs inside the plugin process and serves the plugin to the
// host.
type PluginServer struct {
	impl   pluginapi.Plugin
	broker *hashiplug.MuxBroker

	mu   sync.Mutex
	host *HostClient
}

// Info implements the RPC call.
func (s *PluginServer) Info(_ interface{}, resp *pluginapi.Descriptor) error {
	*resp = s.impl.Info()
	return nil
}

// Init dials the host facade and runs the plugin's Init against it.
func (s *PluginServer) Init(args InitArgs, _ *interface{}) error {
	conn, err := s.broker.Dial(args.HostID)
	if err != nil {
		return oops.In("pluginsdk").Wrapf(err, "dial host")
	}
	host := NewHostClient(rpc.NewClient(conn))

	s.mu.Lock()
	prev := s.host
	s.host = host
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	return s.impl.Init(host)
}

// Invoke runs a callback the plugin registered. A panic in the callback is
// returned as an error instead of killing the process.
func (s *PluginServer) Invoke(args InvokeArgs, _ *interface{}) (err error) {
	s.mu.Lock()
	host := s.host
	s.mu.Unlock()
	if host == nil {
		return oops.In("pluginsdk").Errorf("plugin is not initialized")
	}

	cb, ok := host.callback(args.CallbackID)
	if !ok {
		return oops.In("pluginsdk").With("callback_id", args.CallbackID).Errorf("unknown callback %d", args.CallbackID)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return cb.Invoke(context.Background(), args.Event, args.Payload)
}

// Shutdown runs the plugin's Shutdown and drops the host connection.
func (s *PluginServer) Shutdown(_ interface{}, _ *interface{}) error {
	s.impl.Shutdown()

	s.mu.Lock()
	host := s.host
	s.host = nil
	s.mu.Unlock()
	if host != nil {
		_ = host.Close()
	}
	return nil
}

// HostClient is the plugin-side pluginapi.Host. It forwards every call to
// the host and keeps the callbacks it hands out so the host can invoke them
// by ID.
type HostClient struct {
	client *rpc.Client

	mu        sync.Mutex
	callbacks map[uint64]*pluginapi.Callback
}

var _ pluginapi.Host = (*HostClient)(nil)

// NewHostClient wraps an RPC connection to the host facade.
func NewHostClient(client *rpc.Client) *HostClient {
	return &HostClient{
		client:    client,
		callbacks: make(map[uint64]*pluginapi.Callback),
	}
}

// Close closes the connection to the host.
func (h *HostClient) Close() error {
	return h.client.Close()
}

func (h *HostClient) remember(cb *pluginapi.Callback) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks[cb.ID()] = cb
	return cb.ID()
}

func (h *HostClient) callback(id uint64) (*pluginapi.Callback, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cb, ok := h.callbacks[id]
	return cb, ok
}

func (h *HostClient) call(method string, args, reply any) error {
	if reply == nil {
		reply = new(interface{})
	}
	return h.client.Call("Plugin."+method, args, reply)
}

// SendEvent forwards to the host.
func (h *HostClient) SendEvent(name, payload string) {
	_ = h.call("SendEvent", EventArgs{Name: name, Payload: payload}, nil)
}

// RegisterEvent forwards to the host. Nil callbacks are ignored.
func (h *HostClient) RegisterEvent(name string, cb *pluginapi.Callback) {
	if cb == nil {
		return
	}
	_ = h.call("RegisterEvent", EventArgs{Name: name, CallbackID: h.remember(cb)}, nil)
}

// UnregisterEvent forwards to the host.
func (h *HostClient) UnregisterEvent(cb *pluginapi.Callback) {
	if cb == nil {
		return
	}
	_ = h.call("UnregisterEvent", EventArgs{CallbackID: cb.ID()}, nil)
}

// LoadPlugin forwards to the host.
func (h *HostClient) LoadPlugin(name string) error {
	return h.call("LoadPlugin", name, nil)
}

// UnloadPlugin forwards to the host.
func (h *HostClient) UnloadPlugin(name string) error {
	return h.call("UnloadPlugin", name, nil)
}

// Log forwards to the host.
func (h *HostClient) Log(level, message string) {
	_ = h.call("Log", LogArgs{Level: level, Message: message}, nil)
}

// SetData forwards to the host.
func (h *HostClient) SetData(key, value string) error {
	return h.call("SetData", DataArgs{Key: key, Value: value}, nil)
}

// GetData forwards to the host. Transport errors read as absent.
func (h *HostClient) GetData(key string) (string, bool) {
	var resp DataReply
	if err := h.call("GetData", DataArgs{Key: key}, &resp); err != nil {
		return "", false
	}
	return resp.Value, resp.Found
}

// HasData forwards to the host.
func (h *HostClient) HasData(key string) bool {
	var resp DataReply
	if err := h.call("HasData", DataArgs{Key: key}, &resp); err != nil {
		return false
	}
	return resp.Found
}

// DeleteData forwards to the host.
func (h *HostClient) DeleteData(key string) bool {
	var resp DataReply
	if err := h.call("DeleteData", DataArgs{Key: key}, &resp); err != nil {
		return false
	}
	return resp.Found
}

// SetTimer forwards to the host.
func (h *HostClient) SetTimer(delay time.Duration, cb *pluginapi.Callback, repeat bool) pluginapi.TimerID {
	if cb == nil {
		return pluginapi.NoTimer
	}
	var id pluginapi.TimerID
	if err := h.call("SetTimer", TimerArgs{Delay: delay, CallbackID: h.remember(cb), Repeat: repeat}, &id); err != nil {
		return pluginapi.NoTimer
	}
	return id
}

// CancelTimer forwards to the host.
func (h *HostClient) CancelTimer(id pluginapi.TimerID) bool {
	var ok bool
	if err := h.call("CancelTimer", id, &ok); err != nil {
		return false
	}
	return ok
}
