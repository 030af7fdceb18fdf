// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginsdk

import (
	"context"
	"log/slog"
	"net/rpc"
	"sync"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// PluginClient is the host-side view of a plugin in another process.
type PluginClient struct {
	broker *hashiplug.MuxBroker
	client *rpc.Client

	once sync.Once
	desc pluginapi.Descriptor
	err  error
}

var _ pluginapi.Plugin = (*PluginClient)(nil)

// Describe fetches the remote descriptor once and caches it.
func (c *PluginClient) Describe() (pluginapi.Descriptor, error) {
	c.once.Do(func() {
		c.err = c.client.Call("Plugin.Info", new(interface{}), &c.desc)
		if c.err != nil {
			c.err = oops.In("pluginsdk").Wrapf(c.err, "describe plugin")
		}
	})
	return c.desc.Clone(), c.err
}

// Info returns the cached descriptor. If the plugin could not be asked, the
// zero descriptor is returned, which fails ABI validation.
func (c *PluginClient) Info() pluginapi.Descriptor {
	d, err := c.Describe()
	if err != nil {
		slog.Warn("binary plugin did not describe itself", "error", err)
	}
	return d
}

// Init serves host on a new broker stream and asks the plugin to connect to
// it before running its own Init.
func (c *PluginClient) Init(host pluginapi.Host) error {
	id := c.broker.NextId()
	go c.broker.AcceptAndServe(id, NewHostServer(host, c.client))

	var resp interface{}
	if err := c.client.Call("Plugin.Init", InitArgs{HostID: id}, &resp); err != nil {
		return oops.In("pluginsdk").With("plugin", c.desc.Name).Wrapf(err, "remote init")
	}
	return nil
}

// Shutdown asks the plugin to shut down. Transport errors are logged.
func (c *PluginClient) Shutdown() {
	var resp interface{}
	if err := c.client.Call("Plugin.Shutdown", new(interface{}), &resp); err != nil {
		slog.Warn("binary plugin shutdown failed",
			"plugin", c.desc.Name,
			"error", err)
	}
}

// HostServer serves a pluginapi.Host to a plugin process. Callback IDs
// registered for events are mapped to one proxy handle each, so
// unregistering by identity works across the boundary. A proxy lives until
// its callback is unregistered. Timers get their own handle and never enter
// the map.
type HostServer struct {
	host   pluginapi.Host
	plugin *rpc.Client

	mu      sync.Mutex
	proxies map[uint64]*pluginapi.Callback
}

// NewHostServer creates a server for host. plugin is used to call back into
// the plugin when a proxied callback fires.
func NewHostServer(host pluginapi.Host, plugin *rpc.Client) *HostServer {
	return &HostServer{
		host:    host,
		plugin:  plugin,
		proxies: make(map[uint64]*pluginapi.Callback),
	}
}

// invoker returns a new handle that calls the plugin's callback id.
func (s *HostServer) invoker(id uint64) *pluginapi.Callback {
	return pluginapi.NewCallback(func(ctx context.Context, event, payload string) error {
		var resp interface{}
		return callContext(ctx, s.plugin, "Plugin.Invoke", InvokeArgs{
			CallbackID: id,
			Event:      event,
			Payload:    payload,
		}, &resp)
	})
}

func (s *HostServer) proxy(id uint64) *pluginapi.Callback {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.proxies[id]; ok {
		return cb
	}
	cb := s.invoker(id)
	s.proxies[id] = cb
	return cb
}

// release removes and returns the proxy for id.
func (s *HostServer) release(id uint64) (*pluginapi.Callback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.proxies[id]
	delete(s.proxies, id)
	return cb, ok
}

// SendEvent implements the facade call.
func (s *HostServer) SendEvent(args EventArgs, _ *interface{}) error {
	s.host.SendEvent(args.Name, args.Payload)
	return nil
}

// RegisterEvent implements the facade call.
func (s *HostServer) RegisterEvent(args EventArgs, _ *interface{}) error {
	s.host.RegisterEvent(args.Name, s.proxy(args.CallbackID))
	return nil
}

// UnregisterEvent implements the facade call.
func (s *HostServer) UnregisterEvent(args EventArgs, _ *interface{}) error {
	if cb, ok := s.release(args.CallbackID); ok {
		s.host.UnregisterEvent(cb)
	}
	return nil
}

// LoadPlugin implements the facade call.
func (s *HostServer) LoadPlugin(name string, _ *interface{}) error {
	return s.host.LoadPlugin(name)
}

// UnloadPlugin implements the facade call.
func (s *HostServer) UnloadPlugin(name string, _ *interface{}) error {
	return s.host.UnloadPlugin(name)
}

// Log implements the facade call.
func (s *HostServer) Log(args LogArgs, _ *interface{}) error {
	s.host.Log(args.Level, args.Message)
	return nil
}

// SetData implements the facade call.
func (s *HostServer) SetData(args DataArgs, _ *interface{}) error {
	return s.host.SetData(args.Key, args.Value)
}

// GetData implements the facade call.
func (s *HostServer) GetData(args DataArgs, resp *DataReply) error {
	resp.Value, resp.Found = s.host.GetData(args.Key)
	return nil
}

// HasData implements the facade call.
func (s *HostServer) HasData(args DataArgs, resp *DataReply) error {
	resp.Found = s.host.HasData(args.Key)
	return nil
}

// DeleteData implements the facade call.
func (s *HostServer) DeleteData(args DataArgs, resp *DataReply) error {
	resp.Found = s.host.DeleteData(args.Key)
	return nil
}

// SetTimer implements the facade call.
func (s *HostServer) SetTimer(args TimerArgs, resp *pluginapi.TimerID) error {
	*resp = s.host.SetTimer(args.Delay, s.invoker(args.CallbackID), args.Repeat)
	return nil
}

// CancelTimer implements the facade call.
func (s *HostServer) CancelTimer(id pluginapi.TimerID, resp *bool) error {
	*resp = s.host.CancelTimer(id)
	return nil
}
