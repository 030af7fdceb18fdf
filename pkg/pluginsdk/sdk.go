// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pluginsdk runs a pluginapi.Plugin in its own process and connects
// it to the plugin host over HashiCorp go-plugin's net/rpc transport.
//
// A binary plugin implements pluginapi.Plugin and serves it from main:
//
//	type Echo struct{ host pluginapi.Host }
//
//	func (e *Echo) Info() pluginapi.Descriptor {
//		return pluginapi.Descriptor{Name: "echo-bin", Version: "1.0.0", ABIVersion: pluginapi.ABIVersion}
//	}
//
//	func (e *Echo) Init(h pluginapi.Host) error {
//		e.host = h
//		h.RegisterEvent("chatMessage", pluginapi.NewCallback(func(_ context.Context, _, payload string) error {
//			h.SendEvent("chatReply", "Echo: "+payload)
//			return nil
//		}))
//		return nil
//	}
//
//	func (e *Echo) Shutdown() {}
//
//	func main() {
//		pluginsdk.Serve(&Echo{})
//	}
//
// The host facade handed to Init is a proxy: every call crosses the process
// boundary. Callbacks stay in the plugin process and are referenced by ID.
package pluginsdk

import (
	"net/rpc"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// PluginName is the go-plugin dispense name.
const PluginName = "plugin"

// HandshakeConfig is the go-plugin handshake configuration. The protocol
// version tracks pluginapi.ABIVersion.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  uint(pluginapi.ABIVersion),
	MagicCookieKey:   "PLUGINHOST_PLUGIN",
	MagicCookieValue: "pluginhost-v1",
}

// PluginMap returns the go-plugin map for impl. The host passes nil.
func PluginMap(impl pluginapi.Plugin) map[string]hashiplug.Plugin {
	return map[string]hashiplug.Plugin{
		PluginName: &RPCPlugin{Impl: impl},
	}
}

// Serve serves impl to the host. It blocks for the life of the process.
// Panics if impl is nil.
func Serve(impl pluginapi.Plugin) {
	if impl == nil {
		panic("pluginsdk: plugin cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginMap(impl),
	})
}

// RPCPlugin implements go-plugin's net/rpc Plugin for both sides.
type RPCPlugin struct {
	// Impl is the plugin implementation, used on the plugin side only.
	Impl pluginapi.Plugin
}

// Server returns the plugin-side RPC server.
func (p *RPCPlugin) Server(b *hashiplug.MuxBroker) (interface{}, error) {
	if p.Impl == nil {
		return nil, oops.In("pluginsdk").Errorf("plugin implementation is nil")
	}
	return &PluginServer{impl: p.Impl, broker: b}, nil
}

// Client returns the host-side proxy, a pluginapi.Plugin.
func (p *RPCPlugin) Client(b *hashiplug.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &PluginClient{broker: b, client: c}, nil
}
