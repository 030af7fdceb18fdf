// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package main is an out-of-process plugin that answers chatMessage events
// with the payload reversed.
//
// Build next to its manifest:
//
//	go build -o plugins/reverser/reverser ./plugins/reverser
package main

import (
	"context"

	"github.com/holomush/pluginhost/pkg/pluginapi"
	"github.com/holomush/pluginhost/pkg/pluginsdk"
)

type reverser struct {
	host pluginapi.Host
	cb   *pluginapi.Callback
}

func (r *reverser) Info() pluginapi.Descriptor {
	return pluginapi.Descriptor{
		Name:         "reverser",
		Version:      "1.0.0",
		ABIVersion:   pluginapi.ABIVersion,
		Priority:     pluginapi.PriorityDefault,
		Dependencies: []pluginapi.Dependency{{Name: "echo", Kind: pluginapi.Optional}},
	}
}

func (r *reverser) Init(h pluginapi.Host) error {
	r.host = h
	r.cb = pluginapi.NewCallback(func(_ context.Context, _, payload string) error {
		h.SendEvent("chatReply", reverse(payload))
		return nil
	})
	h.RegisterEvent("chatMessage", r.cb)
	h.Log("INFO", "reverser ready")
	return nil
}

func (r *reverser) Shutdown() {
	if r.host != nil && r.cb != nil {
		r.host.UnregisterEvent(r.cb)
	}
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func main() {
	pluginsdk.Serve(&reverser{})
}
