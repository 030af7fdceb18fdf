// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginsdk

// ProxyCount returns how many event proxies the server holds.
func (s *HostServer) ProxyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.proxies)
}
