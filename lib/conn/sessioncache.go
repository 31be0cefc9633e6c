/*
Copyright 2026 The QuicFuscate Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package conn

import (
	"crypto/tls"

	"github.com/quicfuscate/quicsand/lib/conn/session"
)

// sessionCacheBridge adapts a session.Store (spec §4.15's persisted
// 0-RTT ticket store, keyed by hostname) to tls.ClientSessionCache.
// tls.QUICConn surfaces resumption through the standard TLS 1.3
// session-ticket machinery rather than a QUIC-specific event, so the
// bridge only needs the stdlib's opaque SessionState marshaling, never
// interpreting ticket contents itself.
type sessionCacheBridge struct {
	store session.Store
}

func newSessionCacheBridge(store session.Store) tls.ClientSessionCache {
	return sessionCacheBridge{store: store}
}

func (b sessionCacheBridge) Get(sessionKey string) (*tls.ClientSessionState, bool) {
	raw, ok := b.store.Load(sessionKey)
	if !ok {
		return nil, false
	}
	state, err := tls.ParseSessionState(raw)
	if err != nil {
		return nil, false
	}
	cs, err := tls.NewResumptionState(state)
	if err != nil {
		return nil, false
	}
	return cs, true
}

func (b sessionCacheBridge) Put(sessionKey string, cs *tls.ClientSessionState) {
	if cs == nil {
		return
	}
	state, err := cs.ResumptionState()
	if err != nil {
		return
	}
	raw, err := state.Bytes()
	if err != nil {
		return
	}
	_ = b.store.Save(sessionKey, raw)
}
