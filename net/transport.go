// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package net wires SecureStream and WireProtocols onto a libp2p
// transport: a host for dialing/listening, gossipsub for broadcast, and
// a Kademlia DHT for peer discovery. It replaces the teacher's gRPC
// service (net/pb, google.golang.org/grpc) and textileio pubsub-rpc
// wrapper, neither of which this module depends on; request/response
// framing instead goes through package wire's envelope over a
// gostream-listened protocol stream wrapped by package secure.
package net

import (
	"context"
	"time"

	gostream "github.com/libp2p/go-libp2p-gostream"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/routing"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/meshdoc/core/errors"
	"github.com/meshdoc/core/logging"
)

var log = logging.MustNewLogger("net")

// ProtocolID is the gostream protocol used for request/response streams
// (SecureStream handshake followed by framed wire.Envelope exchange).
const ProtocolID protocol.ID = "/meshcore/sync/1.0.0"

// Transport bundles the libp2p host, gossip router, and DHT this module
// needs; it knows nothing about contexts, deltas, or CRDTs, only how to
// dial and listen for byte streams and pubsub messages.
type Transport struct {
	Host host.Host
	PS   *pubsub.PubSub
	DHT  *dht.IpfsDHT

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTransport constructs a libp2p host listening on listenAddr, a
// gossipsub router over it, and a DHT in server mode for peer routing.
// The host's identity key is independent of any MemberKey: PeerId is a
// transport-layer identity, never used for delta authorship or artifact
// encryption (spec.md §3/§9 OQ1).
func NewTransport(ctx context.Context, listenAddr string) (*Transport, error) {
	ctx, cancel := context.WithCancel(ctx)

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap("generating libp2p identity key", err)
	}

	addr, err := ma.NewMultiaddr(listenAddr)
	if err != nil {
		cancel()
		return nil, errors.Wrap("parsing listen address", err)
	}

	var kadDHT *dht.IpfsDHT
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(addr),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var derr error
			kadDHT, derr = dht.New(ctx, h, dht.Mode(dht.ModeServer))
			return kadDHT, derr
		}),
	)
	if err != nil {
		cancel()
		return nil, errors.Wrap("constructing libp2p host", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, errors.Wrap("constructing gossipsub router", err)
	}

	t := &Transport{Host: h, PS: ps, DHT: kadDHT, ctx: ctx, cancel: cancel}
	log.Info(ctx, "transport started", logging.NewKV("PeerID", h.ID().String()), logging.NewKV("Listen", listenAddr))
	return t, nil
}

// Bootstrap connects to the given peer addresses and joins the DHT.
func (t *Transport) Bootstrap(ctx context.Context, peers []ma.Multiaddr) error {
	for _, addr := range peers {
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			return errors.Wrap("parsing bootstrap address", err)
		}
		t.Host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = t.Host.Connect(dialCtx, *info)
		cancel()
		if err != nil {
			log.ErrorE(ctx, "bootstrap dial failed", err, logging.NewKV("Peer", info.ID.String()))
			continue
		}
	}
	if t.DHT != nil {
		return errors.Wrap("bootstrapping DHT", t.DHT.Bootstrap(ctx))
	}
	return nil
}

// Listen accepts inbound ProtocolID streams, handing each to handle.
// Each stream is a RawStream suitable for secure.Accept.
func (t *Transport) Listen(handle func(network.Stream)) error {
	l, err := gostream.Listen(t.Host, ProtocolID)
	if err != nil {
		return errors.Wrap("listening for sync protocol", err)
	}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				log.ErrorE(t.ctx, "sync listener accept failed", err)
				return
			}
			stream, ok := conn.(network.Stream)
			if !ok {
				conn.Close()
				continue
			}
			go handle(stream)
		}
	}()
	return nil
}

// Dial opens a ProtocolID stream to pid, a RawStream suitable for
// secure.Open.
func (t *Transport) Dial(ctx context.Context, pid peer.ID) (network.Stream, error) {
	s, err := gostream.Dial(ctx, t.Host, pid, ProtocolID)
	if err != nil {
		return nil, errors.NewErrTransport("dialing sync protocol", err)
	}
	return s, nil
}

func (t *Transport) LocalPeerID() peer.ID {
	return t.Host.ID()
}

// Close tears down the DHT, pubsub, and host.
func (t *Transport) Close() error {
	t.cancel()
	if t.DHT != nil {
		if err := t.DHT.Close(); err != nil {
			log.ErrorE(t.ctx, "error closing DHT", err)
		}
	}
	return t.Host.Close()
}
