// Package p2p implements the peer transport (C1) and peer pool (C2) layers
// of spec §4.1-4.2: keyed HTTP request/response against a named peer, and
// broadcast/segmented-fetch/requests primitives fanning out over a peer set.
package p2p

import (
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/torrentnode/replicator/log"
)

var logger = log.New("p2p")

// TransportError carries the identity of the peer that failed and a short
// message (spec §4.1). It is never retried at this layer.
type TransportError struct {
	Peer    string
	Message string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("p2p: peer %s: %s", e.Peer, e.Message)
}

// Peer is one upstream node: a name/endpoint pair plus a small pool of
// persistent connections, sized by countConnections (typically 1-8),
// grounded on P2P_Ips's per-server CurlInstance pool.
type Peer struct {
	Name     string
	Endpoint string

	client *fasthttp.HostClient

	// doFunc overrides client-based transport when set; used by tests to
	// simulate peer responses without a real network.
	doFunc func(query string, body []byte, headers map[string]string) ([]byte, error)
}

// NewPeer builds a Peer with a dedicated fasthttp.HostClient, whose
// MaxConns mirrors the configured countConnections.
func NewPeer(name, endpoint string, countConnections int) *Peer {
	if countConnections <= 0 {
		countConnections = 1
	}
	return &Peer{
		Name:     name,
		Endpoint: endpoint,
		client: &fasthttp.HostClient{
			Addr:     endpoint,
			MaxConns: countConnections,
		},
	}
}

// Timeout bounds every individual peer request; the driver's round-level
// retry policy (spec §4.4) handles anything slower.
const Timeout = 10 * time.Second

// Do performs a single blocking POST to the peer and returns the raw
// response body, or a *TransportError naming this peer.
func (p *Peer) Do(query string, body []byte, headers map[string]string) ([]byte, error) {
	if p.doFunc != nil {
		return p.doFunc(query, body, headers)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := p.Endpoint
	if query != "" {
		uri += "?" + query
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodPost)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.SetBody(body)

	if err := p.client.DoTimeout(req, resp, Timeout); err != nil {
		return nil, &TransportError{Peer: p.Name, Message: err.Error()}
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, &TransportError{Peer: p.Name, Message: fmt.Sprintf("http status %d", resp.StatusCode())}
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}

// newTestPeer builds a Peer whose transport is the given function, for use
// by tests that need to simulate peer behavior without a real network.
func newTestPeer(name string, fn func(query string, body []byte, headers map[string]string) ([]byte, error)) *Peer {
	return &Peer{Name: name, Endpoint: name, doFunc: fn}
}
