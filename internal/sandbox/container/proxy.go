package container

import (
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// forwardingProxy relays the two loopback hook paths from an isolated
// container to the real router, which only listens on the host's loopback
// interface (§4.D). It exists because the container cannot route to the
// router's 127.0.0.1 address directly.
type forwardingProxy struct {
	server *http.Server
	addr   string
}

func newForwardingProxy(routerAddr string) (*forwardingProxy, error) {
	target := &url.URL{Scheme: "http", Host: routerAddr}
	rp := httputil.NewSingleHostReverseProxy(target)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	p := &forwardingProxy{addr: ln.Addr().String()}
	p.server = &http.Server{Handler: rp}
	go p.server.Serve(ln)
	return p, nil
}

// retarget repoints the proxy at a new router address, e.g. after the
// driver rebinds a persistent session's handler address.
func (p *forwardingProxy) retarget(routerAddr string) {
	target := &url.URL{Scheme: "http", Host: routerAddr}
	p.server.Handler = httputil.NewSingleHostReverseProxy(target)
}

func (p *forwardingProxy) close() error {
	if p.server == nil {
		return nil
	}
	return p.server.Close()
}
