package network

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

type PeerOption func(Peer) Peer

// NewPeerWithOptions creates a Peer without starting it.
func NewPeerWithOptions(rank int, addresses map[int]string, opts ...PeerOption) *Peer {
	handler := newExchangeHandler(rank)
	p := Peer{
		rank:      rank,
		addresses: copyMap(addresses),
		server:    &http.Server{Addr: addresses[rank], Handler: handler},
		handler:   handler,
		client:    &http.Client{},
	}
	for _, opt := range opts {
		p = opt(p)
	}
	return &p
}

// Start serves the messages addressed to the Peer on l.
func (p *Peer) Start(l net.Listener) {
	if p.tlsConfig != nil {
		l = tls.NewListener(l, p.tlsConfig)
	}
	go func() {
		err := p.server.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(err)
		}
	}()
}

// WithTimeout bounds the time a Send keeps retrying a peer that does not answer.
func WithTimeout(timeout time.Duration) PeerOption {
	return func(p Peer) Peer {
		p.timeout = timeout
		return p
	}
}

// WithRendezvous holds every incoming message until a local receive takes it.
func WithRendezvous() PeerOption {
	return func(p Peer) Peer {
		p.handler.rendezvous = true
		return p
	}
}

func WithCertificate(cert tls.Certificate) PeerOption {
	return func(p Peer) Peer {
		if p.tlsConfig == nil {
			p.tlsConfig = &tls.Config{}
		}
		p.tlsConfig.Certificates = append(p.tlsConfig.Certificates, cert)
		p.client.Transport = &http.Transport{
			TLSClientConfig: p.tlsConfig,
		}
		for i := range p.addresses {
			if !strings.HasPrefix(p.addresses[i], "https://") {
				p.addresses[i] = "https://" + strings.TrimPrefix(p.addresses[i], "http://")
			}
		}
		return p
	}
}

func WithLimitedCAs(certPool *x509.CertPool) PeerOption {
	return func(p Peer) Peer {
		if p.tlsConfig == nil {
			p.tlsConfig = &tls.Config{}
		}
		p.tlsConfig.RootCAs = certPool
		p.tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		p.tlsConfig.ClientCAs = certPool
		p.client.Transport = &http.Transport{
			TLSClientConfig: p.tlsConfig,
		}
		return p
	}
}
