package bftquic

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"time"
)

// ALPN is the application protocol every member of a collective negotiates.
const ALPN = "tc-quic"

// certLifetime bounds the validity of the per-process certificate.
const certLifetime = 7 * 24 * time.Hour

// ErrPeerMismatch is returned by the client handshake when the peer's
// certificate names another endpoint than the one dialed.
var ErrPeerMismatch = errors.New("peer certificate names another endpoint")

// NewCertificate creates a self-signed ECDSA P-256 certificate naming eid.
// It binds the endpoint id to the connection; frame MACs authenticate the
// traffic.
func NewCertificate(eid string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: eid},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(certLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	if u, err := url.Parse(eid); err == nil && u.Scheme != "" {
		template.URIs = []*url.URL{u}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}, nil
}

// ServerConfig is the listener side of the handshake.
func ServerConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientConfig dials peer and accepts only a certificate naming it.
func ClientConfig(peer string) *tls.Config {
	cfg := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		return verifyPeer(peer, rawCerts)
	}
	return cfg
}

func verifyPeer(peer string, rawCerts [][]byte) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("%w: no certificate from %s", ErrPeerMismatch, peer)
	}
	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("parse certificate of %s: %w", peer, err)
	}
	if leaf.Subject.CommonName != peer {
		return fmt.Errorf("%w: dialed %s, got %q", ErrPeerMismatch, peer, leaf.Subject.CommonName)
	}
	return nil
}
