package ofcore

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/ofnet/ofcore/pkg/ofmsg/ofmsgtest"
)

// selfSignedCert returns a tls.Certificate good for 127.0.0.1, solely
// to exercise WithTLSConfig's accept/dial wrapping in-process.
func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("X509KeyPair: %v", err)
	}
	return cert
}

func TestCoreWithTLSConfigHandshakesOverRealSockets(t *testing.T) {
	cert := selfSignedCert(t)
	serverTLS := &tls.Config{Certificates: []tls.Certificate{cert}}
	clientTLS := &tls.Config{InsecureSkipVerify: true}

	ctlHandler := newRecordingCoreHandler()
	ctlCore := NewCore(ofmsgtest.Codec{}, ctlHandler,
		WithEchoInterval(time.Hour), WithEchoTimeout(time.Hour), WithTLSConfig(serverTLS))
	if err := ctlCore.Listen("tcp", "127.0.0.1:0", PeerDatapath); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); ctlCore.Run(ctx) }()
	defer func() { ctlCore.Close(); cancel(); <-done }()

	dptHandler := newRecordingCoreHandler()
	dptCore := NewCore(ofmsgtest.Codec{}, dptHandler,
		WithEchoInterval(time.Hour), WithEchoTimeout(time.Hour), WithTLSConfig(clientTLS))
	dctx, dcancel := context.WithCancel(context.Background())
	ddone := make(chan struct{})
	go func() { defer close(ddone); dptCore.Run(dctx) }()
	defer func() { dptCore.Close(); dcancel(); <-ddone }()

	addr := ctlCore.listeners[0].Addr().String()
	dptCore.Dial(addr, PeerController)

	select {
	case <-dptHandler.ctlUp:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for TLS-wrapped handshake to establish")
	}
}
