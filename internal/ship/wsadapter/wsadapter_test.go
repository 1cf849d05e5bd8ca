package wsadapter

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// selfSignedCert generates a minimal self-signed TLS certificate/key pair
// for use as both a SHIP "device" identity in tests - no CA involved, since
// SHIP pairing trusts SKIs directly rather than a certificate chain.
func selfSignedCert(t *testing.T, cn string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		SubjectKeyId:          []byte(cn),
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}
}

func TestDialAndAcceptExchangeMessagesOverMutualTLS(t *testing.T) {
	serverCert := selfSignedCert(t, "server-ski")
	clientCert := selfSignedCert(t, "client-ski")

	serverPool := x509.NewCertPool()
	serverPool.AddCert(clientCert.Leaf)
	clientPool := x509.NewCertPool()
	clientPool.AddCert(serverCert.Leaf)

	upgrader := NewUpgrader()
	accepted := make(chan struct {
		ski string
		err error
	}, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/ship/", func(w http.ResponseWriter, r *http.Request) {
		c, ski, err := upgrader.Accept(w, r)
		if err == nil {
			_, _ = c.ReadMessage()
		}
		accepted <- struct {
			ski string
			err error
		}{ski, err}
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{
		Handler: mux,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{serverCert},
			ClientAuth:   tls.RequireAndVerifyClientCert,
			ClientCAs:    serverPool,
		},
	}
	go srv.ServeTLS(ln, "", "")
	defer srv.Close()

	d := &Dialer{TLSConfig: &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      clientPool,
	}}

	uri := "wss://" + ln.Addr().String() + "/ship/"
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, peerSKI, err := d.Dial(ctx, uri)
	require.NoError(t, err)
	// The SKI is the hex encoding of the SubjectKeyId bytes ("server-ski").
	require.Equal(t, "7365727665722d736b69", peerSKI)
	require.NoError(t, conn.WriteMessage(1, []byte("hello")))

	select {
	case got := <-accepted:
		require.NoError(t, got.err)
		require.Equal(t, "636c69656e742d736b69", got.ski) // hex of "client-ski"
	case <-time.After(3 * time.Second):
		t.Fatal("server never accepted the connection")
	}
}

func TestDialWrapsConnectionFailure(t *testing.T) {
	d := &Dialer{TLSConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec
	_, _, err := d.Dial(context.Background(), "wss://127.0.0.1:1/ship/")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "wsadapter"))
}

func TestSKIFromCertificateUsesSubjectKeyId(t *testing.T) {
	cert := &x509.Certificate{SubjectKeyId: []byte{0xde, 0xad, 0xbe, 0xef}}
	require.Equal(t, "deadbeef", SKIFromCertificate(cert))
}

func TestSKIFromCertificateFallsBackToPublicKeyHash(t *testing.T) {
	cert := &x509.Certificate{RawSubjectPublicKeyInfo: []byte("some-public-key-bytes")}
	ski := SKIFromCertificate(cert)
	require.Len(t, ski, 40) // hex-encoded SHA-1
}
