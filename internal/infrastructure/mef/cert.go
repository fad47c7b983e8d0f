// Carga del certificado de cliente A2A (.p12 o par PEM) y transporte mTLS.

package mef

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/Efile-api/pkg/config"
)

// loadClientCertificate carga el certificado de cliente según la config.
// Devuelve (nil, nil) cuando no hay certificado configurado: eso activa el
// modo simulación, nunca es un error.
func loadClientCertificate(cfg config.MefConfig) (*tls.Certificate, error) {
	if cfg.ClientCertPath == "" {
		return nil, nil
	}
	if strings.HasSuffix(cfg.ClientCertPath, ".p12") || strings.HasSuffix(cfg.ClientCertPath, ".pfx") {
		cert, err := loadFromP12(cfg.ClientCertPath, cfg.CertPassword)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
	if cfg.ClientKeyPath == "" {
		// Certificado sin llave: imposible firmar el handshake.
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("cargar par PEM: %w", err)
	}
	return &cert, nil
}

// loadFromP12 carga certificado y llave privada desde un archivo .p12/.pfx.
// El password puede ser vacío si el archivo no está protegido.
func loadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("leer p12: %w", err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decodificar p12: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

// newHTTPClient arma el transporte hacia el gateway: cert de cliente para
// mTLS, CA bundle opcional del IRS y los timeouts de conexión/lectura de la
// configuración.
func newHTTPClient(cfg config.MefConfig, clientCert *tls.Certificate) (*http.Client, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if clientCert != nil {
		tlsCfg.Certificates = []tls.Certificate{*clientCert}
	}

	if cfg.CABundlePath != "" {
		pem, err := os.ReadFile(cfg.CABundlePath)
		if err != nil {
			return nil, fmt.Errorf("leer CA bundle: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s sin certificados PEM válidos", cfg.CABundlePath)
		}
		tlsCfg.RootCAs = pool
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectionTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     tlsCfg,
		TLSHandshakeTimeout: cfg.ConnectionTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ReadTimeout,
	}, nil
}
