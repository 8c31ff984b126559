// Package tls terminates HTTPS for the layer API using CertMagic for
// automatic certificate issuance and renewal. Challenges run over
// DNS-01 against Azure DNS, so the service works on hosts that never
// expose port 80.
package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"
)

// Config controls certificate issuance for the public endpoint.
type Config struct {
	Enabled  bool
	Domains  []string
	Email    string
	CacheDir string
	Staging  bool // issue against the Let's Encrypt staging CA
	DNS      DNSConfig
}

// DNSConfig identifies the Azure DNS zone used for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	ClientID          string // user-assigned managed identity; empty uses the system identity
}

// Server serves the layer API over HTTPS with managed certificates,
// falling back to plain HTTP when TLS is disabled.
type Server struct {
	config    Config
	handler   http.Handler
	logger    *slog.Logger
	tlsConfig *tls.Config
}

// NewServer builds the server and, when TLS is enabled, configures
// CertMagic for the given domains.
func NewServer(cfg Config, handler http.Handler, logger *slog.Logger) (*Server, error) {
	s := &Server{
		config:  cfg,
		handler: handler,
		logger:  logger,
	}
	if !cfg.Enabled {
		return s, nil
	}

	if len(cfg.Domains) == 0 {
		return nil, fmt.Errorf("tls enabled without domains")
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("tls enabled without an ACME account email")
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = cfg.Email
	if cfg.Staging {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}
	if cfg.CacheDir != "" {
		certmagic.Default.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	certmagic.DefaultACME.DNS01Solver = &certmagic.DNS01Solver{
		DNSManager: certmagic.DNSManager{
			DNSProvider: &azure.Provider{
				SubscriptionId:    cfg.DNS.SubscriptionID,
				ResourceGroupName: cfg.DNS.ResourceGroupName,
				ClientId:          cfg.DNS.ClientID,
			},
		},
	}

	tlsConfig, err := certmagic.TLS(cfg.Domains)
	if err != nil {
		return nil, fmt.Errorf("building tls config: %w", err)
	}
	s.tlsConfig = tlsConfig
	return s, nil
}

// ListenAndServe blocks serving the API on addr, with or without TLS
// depending on configuration.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !s.config.Enabled {
		s.logger.Info("serving plain HTTP, TLS disabled", "address", addr)
		return server.ListenAndServe()
	}

	s.logger.Info("serving HTTPS with managed certificates",
		"address", addr,
		"domains", s.config.Domains,
	)
	server.TLSConfig = s.tlsConfig
	return server.ListenAndServeTLS("", "")
}

// Shutdown is a no-op; CertMagic cleans up after itself.
func (s *Server) Shutdown(_ context.Context) error {
	return nil
}

// TLSConfig exposes the managed certificate configuration, for callers
// that run their own listener.
func (s *Server) TLSConfig() *tls.Config {
	return s.tlsConfig
}

// ManageCertificates obtains certificates for all configured domains up
// front, so the first request is not stuck behind an ACME exchange.
func (s *Server) ManageCertificates(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	s.logger.Info("obtaining certificates", "domains", s.config.Domains)
	if err := certmagic.ManageSync(ctx, s.config.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}
	s.logger.Info("certificates ready")
	return nil
}
