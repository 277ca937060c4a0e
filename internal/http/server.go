package http

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keyhaven/keyhaven/internal/identity"
	"github.com/keyhaven/keyhaven/internal/observability/logger"
	"github.com/keyhaven/keyhaven/internal/trust"
)

// ServerConfig holds the listener knobs.
type ServerConfig struct {
	HTTPAddr  string
	HTTPSAddr string
	// Hosts added to the certificate SANs besides the address: public IP
	// and, when configured, the legacy browser-fallback domain.
	Hosts []string
}

// Server runs the plain-HTTP and TLS listeners for one route tree.
type Server struct {
	cfg     ServerConfig
	handler http.Handler
	keypair *identity.Keypair

	httpSrv  *http.Server
	httpsSrv *http.Server
}

func NewServer(cfg ServerConfig, kp *identity.Keypair, handler http.Handler) *Server {
	return &Server{cfg: cfg, handler: handler, keypair: kp}
}

// Run serves until ctx is canceled, then drains both listeners. The TLS
// listener presents the certificate derived from the server's own key;
// clients verify it against the published trust record, not a CA.
func (s *Server) Run(ctx context.Context) error {
	cert, err := trust.ServerCertificate(s.keypair, s.cfg.Hosts)
	if err != nil {
		return err
	}

	s.httpSrv = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpsSrv = &http.Server{
		Addr:              s.cfg.HTTPSAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig: &tls.Config{
			MinVersion:   tls.VersionTLS13,
			Certificates: []tls.Certificate{cert},
		},
	}

	log := logger.Named("http")
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", logger.String("addr", s.cfg.HTTPAddr), logger.String("proto", "http"))
		if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("listening", logger.String("addr", s.cfg.HTTPSAddr), logger.String("proto", "https"))
		if err := s.httpsSrv.ListenAndServeTLS("", ""); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		_ = s.httpsSrv.Shutdown(shutdownCtx)
		log.Info("listeners drained")
		return nil
	})

	return g.Wait()
}
