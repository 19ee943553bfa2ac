package server

import (
	"context"
	"crypto/tls"
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mpapenbr/racestart-manager-go/log"
	"github.com/mpapenbr/racestart-manager-go/pkg/config"
	"github.com/mpapenbr/racestart-manager-go/pkg/utils/certs/traefik"
)

var errNoCertificate = errors.New("no certificate configured")

// certSource names where the server certificate comes from. A traefik acme
// storage takes precedence over a key pair.
type certSource struct {
	certFile      string
	keyFile       string
	traefikFile   string
	traefikDomain string
}

func certSourceFromConfig() certSource {
	return certSource{
		certFile:      config.TLSCertFile,
		keyFile:       config.TLSKeyFile,
		traefikFile:   config.TraefikCerts,
		traefikDomain: config.TraefikCertDomain,
	}
}

func (s certSource) enabled() bool {
	return (s.traefikFile != "" && s.traefikDomain != "") ||
		(s.certFile != "" && s.keyFile != "")
}

func (s certSource) files() []string {
	if s.traefikFile != "" && s.traefikDomain != "" {
		return []string{s.traefikFile}
	}
	return []string{s.certFile, s.keyFile}
}

func (s certSource) load() (tls.Certificate, error) {
	switch {
	case s.traefikFile != "" && s.traefikDomain != "":
		return traefik.LoadCertificate(s.traefikFile, s.traefikDomain)
	case s.certFile != "" && s.keyFile != "":
		return tls.LoadX509KeyPair(s.certFile, s.keyFile)
	default:
		return tls.Certificate{}, errNoCertificate
	}
}

type certProvider struct {
	src  certSource
	log  *log.Logger
	mu   sync.RWMutex
	cert *tls.Certificate
}

func newCertProvider(src certSource, l *log.Logger) (*certProvider, error) {
	c := &certProvider{src: src, log: l}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// reload replaces the certificate. The current one stays in use on error.
func (c *certProvider) reload() error {
	cert, err := c.src.load()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cert = &cert
	return nil
}

func (c *certProvider) certificate() *tls.Certificate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cert
}

func (c *certProvider) tlsConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return c.certificate(), nil
		},
		MinVersion: tls.VersionTLS13,
	}
}

// watch reloads the certificate whenever one of its files changes until ctx
// is done. Directories are watched since certificates are usually replaced
// by rename.
func (c *certProvider) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	names := map[string]bool{}
	for _, f := range c.src.files() {
		abs, err := filepath.Abs(f)
		if err != nil {
			watcher.Close()
			return err
		}
		names[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			watcher.Close()
			return err
		}
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !names[event.Name] ||
					!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				c.log.Info("certificate changed", log.String("file", event.Name))
				if err := c.reload(); err != nil {
					c.log.Error("could not reload certificate", log.ErrorField(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.log.Error("watcher error", log.ErrorField(err))
			}
		}
	}()
	return nil
}
