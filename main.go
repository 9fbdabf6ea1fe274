// Command qbridge runs the query bridge server: it loads a YAML config,
// bootstraps the in-memory NamedConfig manager and backend executors from
// it, and serves the HTTP surface described in spec.md §6 until killed.
package main

import (
	"crypto/rand"
	"crypto/tls"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/queryhub/qbridge/config"
	"github.com/queryhub/qbridge/log"
	"github.com/queryhub/qbridge/middleware"
	"github.com/queryhub/qbridge/namedconfig"
)

var configFile = flag.String("config", "qbridge.yml", "Bridge server configuration filename")

func main() {
	flag.Parse()

	log.Infof("Loading config: %s", *configFile)
	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		log.Fatalf("can't load config %q: %s", *configFile, err)
	}
	log.SetDebug(cfg.LogDebug)
	log.Infof("Loaded config:\n%s", cfg)

	manager, executors, err := bootstrap(cfg)
	if err != nil {
		log.Fatalf("error bootstrapping from config: %s", err)
	}

	srv := NewServer(cfg, manager, executors.Resolve, executors.ProbeDriver)
	handler := middleware.NewProxyMiddleware(cfg.Proxy, srv)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP)
	go reloadOnSIGHUP(c, srv)

	ln, err := newListener(cfg.Server.ListenAddr, cfg.Networks)
	if err != nil {
		log.Fatalf("cannot listen for -listen_addr=%q: %s", cfg.Server.ListenAddr, err)
	}

	log.Infof("Serving http on %q", cfg.Server.ListenAddr)
	log.Fatalf("server error: %s", newHTTPServer(handler).Serve(ln))
}

// bootstrap seeds an InMemoryManager from cfg.Backends and opens one pooled
// Executor per "sql"-category backend, the standalone-binary stand-in for
// whatever external NamedConfig/credential store a deployment would
// otherwise point at (spec.md §1's explicit out-of-scope boundary).
func bootstrap(cfg *config.Config) (*namedconfig.InMemoryManager, *ExecutorSet, error) {
	masterKey := make([]byte, 32)
	if _, err := rand.Read(masterKey); err != nil {
		return nil, nil, err
	}
	manager := namedconfig.NewInMemoryManager(masterKey)

	for _, b := range cfg.Backends {
		manager.Bootstrap(namedconfig.Entry{
			Category:    b.Category,
			ID:          b.ID,
			Aliases:     b.Aliases,
			Description: b.Description,
			Driver:      b.Driver,
			DSN:         b.DSN,
			Properties:  b.Properties,
		})
	}

	executors, err := NewExecutorSet(manager, cfg.ConnectionPool)
	if err != nil {
		return nil, nil, err
	}
	return manager, executors, nil
}

func reloadOnSIGHUP(c chan os.Signal, srv *Server) {
	for range c {
		log.Infof("SIGHUP received. Reloading config %s ...", *configFile)
		cfg, err := config.LoadFile(*configFile)
		if err != nil {
			log.Errorf("can't load config %q: %s", *configFile, err)
			continue
		}

		manager, executors, err := bootstrap(cfg)
		if err != nil {
			log.Errorf("error bootstrapping from reloaded config: %s", err)
			continue
		}

		srv.ApplyConfig(cfg, manager, executors.Resolve, executors.ProbeDriver)
		log.SetDebug(cfg.LogDebug)
		log.Infof("Config successfully reloaded")
	}
}

// netListener filters accepted connections against cfg.Networks, grounded
// on the teacher's main.go:netListener.
type netListener struct {
	net.Listener
	allowedNetworks config.Networks
}

func newListener(laddr string, allowedNetworks config.Networks) (*netListener, error) {
	ln, err := net.Listen("tcp4", laddr)
	if err != nil {
		return nil, err
	}
	return &netListener{Listener: ln, allowedNetworks: allowedNetworks}, nil
}

func (ln *netListener) Accept() (net.Conn, error) {
	for {
		conn, err := ln.Listener.Accept()
		if err != nil {
			return nil, err
		}

		remoteAddr := conn.RemoteAddr().String()
		if !ln.allowedNetworks.Contains(remoteAddr) {
			log.Errorf("connections are not allowed from %s", remoteAddr)
			conn.Close()
			continue
		}

		return conn, nil
	}
}

// newHTTPServer disables TLSNextProto the way the teacher's newServer does,
// since neither proxy needs HTTP/2's additional complexity for its plain
// request/response cycle.
func newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		TLSNextProto: make(map[string]func(*http.Server, *tls.Conn, http.Handler)),
	}
}
