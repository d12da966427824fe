package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"kios-chat/internal/group"
	"kios-chat/internal/session"
	"kios-chat/internal/storage"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// Server defines fields used in HTTP and WebSocket processing
type Server struct {
	logger     *zap.SugaredLogger
	httpServer *http.Server
	h          *handler
}

// NewServer returns new Server struct with provided zap.SugaredLogger and storage.Store
func NewServer(logger *zap.SugaredLogger, store *storage.Store, opts ...Option) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must be non-nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store must be non-nil")
	}

	registry := session.NewRegistry(logger)
	directory := group.NewDirectory(logger)
	h := newHub(logger)

	n := &notifier{
		logger:   logger,
		send:     h,
		registry: registry,
	}

	rt := &router{
		logger:    logger,
		store:     store,
		registry:  registry,
		directory: directory,
		send:      h,
	}

	hndl := &handler{
		logger:    logger,
		store:     store,
		registry:  registry,
		directory: directory,
		hub:       h,
		router:    rt,
		notifier:  n,
		parsers: parsers{
			eventPool:        fastjson.ParserPool{},
			conversationPool: fastjson.ParserPool{},
			userMessagesPool: fastjson.ParserPool{},
			groupsPool:       fastjson.ParserPool{},
		},
	}

	mux := http.NewServeMux()
	mux.Handle("/users/get", log(enforcePostJson(http.HandlerFunc(hndl.users)), logger.Desugar()))
	mux.Handle("/groups/get", log(enforcePostJson(http.HandlerFunc(hndl.groupsByMember)), logger.Desugar()))
	mux.Handle("/messages/conversation/get", log(enforcePostJson(http.HandlerFunc(hndl.conversationMessages)), logger.Desugar()))
	mux.Handle("/messages/user/get", log(enforcePostJson(http.HandlerFunc(hndl.userMessages)), logger.Desugar()))
	mux.Handle("/ws", http.HandlerFunc(hndl.ws))

	httpServer := &http.Server{
		Addr:    "0.0.0.0:9000",
		Handler: mux,
	}

	c := &config{httpServer: httpServer}
	for _, opt := range opts {
		opt.apply(c)
	}

	srv := &Server{
		logger:     logger,
		httpServer: httpServer,
		h:          hndl,
	}

	return srv, nil
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	s.logger.Info("Closing websocket connections")
	s.h.hub.closeAll()

	s.logger.Info("Closing store")
	s.h.store.Close()
	s.logger.Info("Store is closed")

	return nil
}
