package web

import (
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/mogaika/shared_scene/session"
	"github.com/mogaika/shared_scene/transport"
)

type Server struct {
	scene *session.Session
	hub   *transport.Hub
}

func NewServer(scene *session.Session, hub *transport.Hub) *Server {
	return &Server{scene: scene, hub: hub}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", s.hub)
	r.HandleFunc("/json/nodes", s.HandlerAjaxNodes).Methods(http.MethodGet)
	r.HandleFunc("/json/node/{name}", s.HandlerAjaxNode).Methods(http.MethodGet)
	r.HandleFunc("/json/holdings", s.HandlerAjaxHoldings).Methods(http.MethodGet)
	r.HandleFunc("/json/players", s.HandlerAjaxPlayers).Methods(http.MethodGet)
	return r
}

// Handler wraps the router with panic recovery and access logging.
func (s *Server) Handler() http.Handler {
	h := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(s.Router())
	return handlers.LoggingHandler(os.Stdout, h)
}
