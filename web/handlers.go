package web

import (
	"net/http"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/mogaika/shared_scene/scene"
	"github.com/mogaika/shared_scene/webutils"
)

type lockView struct {
	State  string `json:"state"`
	Value  int    `json:"value"`
	Holder string `json:"holder,omitempty"`
}

type nodeView struct {
	Name     string         `json:"name"`
	Type     scene.NodeType `json:"type"`
	Data     scene.Payload  `json:"data,omitempty"`
	Parent   string         `json:"parent,omitempty"`
	Children []string       `json:"children"`
	Local    mgl32.Mat4     `json:"local"`
	World    mgl32.Mat4     `json:"world"`
	Lock     lockView       `json:"lock"`
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, scene.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) HandlerAjaxNodes(w http.ResponseWriter, r *http.Request) {
	webutils.WriteJson(w, s.scene.NodeNames())
}

func (s *Server) HandlerAjaxNode(w http.ResponseWriter, r *http.Request) {
	view, err := s.nodeView(mux.Vars(r)["name"])
	if err != nil {
		webutils.WriteError(w, errorStatus(err), err)
		return
	}
	webutils.WriteJson(w, view)
}

func (s *Server) nodeView(name string) (*nodeView, error) {
	g := s.scene.Graph()
	n, err := g.NodeByName(name)
	if err != nil {
		return nil, err
	}
	world, err := g.WorldTransform(n.ID)
	if err != nil {
		return nil, err
	}
	view := &nodeView{
		Name:     n.Name,
		Type:     n.Type,
		Data:     n.Payload,
		Children: make([]string, 0, len(n.Children)),
		Local:    n.Local,
		World:    world,
		Lock:     lockView{State: n.Lock.Kind.String(), Value: n.Lock.Value()},
	}
	if !n.IsRoot() {
		if view.Parent, err = g.Name(n.Parent); err != nil {
			return nil, err
		}
	}
	for _, c := range n.Children {
		child, err := g.Name(c)
		if err != nil {
			return nil, err
		}
		view.Children = append(view.Children, child)
	}
	if holder, owned, err := s.scene.Holder(n.Name); err != nil {
		return nil, err
	} else if owned {
		view.Lock.Holder = holder
	}
	return view, nil
}

func (s *Server) HandlerAjaxHoldings(w http.ResponseWriter, r *http.Request) {
	webutils.WriteJson(w, s.scene.Holdings())
}

func (s *Server) HandlerAjaxPlayers(w http.ResponseWriter, r *http.Request) {
	webutils.WriteJson(w, s.hub.Players())
}
