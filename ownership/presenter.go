package ownership

import (
	"github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"

	"github.com/mogaika/shared_scene/utils"
)

// Presenter is the rendering/GUI side. The coordinator pushes transforms and
// ownership indicators into it; it never calls back into the coordinator.
type Presenter interface {
	VisualObject(name string) (interface{}, bool)
	SetVisualTransform(name string, m mgl32.Mat4)
	ShowOwnershipIndicator(name string)
	HideOwnershipIndicator(name string)
}

type NopPresenter struct{}

func (NopPresenter) VisualObject(string) (interface{}, bool) { return nil, false }
func (NopPresenter) SetVisualTransform(string, mgl32.Mat4) {}
func (NopPresenter) ShowOwnershipIndicator(string) {}
func (NopPresenter) HideOwnershipIndicator(string) {}

// LogPresenter stands in for a renderer on headless sessions.
type LogPresenter struct {
	Prefix string
}

func (p LogPresenter) VisualObject(name string) (interface{}, bool) { return name, true }

func (p LogPresenter) SetVisualTransform(name string, m mgl32.Mat4) {
	log.WithField("node", name).Debugf("[%s] transform %s", p.Prefix, utils.DescribeMat4(m))
}

func (p LogPresenter) ShowOwnershipIndicator(name string) {
	log.WithField("node", name).Infof("[%s] locked", p.Prefix)
}

func (p LogPresenter) HideOwnershipIndicator(name string) {
	log.WithField("node", name).Infof("[%s] unlocked", p.Prefix)
}
