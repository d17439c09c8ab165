package cli

import (
	"github.com/spf13/cobra"

	"github.com/mogaika/shared_scene/scene"
	"github.com/mogaika/shared_scene/utils"
)

type dumpedNode struct {
	Name     string
	Type     scene.NodeType
	Data     scene.Payload
	Parent   string
	Children []string
	Subtree  []string
	Local    string
	World    string
}

func newDumpCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dump [scene]",
		Short: "Load a glTF scene and dump its hierarchy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.cfg.Scene
			if len(args) > 0 {
				path = args[0]
			}
			g, err := openScene(path)
			if err != nil {
				return err
			}
			nodes, err := dumpGraph(g)
			if err != nil {
				return err
			}
			utils.Dump(cmd.OutOrStdout(), nodes)
			return nil
		},
	}
}

func dumpGraph(g *scene.Graph) ([]dumpedNode, error) {
	names := g.Names()
	out := make([]dumpedNode, 0, len(names))
	for _, name := range names {
		n, err := g.NodeByName(name)
		if err != nil {
			return nil, err
		}
		world, err := g.WorldTransform(n.ID)
		if err != nil {
			return nil, err
		}
		d := dumpedNode{
			Name:  n.Name,
			Type:  n.Type,
			Data:  n.Payload,
			Local: utils.DescribeMat4(n.Local),
			World: utils.DescribeMat4(world),
		}
		if !n.IsRoot() {
			if d.Parent, err = g.Name(n.Parent); err != nil {
				return nil, err
			}
		}
		for _, c := range n.Children {
			child, err := g.Name(c)
			if err != nil {
				return nil, err
			}
			d.Children = append(d.Children, child)
		}
		below, err := g.Descendants(n.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range below {
			name, err := g.Name(id)
			if err != nil {
				return nil, err
			}
			d.Subtree = append(d.Subtree, name)
		}
		out = append(out, d)
	}
	return out, nil
}
