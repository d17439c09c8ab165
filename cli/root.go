// Package cli wires the scene session, relay and HTTP surface into the
// scenesync command.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/mogaika/shared_scene/config"
	"github.com/mogaika/shared_scene/scene"
)

type options struct {
	configPath string
	logLevel   string
	cfg        config.Config
}

// NewRootCmd builds the command tree. Flags override values from the config
// file.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "scenesync",
		Short: "Shared 3D scene with per-node ownership",
		Long: `scenesync keeps a glTF scene hierarchy in sync between several
participants. A participant locks a node (and its whole subtree) before
moving it; locks and transforms are relayed through a websocket hub.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default is ./"+config.DefaultFile+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(opts), newPeerCmd(opts), newDumpCmd(opts))
	return root
}

func Execute() error {
	return NewRootCmd().Execute()
}

func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.ApplyLogLevel(); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

// openScene loads path, or returns an empty graph when path is empty.
func openScene(path string) (*scene.Graph, error) {
	if path == "" {
		return scene.New(), nil
	}
	return scene.Open(path)
}
