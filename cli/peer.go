package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mogaika/shared_scene/ownership"
	"github.com/mogaika/shared_scene/protocol"
	"github.com/mogaika/shared_scene/session"
	"github.com/mogaika/shared_scene/transport"
	"github.com/mogaika/shared_scene/utils"
)

type peerOptions struct {
	scene  string
	sel    string
	say    string
	move   string
	rotate string
}

func newPeerCmd(opts *options) *cobra.Command {
	var po peerOptions
	cmd := &cobra.Command{
		Use:   "peer <ws-url>",
		Short: "Join a relay as a headless participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("scene") {
				po.scene = opts.cfg.Scene
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPeer(ctx, args[0], po)
		},
	}
	cmd.Flags().StringVar(&po.scene, "scene", "", "glTF scene, must match the one the relay serves")
	cmd.Flags().StringVar(&po.sel, "select", "", "node to take control of after joining")
	cmd.Flags().StringVar(&po.say, "say", "", "message to broadcast after joining")
	cmd.Flags().StringVar(&po.move, "move", "", "x,y,z translation applied to the selected node")
	cmd.Flags().StringVar(&po.rotate, "rotate", "", "x,y,z rotation in degrees applied to the selected node")
	return cmd
}

func parseVec3(s string) (mgl32.Vec3, error) {
	var v mgl32.Vec3
	if _, err := fmt.Sscanf(s, "%f,%f,%f", &v[0], &v[1], &v[2]); err != nil {
		return v, errors.Wrapf(err, "Failed to parse vector %q", s)
	}
	return v, nil
}

// transform builds the requested local transform. ok is false when neither
// --move nor --rotate was given.
func (po peerOptions) transform() (m mgl32.Mat4, ok bool, err error) {
	if po.move == "" && po.rotate == "" {
		return m, false, nil
	}
	var pos, rot mgl32.Vec3
	if po.move != "" {
		if pos, err = parseVec3(po.move); err != nil {
			return m, false, err
		}
	}
	if po.rotate != "" {
		if rot, err = parseVec3(po.rotate); err != nil {
			return m, false, err
		}
	}
	return utils.ComposeTRS(pos, utils.EulerToQuat(rot), mgl32.Vec3{1, 1, 1}), true, nil
}

func runPeer(ctx context.Context, url string, po peerOptions) error {
	m, move, err := po.transform()
	if err != nil {
		return err
	}
	if move && po.sel == "" {
		return errors.New("--move and --rotate need --select")
	}

	g, err := openScene(po.scene)
	if err != nil {
		return err
	}
	s := session.New(g, "", ownership.LogPresenter{Prefix: "peer"})
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()
	go s.Run(loopCtx)

	conn, err := transport.Dial(ctx, url, func(c protocol.Command) { s.Deliver(c) })
	if err != nil {
		return err
	}
	defer conn.Close()
	s.AttachTransport(conn)

	if po.sel != "" {
		ok, err := s.Select(ctx, po.sel)
		if err != nil {
			return err
		}
		log.WithField("node", po.sel).Infof("[peer] select granted locally: %v", ok)
		if ok && move {
			if err := s.SetTransform(ctx, po.sel, m); err != nil {
				return err
			}
			log.WithField("node", po.sel).Infof("[peer] moved to %s", utils.DescribeMat4(m))
		}
	}
	if po.say != "" {
		if err := s.Say(ctx, po.say); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
	case <-conn.Done():
		log.Warn("[peer] relay closed the connection")
	}
	if name := s.Selected(); name != "" {
		if err := s.ReleaseControl(context.Background(), name); err != nil {
			log.WithError(err).Warn("[peer] release on exit")
		}
	}
	return nil
}
