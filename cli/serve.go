package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mogaika/shared_scene/ownership"
	"github.com/mogaika/shared_scene/protocol"
	"github.com/mogaika/shared_scene/session"
	"github.com/mogaika/shared_scene/transport"
	"github.com/mogaika/shared_scene/web"
)

const serverSession = "server"

func newServeCmd(opts *options) *cobra.Command {
	var listen, scenePath string
	var arbiter bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket relay and the JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("scene") {
				cfg.Scene = scenePath
			}
			if cmd.Flags().Changed("arbiter") {
				cfg.Arbiter = arbiter
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg.Listen, cfg.Scene, cfg.Arbiter, transport.HubConfig{
				PingInterval: cfg.PingInterval,
				WriteTimeout: cfg.WriteTimeout,
				SendBuffer:   cfg.SendBuffer,
			})
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "i", ":8000", "address of server")
	cmd.Flags().StringVar(&scenePath, "scene", "", "glTF scene shared by all participants")
	cmd.Flags().BoolVar(&arbiter, "arbiter", true, "check selections and transforms against the server's copy of the scene")
	return cmd
}

func serve(ctx context.Context, addr, scenePath string, arbitrate bool, hubCfg transport.HubConfig) error {
	g, err := openScene(scenePath)
	if err != nil {
		return err
	}
	log.Infof("[web] Loaded %d nodes from %q", g.Len(), scenePath)

	s := session.New(g, serverSession, ownership.LogPresenter{Prefix: "server"})
	var hub *transport.Hub
	if arbitrate {
		hub = transport.NewHub(hubCfg, s)
	} else {
		hub = transport.NewHub(hubCfg, nil)
		hub.SetObserver(func(c protocol.Command) { s.Deliver(c) })
	}

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()
	go s.Run(loopCtx)

	srv := &http.Server{Addr: addr, Handler: web.NewServer(s, hub).Handler()}
	errc := make(chan error, 1)
	go func() {
		log.Infof("[web] Starting server %v", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrapf(err, "Failed to serve")
	case <-ctx.Done():
	}

	log.Info("[web] Shutting down")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrapf(err, "Failed to shut down")
	}
	s.Stop()
	<-s.Done()
	return nil
}
