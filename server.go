// server.go
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cosmosjeon/anyon-acp-sub001/internal/websocket"
)

func newServeCmd(opts *cliOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the checkpoint bindings over WebSocket",
		Long:  "Start the WebSocket RPC server used by the desktop host. The chosen port is printed as WS_PORT:<port> once the server is listening.",
		Args:  cobra.NoArgs,
		RunE: runWithEnv(opts, func(cmd *cobra.Command, env *cliEnv, args []string) error {
			if addr == "" {
				addr = env.config.Server.Addr
			}
			return serve(cmd.Context(), env, addr)
		}),
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// serve runs the WebSocket server until ctx is cancelled
func serve(ctx context.Context, env *cliEnv, addr string) error {
	wsServer := websocket.NewServer(env.app, websocket.Config{
		Addr:      addr,
		AuthKey:   env.config.Server.AuthKey,
		Logger:    env.logger,
		ErrorCode: errorCode,
	})

	// Checkpoint events go to every connected client
	env.app.setBroadcaster(wsServer)

	port, err := wsServer.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}

	fmt.Fprintf(env.out, "WS_PORT:%d\n", port)
	env.logger.Info("server started", zap.Int("port", port))

	<-ctx.Done()

	env.logger.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return wsServer.Stop(stopCtx)
}
