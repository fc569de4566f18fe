package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/hoverchat/widget-engine/internal/devserver"
)

var devserverPort int

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run the self-contained development backend",
	Long: `Devserver hosts the REST and websocket endpoints the widget engine
talks to, with an echo bot on the other end. Point a session at it with:

  widgetd run --api http://localhost:8466/api/v1 --socket ws://localhost:8466/ws --bot dev`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := devserver.NewServer()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(devserverPort)
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case <-sig:
			log.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Stop(ctx)
		}
	},
}

func init() {
	devserverCmd.Flags().IntVar(&devserverPort, "port", 8466, "Port to listen on")
}
