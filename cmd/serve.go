package cmd

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nektos/cachesave/pkg/artifactcache"
)

var (
	serveDir  string
	serveAddr string
	servePort uint16
)

func newServeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host a local artifact cache service for self-hosted runners.",
		Args:  cobra.NoArgs,
		RunE:  newServeAction(ctx),
	}
	cmd.Flags().StringVar(&serveDir, "cache-dir", "", "directory holding the cache index and artifacts (default under the user cache dir)")
	cmd.Flags().StringVar(&serveAddr, "external-address", "", "address the service advertises to clients (default the outbound IP)")
	cmd.Flags().Uint16Var(&servePort, "port", 0, "port to listen on (0 picks a free one)")
	return cmd
}

func newServeAction(ctx context.Context) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}

		handler, err := artifactcache.StartHandler(serveDir, serveAddr, servePort, log.StandardLogger())
		if err != nil {
			return err
		}
		log.Infof("artifact cache service listening on %s", handler.ExternalURL())

		<-ctx.Done()
		return handler.Close()
	}
}
