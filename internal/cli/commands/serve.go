package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"keyfs/internal/server"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Export the store over NFSv3",
	Long: `Serve the store's file tree over NFSv3 until interrupted.

The store is locked for the lifetime of the server; a second 'keyfs serve' on
the same store fails immediately.

Examples:
  keyfs serve --store ./keys.db --listen 127.0.0.1:2049
  mount -t nfs -o port=2049,mountport=2049,nfsvers=3,tcp,nolock 127.0.0.1:/ /mnt/keys`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (overrides settings)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveListen != "" {
		settings.Listen = serveListen
	}

	lock, err := server.LockStore(settings.Store)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	sess, err := openSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	srv := server.NewNFSServer(sess.fsys)
	if err := srv.Listen(settings.Listen); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s\n", settings.Store, srv.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		log.Infof("Received %v, shutting down", sig)
		srv.Shutdown()
	}()

	return srv.Serve()
}
