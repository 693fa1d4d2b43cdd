// Command sheserver is the process bootstrap for the SHE key-custody
// server: it wires the shared-memory transport, the key store façade, and
// the command dispatcher, and exposes Prometheus metrics over HTTP. The
// CLI itself (spec §1's "process bootstrap/CLI") is out of the core
// protocol's scope, but every teacher-shaped repo in the pack ships one,
// so this follows postalsys/muti-metroo and sixafter/nanoid-cli's use of
// cobra + pflag.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	ctrdrbg "github.com/sixafter/aes-ctr-drbg"
	"github.com/spf13/cobra"

	"github.com/aidangarske/wolfHSM/she"
	"github.com/aidangarske/wolfHSM/she/sheproto"
	"github.com/aidangarske/wolfHSM/store"
	"github.com/aidangarske/wolfHSM/transport"
)

var (
	flagNVMDir      string
	flagReqPath     string
	flagRespPath    string
	flagPayloadSize int
	flagFresh       bool
	flagMetricsAddr string
	flagClientID    uint8
	flagVerbose     bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sheserver",
		Short: "SHE command dispatcher over a shared-memory transport",
	}
	root.PersistentFlags().StringVar(&flagNVMDir, "nvm-dir", "./nvm", "directory backing the key store façade's NVM")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
	root.AddCommand(newServeCmd())
	root.AddCommand(newStatCmd())
	root.AddCommand(newGenEntropyCmd())
	return root
}

// newGenEntropyCmd is a manual-testing aid: it has nothing to do with the
// SHE protocol's own PRNG chain (that one is pinned to the AES-MP16/CBC
// construction in she/handlers.go and must stay bit-exact), it just gives an
// operator driving EXTEND_SEED by hand a convenient source of
// unpredictable user_entropy bytes.
func newGenEntropyCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "gen-entropy",
		Short: "Print random bytes suitable for a manual EXTEND_SEED call",
		RunE: func(cmd *cobra.Command, args []string) error {
			buf := make([]byte, count)
			if _, err := ctrdrbg.Reader.Read(buf); err != nil {
				return fmt.Errorf("sheserver: generating entropy: %w", err)
			}
			fmt.Printf("%x\n", buf)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "bytes", 16, "number of random bytes to print")
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SHE server loop",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&flagReqPath, "req-path", "/dev/shm/she-req", "request region backing file")
	cmd.Flags().StringVar(&flagRespPath, "resp-path", "/dev/shm/she-resp", "response region backing file")
	cmd.Flags().IntVar(&flagPayloadSize, "max-payload", sheproto.MaxPacketSize, "per-region payload capacity in bytes")
	cmd.Flags().BoolVar(&flagFresh, "fresh", true, "zero-fill both regions on startup instead of preserving them")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", ":9101", "address to serve /metrics on")
	cmd.Flags().Uint8Var(&flagClientID, "client-id", 0, "ClientId this transport pair is bound to")
	return cmd
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Report NVM store size",
		RunE: func(cmd *cobra.Command, args []string) error {
			var total int64
			entries, err := os.ReadDir(flagNVMDir)
			if err != nil {
				return err
			}
			for _, e := range entries {
				info, err := e.Info()
				if err != nil {
					continue
				}
				total += info.Size()
			}
			fmt.Printf("%s: %s across %d objects\n", flagNVMDir, humanize.Bytes(uint64(total)), len(entries))
			return nil
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logrus.StandardLogger()
	if flagVerbose {
		log.SetLevel(logrus.DebugLevel)
	}

	nvm, err := store.NewFileNVM(flagNVMDir)
	if err != nil {
		return fmt.Errorf("sheserver: %w", err)
	}
	facade := store.NewFacade(store.NewCache(), nvm)

	ep, err := transport.OpenFileBacked(flagReqPath, flagRespPath, flagPayloadSize, flagFresh)
	if err != nil {
		return fmt.Errorf("sheserver: %w", err)
	}
	defer ep.Close()

	reg := prometheus.NewRegistry()
	metrics := she.NewMetrics(reg)
	dispatcher := she.NewDispatcher(facade, sheproto.ClientId(flagClientID), metrics, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: flagMetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("sheserver: metrics server stopped")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.WithFields(logrus.Fields{
		"req":  flagReqPath,
		"resp": flagRespPath,
	}).Info("sheserver: listening")

	err = serve(ctx, ep, dispatcher, log, 2*time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	if err == context.Canceled {
		return nil
	}
	return err
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
