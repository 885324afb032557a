package serve

import (
	"context"
	"errors"
	"fmt"
	cmdUtil "github.com/ValentinKolb/mKV/cmd/util"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/ValentinKolb/mKV/rpc/serializer"
	"github.com/ValentinKolb/mKV/rpc/server"
	"github.com/ValentinKolb/mKV/rpc/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the mKV server",
		Long:    `Start the mKV server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is MKV_<flag> (e.g. MKV_SHARDS=16)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, common.DefaultEndpoint, cmdUtil.WrapString("The address on which the server will listen (e.g. 127.0.0.1:6379, /tmp/mkv.sock, http://localhost:8080)"))

	key = "shards"
	ServeCmd.PersistentFlags().Int(key, 1, cmdUtil.WrapString("Number of independently locked partitions of the keyspace. 1 keeps the whole map under a single lock"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Deadline in seconds for reading a request body and writing its response (0 = none)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the Prometheus metrics endpoint (e.g. 127.0.0.1:9100, empty = disabled)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	cmdUtil.SetupSocketFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Shards = viper.GetInt("shards")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.SocketConf = cmdUtil.GetSocketConf()
	serveCmdConfig.TCPConf = cmdUtil.GetTCPConf()

	if serveCmdConfig.Shards < 1 {
		return fmt.Errorf("invalid shard count %d (expected >= 1)", serveCmdConfig.Shards)
	}
	if serveCmdConfig.TimeoutSecond < 0 {
		return fmt.Errorf("invalid timeout %d (expected >= 0)", serveCmdConfig.TimeoutSecond)
	}

	return nil
}

// run starts the mKV server and, if configured, the metrics endpoint.
// Both stop on SIGINT/SIGTERM or as soon as one of them fails.
func run(cmd *cobra.Command, _ []string) error {
	var (
		s   serializer.IRPCSerializer
		t   transport.IRPCServerTransport
		err error
	)
	if s, err = cmdUtil.GetSerializer(); err != nil {
		return err
	}
	if t, err = cmdUtil.GetServerTransport(); err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, s)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(serv.Serve)

	if serveCmdConfig.MetricsEndpoint != "" {
		metricsServer := &http.Server{
			Addr:              serveCmdConfig.MetricsEndpoint,
			Handler:           server.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			server.Logger.Infof("serving metrics on http://%s/metrics", serveCmdConfig.MetricsEndpoint)
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics endpoint: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return serv.Close()
	})

	return g.Wait()
}
