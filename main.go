package main

import (
	"os"

	"github.com/go-i2p/go-reliable/lib/config"
	"github.com/go-i2p/go-reliable/lib/session"
	"github.com/go-i2p/go-reliable/lib/transport"
	"github.com/go-i2p/go-reliable/lib/transport/quic"
	"github.com/go-i2p/go-reliable/lib/util"
	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logger.GetGoI2PLogger()

var rootCmd = &cobra.Command{
	Use:          "go-reliable",
	Short:        "Reliable, ordered messaging between service partitions",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(); err != nil {
			return err
		}
		return config.Validate(config.CurrentConfig())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&config.CfgFile, "config", "", "config file (default is $HOME/.go-reliable/config.yaml)")
	flags.String("listen", "", "QUIC listen address (host:port)")
	flags.Int("window", 0, "session window size")
	flags.Int("max-datagram-size", 0, "largest datagram sent")

	bindFlag("transport.listen_address", "listen")
	bindFlag("session.window_size", "window")
	bindFlag("transport.max_datagram_size", "max-datagram-size")

	rootCmd.AddCommand(listenCmd, sendCmd)
}

func bindFlag(key, name string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
		log.WithError(err).WithField("flag", name).Error("flag binding failed")
	}
}

// startEnvironment listens on the configured QUIC address and starts a
// session environment on it. Both are registered for closing on exit.
func startEnvironment(cfg config.ConfigDefaults) (*session.Environment, error) {
	qt, err := quic.Listen(cfg.Transport.ListenAddress, quic.Options{
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		IdleTimeout:      cfg.Transport.IdleTimeout,
		MaxDatagramSize:  cfg.Transport.MaxDatagramSize,
	})
	if err != nil {
		return nil, err
	}
	t := transport.Mux(qt)
	util.RegisterCloser("transport", t)

	env, err := session.NewEnvironment(t, session.ConfigFromDefaults(cfg))
	if err != nil {
		return nil, err
	}
	if err := env.Start(); err != nil {
		return nil, err
	}
	util.RegisterCloser("environment", env)
	log.WithFields(logger.Fields{
		"at":      "startEnvironment",
		"address": qt.Addr(),
		"window":  cfg.Session.WindowSize,
	}).Info("environment ready")
	return env, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("command failed")
		_ = util.CloseAll()
		os.Exit(1)
	}
}
