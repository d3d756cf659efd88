package main

import (
	"bufio"
	"context"
	"os"
	"time"

	"github.com/go-i2p/go-reliable/lib/config"
	"github.com/go-i2p/go-reliable/lib/partition"
	"github.com/go-i2p/go-reliable/lib/util"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

var (
	sendSource   string
	sendTarget   string
	sendEndpoint string
	sendTimeout  time.Duration
)

// ephemeralListenAddress is bound by send unless --listen is given, so a
// sender can run on the same host as a listener using the default port.
const ephemeralListenAddress = "localhost:0"

var sendCmd = &cobra.Command{
	Use:   "send [payload...]",
	Short: "Open a session and send payloads, one per argument or stdin line",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := partition.Parse(sendSource)
		if err != nil {
			return err
		}
		target, err := partition.Parse(sendTarget)
		if err != nil {
			return err
		}
		env, err := startEnvironment(senderConfig(config.CurrentConfig(), cmd.Flags().Changed("listen")))
		if err != nil {
			return err
		}
		defer func() {
			if err := util.CloseAll(); err != nil {
				log.WithError(err).Warn("shutdown incomplete")
			}
		}()
		m, err := env.CreateSessionManager(source)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()
		s, err := m.CreateOutboundSession(ctx, target, sendEndpoint)
		if err != nil {
			return err
		}

		payloads := args
		if len(payloads) == 0 {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				payloads = append(payloads, scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				s.Abort()
				return oops.In("send").Wrapf(err, "read stdin")
			}
		}
		for _, p := range payloads {
			if err := s.Send(ctx, []byte(p)); err != nil {
				s.Abort()
				return err
			}
		}
		if err := s.Close(ctx); err != nil {
			return err
		}
		log.WithFields(logger.Fields{
			"at":         "send",
			"session_id": s.ID().String(),
			"target":     target.String(),
			"payloads":   len(payloads),
		}).Info("payloads delivered")
		return nil
	},
}

func init() {
	flags := sendCmd.Flags()
	flags.StringVarP(&sendSource, "source", "s", "", "partition to send from, e.g. web:1")
	flags.StringVarP(&sendTarget, "target", "t", "", "partition to send to, e.g. orders:42")
	flags.StringVarP(&sendEndpoint, "endpoint", "e", "", "address of the target, e.g. quic://localhost:7700")
	flags.DurationVar(&sendTimeout, "timeout", time.Minute, "time allowed for open, send and close")
	_ = sendCmd.MarkFlagRequired("source")
	_ = sendCmd.MarkFlagRequired("target")
	_ = sendCmd.MarkFlagRequired("endpoint")
}

// senderConfig returns cfg with the transport moved to an ephemeral port
// when no listen address was requested on the command line.
func senderConfig(cfg config.ConfigDefaults, listenSet bool) config.ConfigDefaults {
	if !listenSet {
		cfg.Transport.ListenAddress = ephemeralListenAddress
	}
	return cfg
}
