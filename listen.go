package main

import (
	"context"
	"errors"

	"github.com/go-i2p/go-reliable/lib/config"
	"github.com/go-i2p/go-reliable/lib/partition"
	"github.com/go-i2p/go-reliable/lib/session"
	"github.com/go-i2p/go-reliable/lib/util"
	"github.com/go-i2p/go-reliable/lib/util/signals"
	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"
)

var listenPartition string

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Host a partition and log every payload it receives",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := partition.Parse(listenPartition)
		if err != nil {
			return err
		}
		cfg := config.CurrentConfig()
		env, err := startEnvironment(cfg)
		if err != nil {
			return err
		}
		m, err := env.CreateSessionManager(owner)
		if err != nil {
			return err
		}
		m.SetSessionAbortedCallback(func(kind session.Kind, partner *partition.ServicePartition, s *session.Session) {
			log.WithFields(logger.Fields{
				"at":         "listen",
				"session_id": s.ID().String(),
				"kind":       kind.String(),
				"partner":    partner.String(),
			}).WithError(s.Err()).Warn("session aborted")
		})
		if err := m.RegisterInboundCallback(func(source *partition.ServicePartition, s *session.Session) bool {
			go drain(s)
			return true
		}); err != nil {
			return err
		}

		config.WatchConfig(func(c config.ConfigDefaults) {
			if err := m.SetOfferRate(c.Manager.MaxSessionOffersPerSecond, c.Manager.SessionOfferBurst); err != nil {
				log.WithError(err).Warn("offer rate not updated")
			}
		})
		signals.RegisterReloadHandler(func() {
			if err := config.Reload(); err != nil {
				log.WithError(err).Warn("config reload failed")
			}
		})
		// partners hear about aborted sessions while the transport is up
		signals.RegisterPreShutdownHandler(m.Close)
		done := make(chan struct{})
		signals.RegisterInterruptHandler(func() {
			if err := util.CloseAll(); err != nil {
				log.WithError(err).Warn("shutdown incomplete")
			}
			close(done)
		})
		go signals.Handle()

		log.WithFields(logger.Fields{
			"at":        "listen",
			"partition": owner.String(),
		}).Info("hosting partition")
		<-done
		signals.StopHandle()
		return nil
	},
}

func init() {
	listenCmd.Flags().StringVarP(&listenPartition, "partition", "p", "", "partition to host, e.g. orders:0..99")
	_ = listenCmd.MarkFlagRequired("partition")
}

// drain logs payloads until the partner closes or aborts the session.
func drain(s *session.Session) {
	fields := logger.Fields{
		"at":         "drain",
		"session_id": s.ID().String(),
		"source":     s.Source().String(),
		"target":     s.Target().String(),
	}
	for {
		payload, err := s.Receive(context.Background(), true)
		if errors.Is(err, session.ErrObjectClosed) {
			log.WithFields(fields).Info("session closed by partner")
			return
		}
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("receive failed")
			return
		}
		log.WithFields(fields).WithField("size", len(payload)).Info(string(payload))
	}
}
