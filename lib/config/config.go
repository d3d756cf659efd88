package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-i2p/go-reliable/lib/util"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const BaseDirName = ".go-reliable"

// InitConfig registers defaults with viper and loads the configuration
// file, creating a default one when none exists.
func InitConfig() error {
	if CfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(CfgFile)
	} else {
		// Set up viper to use the default config path $HOME/.go-reliable/
		viper.AddConfigPath(BuildBaseDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	return handleConfigFile()
}

func setDefaults() {
	d := Defaults()

	viper.SetDefault("session.window_size", d.Session.WindowSize)
	viper.SetDefault("session.ack_batch_size", d.Session.AckBatchSize)
	viper.SetDefault("session.ack_batch_interval", d.Session.AckBatchInterval)
	viper.SetDefault("session.retry_interval", d.Session.RetryInterval)
	viper.SetDefault("session.max_data_retries", d.Session.MaxDataRetries)
	viper.SetDefault("session.send_operation_quota", d.Session.SendOperationQuota)
	viper.SetDefault("session.receive_operation_quota", d.Session.ReceiveOperationQuota)
	viper.SetDefault("session.queued_inbound_message_quota", d.Session.QueuedInboundMessageQuota)

	viper.SetDefault("protocol.retry_interval", d.Protocol.RetryInterval)
	viper.SetDefault("protocol.max_retries", d.Protocol.MaxRetries)
	viper.SetDefault("protocol.max_abort_retries", d.Protocol.MaxAbortRetries)

	viper.SetDefault("pool.send_operations", d.Pool.SendOperations)
	viper.SetDefault("pool.receive_operations", d.Pool.ReceiveOperations)
	viper.SetDefault("pool.inbound_messages", d.Pool.InboundMessages)
	viper.SetDefault("pool.protocol_operations", d.Pool.ProtocolOperations)
	viper.SetDefault("pool.grow_increment", d.Pool.GrowIncrement)

	viper.SetDefault("manager.max_session_offers_per_second", d.Manager.MaxSessionOffersPerSecond)
	viper.SetDefault("manager.session_offer_burst", d.Manager.SessionOfferBurst)

	viper.SetDefault("transport.listen_address", d.Transport.ListenAddress)
	viper.SetDefault("transport.max_datagram_size", d.Transport.MaxDatagramSize)
	viper.SetDefault("transport.handshake_timeout", d.Transport.HandshakeTimeout)
	viper.SetDefault("transport.idle_timeout", d.Transport.IdleTimeout)
}

// CurrentConfig reads the effective configuration from viper. It reads the
// same keys setDefaults writes.
func CurrentConfig() ConfigDefaults {
	return ConfigDefaults{
		Session: SessionDefaults{
			WindowSize:                viper.GetInt("session.window_size"),
			AckBatchSize:              viper.GetInt("session.ack_batch_size"),
			AckBatchInterval:          viper.GetDuration("session.ack_batch_interval"),
			RetryInterval:             viper.GetDuration("session.retry_interval"),
			MaxDataRetries:            viper.GetInt("session.max_data_retries"),
			SendOperationQuota:        viper.GetInt("session.send_operation_quota"),
			ReceiveOperationQuota:     viper.GetInt("session.receive_operation_quota"),
			QueuedInboundMessageQuota: viper.GetInt("session.queued_inbound_message_quota"),
		},
		Protocol: ProtocolDefaults{
			RetryInterval:   viper.GetDuration("protocol.retry_interval"),
			MaxRetries:      viper.GetInt("protocol.max_retries"),
			MaxAbortRetries: viper.GetInt("protocol.max_abort_retries"),
		},
		Pool: PoolDefaults{
			SendOperations:     viper.GetInt("pool.send_operations"),
			ReceiveOperations:  viper.GetInt("pool.receive_operations"),
			InboundMessages:    viper.GetInt("pool.inbound_messages"),
			ProtocolOperations: viper.GetInt("pool.protocol_operations"),
			GrowIncrement:      viper.GetInt("pool.grow_increment"),
		},
		Manager: ManagerDefaults{
			MaxSessionOffersPerSecond: viper.GetFloat64("manager.max_session_offers_per_second"),
			SessionOfferBurst:         viper.GetInt("manager.session_offer_burst"),
		},
		Transport: TransportDefaults{
			ListenAddress:    viper.GetString("transport.listen_address"),
			MaxDatagramSize:  viper.GetInt("transport.max_datagram_size"),
			HandshakeTimeout: viper.GetDuration("transport.handshake_timeout"),
			IdleTimeout:      viper.GetDuration("transport.idle_timeout"),
		},
	}
}

// fileLayout mirrors the viper keys for writing a default config file.
func fileLayout(cfg ConfigDefaults) map[string]any {
	return map[string]any{
		"session": map[string]any{
			"window_size":                  cfg.Session.WindowSize,
			"ack_batch_size":               cfg.Session.AckBatchSize,
			"ack_batch_interval":           cfg.Session.AckBatchInterval.String(),
			"retry_interval":               cfg.Session.RetryInterval.String(),
			"max_data_retries":             cfg.Session.MaxDataRetries,
			"send_operation_quota":         cfg.Session.SendOperationQuota,
			"receive_operation_quota":      cfg.Session.ReceiveOperationQuota,
			"queued_inbound_message_quota": cfg.Session.QueuedInboundMessageQuota,
		},
		"protocol": map[string]any{
			"retry_interval":    cfg.Protocol.RetryInterval.String(),
			"max_retries":       cfg.Protocol.MaxRetries,
			"max_abort_retries": cfg.Protocol.MaxAbortRetries,
		},
		"pool": map[string]any{
			"send_operations":     cfg.Pool.SendOperations,
			"receive_operations":  cfg.Pool.ReceiveOperations,
			"inbound_messages":    cfg.Pool.InboundMessages,
			"protocol_operations": cfg.Pool.ProtocolOperations,
			"grow_increment":      cfg.Pool.GrowIncrement,
		},
		"manager": map[string]any{
			"max_session_offers_per_second": cfg.Manager.MaxSessionOffersPerSecond,
			"session_offer_burst":           cfg.Manager.SessionOfferBurst,
		},
		"transport": map[string]any{
			"listen_address":    cfg.Transport.ListenAddress,
			"max_datagram_size": cfg.Transport.MaxDatagramSize,
			"handshake_timeout": cfg.Transport.HandshakeTimeout.String(),
			"idle_timeout":      cfg.Transport.IdleTimeout.String(),
		},
	}
}

// WriteDefaultConfig writes cfg as YAML to path, creating parent
// directories.
func WriteDefaultConfig(path string, cfg ConfigDefaults) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return oops.In("config").With("path", path).Wrapf(err, "create config directory")
	}
	out, err := yaml.Marshal(fileLayout(cfg))
	if err != nil {
		return oops.In("config").Wrapf(err, "encode default config")
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return oops.In("config").With("path", path).Wrapf(err, "write default config")
	}
	log.Debugf("Created default configuration at: %s", path)
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
		return nil
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return oops.In("config").Wrapf(err, "read config file")
	}
	if CfgFile != "" {
		return oops.In("config").With("path", CfgFile).Wrapf(err, "config file not found")
	}
	path := filepath.Join(BuildBaseDirPath(), "config.yaml")
	if err := WriteDefaultConfig(path, Defaults()); err != nil {
		return err
	}
	viper.SetConfigFile(path)
	return viper.ReadInConfig()
}

// BuildBaseDirPath returns $HOME/.go-reliable.
func BuildBaseDirPath() string {
	return filepath.Join(util.UserHome(), BaseDirName)
}

var (
	watchMu   sync.Mutex
	onChanged func(ConfigDefaults)
)

// Reload re-reads the config file and, when the result validates, passes it
// to the callback registered with WatchConfig.
func Reload() error {
	if err := viper.ReadInConfig(); err != nil {
		return oops.In("config").Wrapf(err, "reload config file")
	}
	cfg := CurrentConfig()
	if err := Validate(cfg); err != nil {
		log.WithError(err).Warn("reloaded configuration rejected")
		return err
	}
	watchMu.Lock()
	fn := onChanged
	watchMu.Unlock()
	if fn != nil {
		fn(cfg)
	}
	return nil
}

// WatchConfig calls fn with the validated configuration after every change
// of the config file on disk.
func WatchConfig(fn func(ConfigDefaults)) {
	watchMu.Lock()
	onChanged = fn
	watchMu.Unlock()

	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		log.WithFields(logger.Fields{
			"at":   "WatchConfig",
			"file": e.Name,
			"op":   e.Op.String(),
		}).Info("config file changed")
		cfg := CurrentConfig()
		if err := Validate(cfg); err != nil {
			log.WithError(err).Warn("changed configuration rejected")
			return
		}
		fn(cfg)
	})
	viper.WatchConfig()
}
