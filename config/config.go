// Package config exposes the Broker Options of spec.md §6 as
// cobra flags bound through viper, the way cli.AddClusterFlags and
// network.RegisterFlagsForService register and bind flags for the
// teacher's services.
package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// TLS carries the TLS material Broker Options names; spec.md §1 puts
// actually establishing TLS connections out of scope, so this is
// metadata only — nothing in this module constructs a tls.Config from
// it yet (see DESIGN.md's NOT-wired list for golang.org/x/crypto).
type TLS struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// Options is the Broker Options record of spec.md §6. Only Forward is
// consumed (cmd/brokerd passes it to peering.Peering.Forward); every
// other field is parsed and carried but read by nothing in this
// module.
type Options struct {
	// DisableSSL holds the --disable-ssl flag. This module has no
	// transport encryption for it to turn off.
	DisableSSL bool
	// Forward lists the store/topic names this node requests
	// broadcasts for from its peers (peering.Peering.Forward).
	Forward []string
	// TTL holds the --ttl duration. No put or expiry path applies it.
	TTL time.Duration
	// UseRealTime holds the --use-real-time flag. Expiry scanning
	// always takes the time passed to Master.ScanExpiries, whatever
	// this is set to.
	UseRealTime bool
	// IgnoreBrokerConf holds the --ignore-broker-conf flag. This module
	// loads no config file; settings come from flags only.
	IgnoreBrokerConf bool
	// MaxThreads holds the --max-threads count. No worker pool exists
	// in this module for it to bound.
	MaxThreads int

	TLS TLS
}

const (
	flagDisableSSL       = "disable-ssl"
	flagForward          = "forward"
	flagTTL              = "ttl"
	flagUseRealTime      = "use-real-time"
	flagIgnoreBrokerConf = "ignore-broker-conf"
	flagMaxThreads       = "max-threads"
	flagTLSCert          = "tls-cert-file"
	flagTLSKey           = "tls-key-file"
	flagTLSCA            = "tls-ca-file"
)

// AddFlags registers every Broker Option on root and binds it through
// viper, following cli.AddClusterFlags's StringSliceP/BoolP/viper.BindPFlag
// shape.
func AddFlags(root *cobra.Command) {
	root.Flags().Bool(flagDisableSSL, false, "disable transport encryption")
	viper.BindPFlag(flagDisableSSL, root.Flags().Lookup(flagDisableSSL))

	root.Flags().StringSlice(flagForward, []string{}, "store/topic names to request broadcasts for from peers")
	viper.BindPFlag(flagForward, root.Flags().Lookup(flagForward))

	root.Flags().Duration(flagTTL, 0, "ttl option (carried in Options, not applied)")
	viper.BindPFlag(flagTTL, root.Flags().Lookup(flagTTL))

	root.Flags().Bool(flagUseRealTime, true, "use wall-clock time for expiry scheduling")
	viper.BindPFlag(flagUseRealTime, root.Flags().Lookup(flagUseRealTime))

	root.Flags().Bool(flagIgnoreBrokerConf, false, "skip loading a broker.conf file")
	viper.BindPFlag(flagIgnoreBrokerConf, root.Flags().Lookup(flagIgnoreBrokerConf))

	root.Flags().Int(flagMaxThreads, 25, "max threads option (carried in Options, not applied)")
	viper.BindPFlag(flagMaxThreads, root.Flags().Lookup(flagMaxThreads))

	root.Flags().String(flagTLSCert, "", "TLS certificate file")
	viper.BindPFlag(flagTLSCert, root.Flags().Lookup(flagTLSCert))

	root.Flags().String(flagTLSKey, "", "TLS key file")
	viper.BindPFlag(flagTLSKey, root.Flags().Lookup(flagTLSKey))

	root.Flags().String(flagTLSCA, "", "TLS CA file")
	viper.BindPFlag(flagTLSCA, root.Flags().Lookup(flagTLSCA))
}

// FromViper reads every Broker Option back out of viper's bound
// values, after AddFlags has registered them and cobra has parsed argv.
func FromViper() Options {
	return Options{
		DisableSSL:       viper.GetBool(flagDisableSSL),
		Forward:          viper.GetStringSlice(flagForward),
		TTL:              viper.GetDuration(flagTTL),
		UseRealTime:      viper.GetBool(flagUseRealTime),
		IgnoreBrokerConf: viper.GetBool(flagIgnoreBrokerConf),
		MaxThreads:       viper.GetInt(flagMaxThreads),
		TLS: TLS{
			CertFile: viper.GetString(flagTLSCert),
			KeyFile:  viper.GetString(flagTLSKey),
			CAFile:   viper.GetString(flagTLSCA),
		},
	}
}
