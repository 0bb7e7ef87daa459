// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package cmd

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix starts the name of every environment variable read for a flag.
const EnvPrefix = "HARVEST"

var (
	// Version is set with -ldflags at build time.
	Version string
	// BuildTime is set with -ldflags at build time.
	BuildTime string
)

func versionInfo() (version, buildTime string) {
	version, buildTime = Version, BuildTime
	if version == "" {
		version = "v0.0.0"
	}
	if buildTime == "" {
		buildTime = "not recorded"
	}
	return version, buildTime
}

// subcommandFns holds the constructors of the subcommands, registered by the
// init functions of this package.
var subcommandFns = map[string]func(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command{}

// NewRootCommand gets the harvest command with every registered subcommand.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	version, buildTime := versionInfo()
	rc := &cobra.Command{
		Use:   "harvest",
		Short: "harvest - copy OGC API Features collections into a local container",
		Long: `Harvest requests the items of an OGC API Features collection page by
page and stores them as features of a table in a local GeoPackage-style
container kept in bolt or leveldb.

Every flag may also be given as an environment variable prefixed with
` + EnvPrefix + `_ (e.g. ` + EnvPrefix + `_TOTAL_LIMIT) or in a TOML file passed with --config.

Version: ` + version + `
Build Time: ` + buildTime + "\n",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return applyConfig(viper.New(), cmd.Flags(), EnvPrefix)
		},
		SilenceUsage: true,
	}
	rc.PersistentFlags().String("config", "", "TOML file to read flag values from.")
	for _, fn := range subcommandFns {
		rc.AddCommand(fn(stdin, stdout, stderr))
	}
	rc.SetOutput(stderr)
	return rc
}

// applyConfig fills in every flag of flags which wasn't given on the command
// line, from the environment first and then from the TOML file named by the
// config flag. A flag named total-limit is read from PREFIX_TOTAL_LIMIT or
// from the total-limit key of the file. Flags found nowhere keep their
// defaults.
func applyConfig(v *viper.Viper, flags *pflag.FlagSet, envPrefix string) error {
	if err := v.BindPFlags(flags); err != nil {
		return errors.Wrap(err, "binding flags")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "reading configuration file '%s'", file)
		}
	}

	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		// flags given on the command line win, and setting a slice flag
		// again would append to it
		if err != nil || f.Changed {
			return
		}
		if serr := f.Value.Set(configValue(v, f)); serr != nil {
			err = errors.Wrapf(serr, "setting %s", f.Name)
		}
	})
	return err
}

// configValue returns the value viper holds for f in the form f.Value.Set
// parses. Slices from a file are joined with commas.
func configValue(v *viper.Viper, f *pflag.Flag) string {
	if f.Value.Type() == "stringSlice" {
		return strings.Join(v.GetStringSlice(f.Name), ",")
	}
	return v.GetString(f.Name)
}
