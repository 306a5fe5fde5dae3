/*
Copyright © 2018 the gridsubset authors.
This file is part of gridsubset.

gridsubset is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gridsubset is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gridsubset.  If not, see <http://www.gnu.org/licenses/>.
*/


// Package subsetutil is the command-line interface of gridsubset.
package subsetutil

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version is the version of this program.
const Version = "1.0.0"

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to gridsubset.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "loglevel",
			usage: `
              loglevel is the minimum level of log messages to print:
              one of debug, info, warning or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "addr",
			usage: `
              addr is the address the HTTP server listens on.`,
			defaultVal: ":8080",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "catalogue",
			usage: `
              catalogue is the path to the TOML file listing the
              available datasets.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "cachesize",
			usage: `
              cachesize is the number of dataset descriptions
              kept in memory.`,
			defaultVal: 64,
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "regions",
			usage: `
              regions is the file defining the regions that can be
              requested by ID: a mask file, a shapefile (.shp) or a
              GeoJSON feature collection (.geojson or .json).`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "maskgrid",
			usage: `
              maskgrid is the name of the grid the cells in a mask
              file refer to. It must match the Grid of the datasets in
              the catalogue.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "regionid",
			usage: `
              regionid is the attribute holding region IDs in
              shapefiles and GeoJSON files.`,
			defaultVal: "ID",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags(), masksCmd.Flags()},
		},
		{
			name: "regionlabel",
			usage: `
              regionlabel is the attribute holding region labels in
              shapefiles and GeoJSON files.`,
			defaultVal: "CAPTION",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags(), masksCmd.Flags()},
		},
		{
			name: "output",
			usage: `
              output is the bucket where job output files are stored,
              in the format 'provider://name', where provider is one of
              file, gs, s3 or mem.`,
			defaultVal: "file://./output",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "state",
			usage: `
              state is the bucket where the job lists are stored. By
              default they are stored under "state" in the output bucket.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "tempdir",
			usage: `
              tempdir is the directory where output files are written
              before they are stored.`,
			defaultVal: os.TempDir(),
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "workers",
			usage: `
              workers is the number of jobs that can run at once. If
              zero, one less than the number of processors is used.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "maskcache",
			usage: `
              maskcache is the number of region masks kept in memory.`,
			defaultVal: 100,
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "areaweighted",
			usage: `
              areaweighted specifies whether area means weight grid
              cells by the fraction of their area inside the requested
              bounding box or region.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "datasetwait",
			usage: `
              datasetwait is how long a job waits for its dataset to
              become available, e.g. "5m". By default jobs fail at once.`,
			defaultVal: "0s",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "retention.downloaded",
			usage: `
              retention.downloaded is how long output files are kept
              after they are first downloaded.`,
			defaultVal: "24h",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "retention.completed",
			usage: `
              retention.completed is how long output files are kept
              after their job completes.`,
			defaultVal: "168h",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "publicurl",
			usage: `
              publicurl is the address of this server as seen by users.
              It is used for links in notification emails.`,
			defaultVal: "http://localhost:8080/",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "name",
			usage: `
              name is put before the subject of notification emails.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "smtp.addr",
			usage: `
              smtp.addr is the host:port of the SMTP server used to
              send notification emails. If empty, no emails are sent.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "smtp.user",
			usage: `
              smtp.user is the SMTP user name.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "smtp.password",
			usage: `
              smtp.password is the SMTP password.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "smtp.from",
			usage: `
              smtp.from is the sender address of notification emails.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "smtp.replyto",
			usage: `
              smtp.replyto is the Reply-To address of notification emails.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "smtp.retries",
			usage: `
              smtp.retries is the number of times sending an email is
              retried.`,
			defaultVal: 3,
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name: "shapefile",
			usage: `
              shapefile is the shapefile holding the region polygons.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{masksCmd.Flags()},
		},
		{
			name: "sample",
			usage: `
              sample is a NetCDF file on the grid to calculate masks for.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{masksCmd.Flags()},
		},
		{
			name: "lonvar",
			usage: `
              lonvar is the name of the longitude variable in the
              sample file.`,
			defaultVal: "lon",
			flagsets:   []*pflag.FlagSet{masksCmd.Flags()},
		},
		{
			name: "latvar",
			usage: `
              latvar is the name of the latitude variable in the
              sample file.`,
			defaultVal: "lat",
			flagsets:   []*pflag.FlagSet{masksCmd.Flags()},
		},
		{
			name: "out",
			usage: `
              out is the mask file to write.`,
			shorthand:  "o",
			defaultVal: "masks.txt",
			flagsets:   []*pflag.FlagSet{masksCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("GRIDSUBSET")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(serveCmd)
	Root.AddCommand(masksCmd)
}

// setConfig finds and reads in the configuration file, if there is
// one, and sets the log level.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("gridsubset: problem reading configuration file: %v", err)
		}
	}
	level, err := logrus.ParseLevel(Cfg.GetString("loglevel"))
	if err != nil {
		return fmt.Errorf("gridsubset: %v", err)
	}
	logrus.SetLevel(level)
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "gridsubset",
	Short: "A server for extracting subsets of gridded climate datasets.",
	Long: `gridsubset extracts subsets of gridded climate datasets as NetCDF
or CSV files. Users submit requests for a point, a bounding box or a named
region over a time range, are emailed when their file is ready, and
download it from the server.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'GRIDSUBSET_var' where 'var' is the
name of the variable to be set, with '.' replaced by '_'.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of gridsubset.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("gridsubset v%s\n", Version)
	},
	DisableAutoGenTag: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server.",
	Long: `serve starts the HTTP server that accepts subset requests, runs them
in the background and serves their output files. It runs until it receives
an interrupt signal, after which it waits for running jobs to finish.
Jobs that have not started are run when the server is next started.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return Serve(ctx, Cfg, logrus.StandardLogger())
	},
	DisableAutoGenTag: true,
}

var masksCmd = &cobra.Command{
	Use:   "masks",
	Short: "Calculate region masks.",
	Long: `masks calculates which cells of a grid are in each region of a
shapefile and writes the result to a mask file, which can then be used as
the regions of the server. Shapes whose IDs differ only by a numeric
suffix, such as the parts of a country, are merged into one region.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Masks(MaskConfig{
			Shapefile:  Cfg.GetString("shapefile"),
			IDField:    Cfg.GetString("regionid"),
			LabelField: Cfg.GetString("regionlabel"),
			Sample:     Cfg.GetString("sample"),
			LonVar:     Cfg.GetString("lonvar"),
			LatVar:     Cfg.GetString("latvar"),
			Out:        Cfg.GetString("out"),
		}, logrus.StandardLogger())
	},
	DisableAutoGenTag: true,
}
