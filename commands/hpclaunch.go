// Copyright 2019 Bull S.A.S. Atos Technologies - Bull, Rue Jean Jaures, B.P.68, 78340, Les Clayes-sous-Bois, France.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ystia/hpclaunch/config"
	"github.com/ystia/hpclaunch/container"
	"github.com/ystia/hpclaunch/log"
	"github.com/ystia/hpclaunch/report"
)

var cfgFile string

var noColor bool

func init() {
	RootCmd.AddCommand(versionCmd)
	setConfig()
	cobra.OnInitialize(initConfig)
}

// RootCmd is the root of hpclaunch commands tree
var RootCmd = &cobra.Command{
	Use:   "hpclaunch",
	Short: "A distributed job launcher",
	Long: `hpclaunch starts the worker processes of a distributed job on the nodes
of a batch scheduler allocation, gives each of them its rank environment
and reports how the job ended.
`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("debug") {
			log.SetDebug(true)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		err := cmd.Help()
		if err != nil {
			fmt.Print(err)
		}
	},
}

// ExitError is returned by commands that require hpclaunch to exit with a given code
type ExitError struct {
	Code int
	// Err is reported before exiting if not nil
	Err error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCodeOf returns the process exit code matching an error returned by a command
func ExitCodeOf(err error) int {
	if err == nil {
		return report.ExitSuccess
	}
	if e, ok := errors.Cause(err).(*ExitError); ok {
		return e.Code
	}
	return report.ExitInvalidConfig
}

// Execute runs the command tree and returns the exit code of hpclaunch
func Execute() int {
	err := RootCmd.Execute()
	if err != nil {
		if e, ok := errors.Cause(err).(*ExitError); !ok || e.Err != nil {
			log.Errorf("%v", err)
		}
	}
	return ExitCodeOf(err)
}

func initConfig() {
	if cfgFile != "" {
		// enable ability to specify config file via flag
		viper.SetConfigFile(cfgFile)
	}

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Debugln("Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		log.Warnf("Can't use config file %q: %v", cfgFile, err)
	}
}

func setConfig() {
	flags := RootCmd.PersistentFlags()

	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is /etc/hpclaunch/config.hpclaunch.[json|yaml|toml])")
	flags.Bool("debug", false, "Enable debug logs")
	flags.BoolVar(&noColor, "no_color", false, "Disable coloring output")

	// Flags definition for the job
	flags.StringP("job_name", "J", "", "Name of the job")
	flags.StringP("job_file", "f", "", "YAML or HCL file describing the job")
	flags.StringP("working_directory", "w", "", "Working directory of the workers")
	flags.IntP("node_count", "N", 0, "Number of nodes, defaults to the allocation size or 1")
	flags.IntP("processes_per_node", "n", 0, "Number of worker processes per node, defaults to the allocation tasks per node or 1")
	flags.StringSlice("hosts", nil, "Host names of the nodes, one per node. Defaults to the allocation nodes or localhost")
	flags.StringSliceP("network_interfaces", "i", nil, "Network interfaces used by the workers to communicate")
	flags.StringSliceP("environment", "e", nil, "Environment variables given to every worker (format: KEY=VALUE)")
	flags.String("master_addr", "", "Address of the rank 0 coordination endpoint")
	flags.Int("master_port", config.DefaultMasterPort, "Port of the rank 0 coordination endpoint")
	flags.DurationP("timeout", "t", 0, "Maximum duration of the job, 0 means no timeout")
	flags.Duration("elapsed", 0, "Time budget of the allocation, defaults to the time left in the scheduler job")
	flags.Duration("walltime_margin", config.DefaultWalltimeMargin, "Time kept aside from the allocation budget to terminate the workers")
	flags.Duration("termination_grace_period", config.DefaultTerminationGracePeriod, "Time given to workers to exit after a termination signal before they get killed")
	flags.Duration("wait_master_timeout", 0, "Time to wait for the rank 0 endpoint to accept connections before starting other ranks, 0 disables the check")
	flags.String("launcher", config.DefaultLauncher, "Launcher used for remote nodes (local or ssh)")
	flags.Bool("tag_output", true, "Prefix each worker output line with its rank")
	flags.String("env_file", "", "Shell file sourced before starting each worker")
	flags.StringSlice("modules", nil, "Environment modules loaded before starting each worker")
	flags.StringP("result_file", "o", "", "Write the JSON job report into this file")

	// Flags definition for containers
	flags.String("container_runtime", "", "Container runtime running the workers (singularity, apptainer or docker)")
	flags.String("container_image", "", "Container image running the workers")
	flags.StringSlice("container_binds", nil, "Paths mounted into the container (format: src[:dst[:opts]])")
	flags.Bool("container_gpu", false, "Give the container access to the host GPUs")
	flags.String("container_shm_size", "", "Size of the container shared memory (ex: 8GB). A plain number is a size in MB")
	flags.String("container_args", "", "Extra arguments given to the container runtime")

	// Flags definition for SSH
	flags.String("ssh_user", "", "User used to connect to remote nodes, defaults to $USER")
	flags.String("ssh_private_key", "", "Path or content of the private key used to connect to remote nodes, defaults to ~/.ssh/id_rsa")
	flags.Int("ssh_port", config.DefaultSSHPort, "Port of the SSH server of remote nodes")
	flags.String("ssh_known_hosts", "", "known_hosts file used to check remote nodes keys. Host keys are not checked if not set")

	// Flags definition for telemetry
	flags.String("statsd_address", "", "Address of a statsd server to send metrics to")
	flags.String("statsite_address", "", "Address of a statsite server to send metrics to")
	flags.String("telemetry_service_name", config.DefaultTelemetryServiceName, "Prefix of emitted metrics")
	flags.Bool("disable_hostname", false, "Do not prefix gauge metrics with the host name")

	// Flags definition for Consul
	flags.String("consul_address", "", "Address of the HTTP interface for Consul (format: <host>:<port>)")
	flags.String("consul_token", "", "The Consul ACL token")
	flags.String("consul_datacenter", "", "The datacenter of Consul node")
	flags.String("consul_result_prefix", "", "Consul KV prefix under which the job report is published. Nothing is published if not set")

	for _, name := range configKeys {
		viper.BindPFlag(name, flags.Lookup(name))
	}

	//Environment Variables
	viper.SetEnvPrefix("hpclaunch") // will be uppercased automatically - Become "HPCLAUNCH_"
	viper.AutomaticEnv()            // read in environment variables that match
	for _, name := range configKeys {
		viper.BindEnv(name)
	}
	viper.BindEnv("ssh_user", "USER")
	viper.BindEnv("consul_address", "CONSUL_HTTP_ADDR")
	viper.BindEnv("consul_token", "CONSUL_HTTP_TOKEN")

	//Setting Defaults
	viper.SetDefault("master_port", config.DefaultMasterPort)
	viper.SetDefault("walltime_margin", config.DefaultWalltimeMargin)
	viper.SetDefault("termination_grace_period", config.DefaultTerminationGracePeriod)
	viper.SetDefault("launcher", config.DefaultLauncher)
	viper.SetDefault("tag_output", true)
	viper.SetDefault("ssh_port", config.DefaultSSHPort)
	viper.SetDefault("telemetry_service_name", config.DefaultTelemetryServiceName)

	//Configuration file directories
	viper.SetConfigName("config.hpclaunch") // name of config file (without extension)
	viper.AddConfigPath("/etc/hpclaunch/")
	viper.AddConfigPath(".")
}

var configKeys = []string{
	"debug",
	"job_name",
	"job_file",
	"working_directory",
	"node_count",
	"processes_per_node",
	"hosts",
	"network_interfaces",
	"environment",
	"master_addr",
	"master_port",
	"timeout",
	"elapsed",
	"walltime_margin",
	"termination_grace_period",
	"wait_master_timeout",
	"launcher",
	"tag_output",
	"env_file",
	"modules",
	"result_file",
	"container_runtime",
	"container_image",
	"container_binds",
	"container_gpu",
	"container_shm_size",
	"container_args",
	"ssh_user",
	"ssh_private_key",
	"ssh_port",
	"ssh_known_hosts",
	"statsd_address",
	"statsite_address",
	"telemetry_service_name",
	"disable_hostname",
	"consul_address",
	"consul_token",
	"consul_datacenter",
	"consul_result_prefix",
}

func getConfig() (config.Configuration, error) {
	cfg := config.Configuration{}
	cfg.JobName = viper.GetString("job_name")
	cfg.JobFile = viper.GetString("job_file")
	cfg.WorkingDirectory = viper.GetString("working_directory")
	cfg.NodeCount = viper.GetInt("node_count")
	cfg.ProcessesPerNode = viper.GetInt("processes_per_node")
	cfg.Hosts = config.ToStringSlice(viper.Get("hosts"))
	cfg.NetworkInterfaces = config.ToStringSlice(viper.Get("network_interfaces"))
	env, err := config.ParseEnvironment(cast.ToStringSlice(viper.Get("environment")))
	if err != nil {
		return cfg, err
	}
	cfg.Environment = env
	cfg.MasterAddr = viper.GetString("master_addr")
	cfg.MasterPort = viper.GetInt("master_port")
	cfg.Timeout = viper.GetDuration("timeout")
	cfg.Elapsed = viper.GetDuration("elapsed")
	cfg.WalltimeMargin = viper.GetDuration("walltime_margin")
	cfg.TerminationGracePeriod = viper.GetDuration("termination_grace_period")
	cfg.WaitMasterTimeout = viper.GetDuration("wait_master_timeout")
	cfg.Launcher = strings.ToLower(viper.GetString("launcher"))
	cfg.TagOutput = viper.GetBool("tag_output")
	cfg.EnvFile = viper.GetString("env_file")
	cfg.Modules = config.ToStringSlice(viper.Get("modules"))
	cfg.ResultFile = viper.GetString("result_file")

	cfg.Container.Runtime = strings.ToLower(viper.GetString("container_runtime"))
	cfg.Container.Image = viper.GetString("container_image")
	cfg.Container.Binds = config.ToStringSlice(viper.Get("container_binds"))
	cfg.Container.GPU = viper.GetBool("container_gpu")
	cfg.Container.ShmSize = viper.GetString("container_shm_size")
	cfg.Container.ExtraArgs, err = container.ParseExtraArgs(viper.GetString("container_args"))
	if err != nil {
		return cfg, err
	}

	cfg.SSH.User = viper.GetString("ssh_user")
	cfg.SSH.PrivateKey = viper.GetString("ssh_private_key")
	cfg.SSH.Port = viper.GetInt("ssh_port")
	cfg.SSH.KnownHostsFile = viper.GetString("ssh_known_hosts")

	cfg.Telemetry.StatsdAddress = viper.GetString("statsd_address")
	cfg.Telemetry.StatsiteAddress = viper.GetString("statsite_address")
	cfg.Telemetry.ServiceName = viper.GetString("telemetry_service_name")
	cfg.Telemetry.DisableHostName = viper.GetBool("disable_hostname")

	cfg.Consul.Address = viper.GetString("consul_address")
	cfg.Consul.Token = viper.GetString("consul_token")
	cfg.Consul.Datacenter = viper.GetString("consul_datacenter")
	cfg.Consul.ResultPrefix = viper.GetString("consul_result_prefix")
	return cfg, nil
}

// flagChanged returns a function telling if the named flag was explicitly set on the command line
func flagChanged(flags *pflag.FlagSet) func(string) bool {
	return func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
}

func colorize() bool {
	return !noColor && os.Getenv("NO_COLOR") == ""
}
