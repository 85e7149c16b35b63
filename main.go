// nodeagent registers a docker node with the cluster manager.
//
// Usage:
//
//	nodeagent [daemon]  register this node every timeout seconds
//	nodeagent install   install as a systemd service
//	nodeagent edit      edit the config file
//	nodeagent status    show the running agent's registration status
package main

import (
	"fmt"
	"os"
	"strings"

	cli "github.com/jawher/mow.cli"

	"nodeagent/cmd/daemon"
	"nodeagent/cmd/edit"
	"nodeagent/cmd/install"
	"nodeagent/cmd/status"
	"nodeagent/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	app := newApp(runDaemon)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the CLI. Daemon options are accepted both before and after
// the daemon command; run receives them merged, the later placement winning.
func newApp(run func(configPath string, flags config.Agent)) *cli.Cli {
	app := cli.App("nodeagent", "Registers this docker node with the cluster manager.")
	app.LongDesc = "Configuration is read from " + strings.Join(config.SearchPaths(), ", ") +
		", then --config, then NODEAGENT_* environment variables, then flags.\n\nSample config:\n\n" + config.SampleConfig

	global := bindOptions(app.Cmd)
	app.Action = func() { run(global.configPath(), global.layer()) }

	app.Command("daemon", "run the registration agent (default)", func(cmd *cli.Cmd) {
		local := bindOptions(cmd)
		cmd.Action = func() {
			path := global.configPath()
			if p := local.configPath(); p != "" {
				path = p
			}
			run(path, global.layer().Merge(local.layer()))
		}
	})

	app.Command("install", "install into the OS startup scripts (systemd)", func(cmd *cli.Cmd) {
		cmd.Action = func() { exitOnErr(install.Run()) }
	})

	app.Command("edit", "edit a config file in $EDITOR, creating it if needed", func(cmd *cli.Cmd) {
		cmd.Spec = "[PATH]"
		path := cmd.StringArg("PATH", config.SystemPath, "config file to edit")
		cmd.Action = func() { exitOnErr(edit.Run(config.ExpandPath(*path))) }
	})

	app.Command("status", "show the registration status of the running agent", func(cmd *cli.Cmd) {
		cfgPath := cmd.StringOpt("c config", "", "path to config file")
		cmd.Action = func() {
			path := global.configPath()
			if *cfgPath != "" {
				path = *cfgPath
			}
			layers, _, err := config.Layers(path, config.Agent{})
			exitOnErr(err)
			exitOnErr(status.Run(layers.SocketPath()))
		}
	})

	app.Command("version", "print version information", func(cmd *cli.Cmd) {
		cmd.Action = func() { fmt.Printf("nodeagent %s\n", version) }
	})

	return app
}

// options are the daemon flags. Only flags given on the command line
// override lower configuration layers.
type options struct {
	config    *string
	docker    *string
	master    *string
	secret    *string
	timeout   *int
	logLevel  *string
	advertise *string

	dockerSet    bool
	masterSet    bool
	secretSet    bool
	timeoutSet   bool
	logLevelSet  bool
	advertiseSet bool
}

func bindOptions(cmd *cli.Cmd) *options {
	o := &options{}
	o.config = cmd.String(cli.StringOpt{
		Name: "c config",
		Desc: "path to config file",
	})
	o.docker = cmd.String(cli.StringOpt{
		Name:      "d docker",
		Desc:      "docker engine address, host:port or unix:///path (" + config.EnvDocker + ")",
		SetByUser: &o.dockerSet,
	})
	o.master = cmd.String(cli.StringOpt{
		Name:      "m master",
		Desc:      "cluster manager address, host:port (" + config.EnvMaster + ")",
		SetByUser: &o.masterSet,
	})
	o.secret = cmd.String(cli.StringOpt{
		Name:      "s secret",
		Desc:      "secret for auth on the manager (" + config.EnvSecret + ")",
		SetByUser: &o.secretSet,
	})
	o.timeout = cmd.Int(cli.IntOpt{
		Name:      "t timeout",
		Value:     60,
		Desc:      "seconds between registration updates (" + config.EnvTimeout + ")",
		SetByUser: &o.timeoutSet,
	})
	o.logLevel = cmd.String(cli.StringOpt{
		Name:      "l log-level",
		Value:     "info",
		Desc:      "debug, info, warn, error or 0, 1, 2 (" + config.EnvLogLevel + ")",
		SetByUser: &o.logLevelSet,
	})
	o.advertise = cmd.String(cli.StringOpt{
		Name:      "a advertise",
		Desc:      "engine host:port sent to the manager, required with a unix docker socket (" + config.EnvAdvertise + ")",
		SetByUser: &o.advertiseSet,
	})
	return o
}

func (o *options) configPath() string {
	return *o.config
}

// layer is the highest-priority configuration layer.
func (o *options) layer() config.Agent {
	var a config.Agent
	if o.dockerSet {
		a.Docker = o.docker
	}
	if o.masterSet {
		a.Master = o.master
	}
	if o.secretSet {
		a.Secret = o.secret
	}
	if o.timeoutSet {
		a.Timeout = o.timeout
	}
	if o.logLevelSet {
		a.LogLevel = o.logLevel
	}
	if o.advertiseSet {
		a.Advertise = o.advertise
	}
	return a
}

func runDaemon(configPath string, flags config.Agent) {
	s, read, err := config.Discover(configPath, flags)
	if err != nil {
		exitOnErr(fmt.Errorf("configuration: %w", err))
	}
	exitOnErr(daemon.Run(s, read))
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cli.Exit(1)
	}
}
