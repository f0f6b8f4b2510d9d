// Package config reads the process-level environment variables that
// tune the orchestrator itself (spec §4.8's process-level enumeration).
// These are distinct from a test's own `environment:` — they configure
// the core and are never propagated into a test's environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is a typed snapshot of the process-level environment, read
// once at startup.
type Config struct {
	Debug             bool
	ShowTraceback     bool
	OutputWidth       int
	NoColor           bool
	ForceColor        bool
	BootTimeout       time.Duration
	ConnectTimeout    time.Duration
	RebootTimeout     time.Duration
	GitCloneAttempts  int
	GitCloneInterval  time.Duration
	GitCloneTimeout   time.Duration
	ReportArtifactsURL string
}

// Defaults mirror the provisioner and Git-clone retry budgets spec §4.8
// implies elsewhere (connect guest's ConnectTimeout, reboot readiness
// wait).
const (
	DefaultBootTimeout      = 10 * time.Minute
	DefaultConnectTimeout   = 60 * time.Second
	DefaultRebootTimeout    = 10 * time.Minute
	DefaultGitCloneAttempts = 5
	DefaultGitCloneInterval = 10 * time.Second
	DefaultGitCloneTimeout  = 5 * time.Minute
	DefaultOutputWidth      = 0 // 0 means "detect from terminal"
)

// Load reads Config from the process environment.
func Load() Config {
	return Config{
		Debug:              envBool("TMT_DEBUG"),
		ShowTraceback:      envBool("TMT_SHOW_TRACEBACK"),
		OutputWidth:        envInt("TMT_OUTPUT_WIDTH", DefaultOutputWidth),
		NoColor:            envBool("NO_COLOR") || envBool("TMT_NO_COLOR"),
		ForceColor:         envBool("TMT_FORCE_COLOR"),
		BootTimeout:        envDuration("TMT_BOOT_TIMEOUT", DefaultBootTimeout),
		ConnectTimeout:     envDuration("TMT_CONNECT_TIMEOUT", DefaultConnectTimeout),
		RebootTimeout:      envDuration("TMT_REBOOT_TIMEOUT", DefaultRebootTimeout),
		GitCloneAttempts:   envInt("TMT_GIT_CLONE_ATTEMPTS", DefaultGitCloneAttempts),
		GitCloneInterval:   envDuration("TMT_GIT_CLONE_INTERVAL", DefaultGitCloneInterval),
		GitCloneTimeout:    envDuration("TMT_GIT_CLONE_TIMEOUT", DefaultGitCloneTimeout),
		ReportArtifactsURL: os.Getenv("TMT_REPORT_ARTIFACTS_URL"),
	}
}

// PluginOption looks up TMT_PLUGIN_<STEP>_<PLUGIN>_<OPTION>, the escape
// hatch spec §4.8 names for overriding one phase's option without
// touching the plan. step/plugin/option are matched case-insensitively
// against the already-uppercased environment variable name.
func PluginOption(step, plugin, option string) (string, bool) {
	name := "TMT_PLUGIN_" + upper(step) + "_" + upper(plugin) + "_" + upper(option)
	v, ok := os.LookupEnv(name)
	return v, ok
}

// SSHOption looks up TMT_SSH_<OPTION>, the ambient override spec §4.3
// and §4.8 both reference for the connect guest's ssh(1) tuning.
func SSHOption(option string) (string, bool) {
	return os.LookupEnv("TMT_SSH_" + upper(option))
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		} else if c == '-' {
			b[i] = '_'
		}
	}
	return string(b)
}

func envBool(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return v != ""
	}
	return b
}

func envInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(name string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
