package config

// HostConfig describes one managed machine.
type HostConfig struct {
	Env         string   `yaml:"env"`
	User        string   `yaml:"user"`
	Addr        string   `yaml:"addr"`
	Port        int      `yaml:"port"`
	Jump        string   `yaml:"jump"`
	Tags        []string `yaml:"tags"`
	SSHKey      string   `yaml:"ssh_key"`
	Description string   `yaml:"description"`
	Group       string   `yaml:"group"`
}

// JumpConfig describes a bastion reachable from the operator machine;
// hosts name it in their Jump field.
type JumpConfig struct {
	Addr   string `yaml:"addr"`
	User   string `yaml:"user"`
	Port   int    `yaml:"port"`
	SSHKey string `yaml:"ssh_key"`
}

// ServiceConfig describes a deployed service and where it runs.
type ServiceConfig struct {
	Description string `yaml:"description"`

	// Kind is the supervisor flavor, systemd or docker.
	Kind string `yaml:"kind"`

	// Unit is the systemd unit or docker container name. Defaults to
	// the service key.
	Unit string `yaml:"unit"`

	// Hosts maps an environment to the host aliases running the
	// service in that environment.
	Hosts map[string][]string `yaml:"hosts"`

	Logs *ServiceLogsConfig `yaml:"logs"`
}

// ServiceLogsConfig points the log tools at the service's log file.
type ServiceLogsConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}
