package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SSHHost is one usable entry parsed from an OpenSSH client config.
type SSHHost struct {
	Alias        string
	Hostname     string
	User         string
	Port         int
	IdentityFile string
	ProxyJump    string
}

var sshAttrRe = regexp.MustCompile(`^(\w+)[\s=]+(.+)$`)

// ParseSSHConfig reads an OpenSSH client config, following Include
// directives (with globs) relative to the including file. Wildcard
// patterns and github hosts are skipped. An empty path selects
// ~/.ssh/config; a missing file yields no hosts.
func ParseSSHConfig(path string) ([]SSHHost, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".ssh", "config")
	}
	path = expandHome(path)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh config: %w", err)
	}

	var hosts []SSHHost
	var aliases []string
	var current SSHHost

	flush := func() {
		for _, a := range aliases {
			h := current
			h.Alias = a
			hosts = append(hosts, h)
		}
		aliases = nil
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		key := strings.ToLower(fields[0])

		if key == "include" {
			for _, pattern := range fields[1:] {
				pattern = expandHome(pattern)
				if !filepath.IsAbs(pattern) {
					pattern = filepath.Join(filepath.Dir(path), pattern)
				}
				matches, err := filepath.Glob(pattern)
				if err != nil {
					continue
				}
				for _, m := range matches {
					included, err := ParseSSHConfig(m)
					if err != nil {
						return nil, err
					}
					hosts = append(hosts, included...)
				}
			}
			continue
		}

		if key == "host" {
			flush()
			current = SSHHost{Port: 22}
			for _, a := range fields[1:] {
				if strings.ContainsAny(a, "*?!") || strings.Contains(strings.ToLower(a), "github") {
					continue
				}
				aliases = append(aliases, a)
			}
			continue
		}

		if len(aliases) == 0 {
			continue
		}
		m := sshAttrRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[2])
		switch strings.ToLower(m[1]) {
		case "hostname":
			current.Hostname = value
		case "user":
			current.User = value
		case "port":
			if p, err := strconv.Atoi(value); err == nil {
				current.Port = p
			}
		case "identityfile":
			current.IdentityFile = value
		case "proxyjump", "proxycommand":
			current.ProxyJump = value
		}
	}
	flush()

	return hosts, nil
}

// ToHostConfigs converts parsed SSH hosts into FlowPilot host entries
// tagged with defaultEnv. Entries without a HostName are dropped.
func ToHostConfigs(sshHosts []SSHHost, defaultEnv string) map[string]HostConfig {
	out := make(map[string]HostConfig, len(sshHosts))
	for _, h := range sshHosts {
		if h.Alias == "" || h.Hostname == "" {
			continue
		}
		user := h.User
		if user == "" {
			user = "root"
		}
		hc := HostConfig{
			Env:    defaultEnv,
			User:   user,
			Addr:   h.Hostname,
			SSHKey: h.IdentityFile,
			Jump:   h.ProxyJump,
		}
		if h.Port != 0 && h.Port != 22 {
			hc.Port = h.Port
		}
		out[h.Alias] = hc
	}
	return out
}

// RenderHostsYAML formats host entries as a hosts: YAML fragment for
// preview output.
func RenderHostsYAML(hosts map[string]HostConfig) (string, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	hostsNode := &yaml.Node{Kind: yaml.MappingNode}
	root.Content = append(root.Content,
		scalarNode("hosts"),
		hostsNode,
	)
	appendHostNodes(hostsNode, hosts, nil)

	data, err := yaml.Marshal(root)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// MergeHostsIntoFile adds the given hosts to the config file at path
// without touching entries that already exist. Comments and ordering
// of the existing file survive because the merge edits the parsed
// node tree rather than re-rendering from structs. Returns how many
// hosts were added.
func MergeHostsIntoFile(path string, hosts map[string]HostConfig) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read config file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("failed to parse config file: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}
	rootMap := doc.Content[0]
	if rootMap.Kind != yaml.MappingNode {
		return 0, fmt.Errorf("config root is not a mapping")
	}

	hostsNode := mappingValue(rootMap, "hosts")
	if hostsNode == nil {
		hostsNode = &yaml.Node{Kind: yaml.MappingNode}
		rootMap.Content = append(rootMap.Content, scalarNode("hosts"), hostsNode)
	}

	existing := map[string]bool{}
	for i := 0; i+1 < len(hostsNode.Content); i += 2 {
		existing[hostsNode.Content[i].Value] = true
	}

	added := appendHostNodes(hostsNode, hosts, existing)
	if added == 0 {
		return 0, nil
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to render config file: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return 0, fmt.Errorf("failed to write config file: %w", err)
	}
	return added, nil
}

// appendHostNodes appends hosts absent from skip to the mapping node
// in sorted order and reports how many were appended.
func appendHostNodes(hostsNode *yaml.Node, hosts map[string]HostConfig, skip map[string]bool) int {
	names := make([]string, 0, len(hosts))
	for name := range hosts {
		if !skip[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		hostsNode.Content = append(hostsNode.Content, scalarNode(name), hostNode(hosts[name]))
	}
	return len(names)
}

func hostNode(h HostConfig) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key, value string) {
		n.Content = append(n.Content, scalarNode(key), scalarNode(value))
	}
	add("env", h.Env)
	add("user", h.User)
	add("addr", h.Addr)
	if h.Port != 0 && h.Port != 22 {
		n.Content = append(n.Content, scalarNode("port"), intNode(h.Port))
	}
	if h.Jump != "" {
		add("jump", h.Jump)
	}
	if h.SSHKey != "" {
		add("ssh_key", h.SSHKey)
	}
	return n
}

func scalarNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func intNode(n int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(n)}
}

// mappingValue returns the value node for key in a mapping node, or
// nil when absent.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
