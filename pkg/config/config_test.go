package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
default:
  ssh_private_key: /root/.ssh/id_rsa
  repo_root: /root
  build_tool: /root/.cargo/bin/cargo
  secret: default-secret

specific:
  FreddieBrown/dodona:
    code_root: /backend
    binaries: [api-server, dcl]

  alexander-jackson/locker:
    secret: locker-secret
    binaries: [locker, zipper]

  alexander-jackson/ptc:
    branch: main
    code_root: /ptc
`

func TestParse(t *testing.T) {
	cfg, err := Parse(FormatYAML, []byte(sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/root/.ssh/id_rsa", cfg.Defaults.SSHPrivateKey)
	assert.Equal(t, "/root", cfg.Defaults.RepoRoot)
	assert.Equal(t, "/root/.cargo/bin/cargo", cfg.Defaults.BuildTool)
	assert.Equal(t, "default-secret", cfg.Defaults.Secret)
	assert.Len(t, cfg.Specific, 3)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse(FormatYAML, []byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Defaults.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Nil(t, cfg.Defaults.Discord)
}

func TestParseDiscordConfig(t *testing.T) {
	cfg, err := Parse(FormatYAML, []byte(`
default:
  ssh_private_key: /root/.ssh/id_rsa
  repo_root: /root
  build_tool: /usr/bin/cargo
  secret: s
  discord:
    token: bot-token
    channel_id: "123456"
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.NotNil(t, cfg.Defaults.Discord)
	assert.Equal(t, "bot-token", cfg.Defaults.Discord.Token)
	assert.Equal(t, "123456", cfg.Defaults.Discord.ChannelID)
}

func TestValidateRejectsIncompleteDefaults(t *testing.T) {
	tests := map[string]string{
		"missing repo_root": `
default:
  ssh_private_key: /root/.ssh/id_rsa
  build_tool: /usr/bin/cargo
  secret: s
`,
		"missing ssh_private_key": `
default:
  repo_root: /root
  build_tool: /usr/bin/cargo
  secret: s
`,
		"missing build_tool": `
default:
  ssh_private_key: /root/.ssh/id_rsa
  repo_root: /root
  secret: s
`,
		"missing secret": `
default:
  ssh_private_key: /root/.ssh/id_rsa
  repo_root: /root
  build_tool: /usr/bin/cargo
`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := Parse(FormatYAML, []byte(content))
			require.NoError(t, err)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGetTypeFromFileExtension(t *testing.T) {
	for _, filename := range []string{"config.yml", "config.yaml", "/etc/fisherman/fisherman.yml"} {
		f, err := GetTypeFromFileExtension(filename)
		require.NoError(t, err)
		assert.Equal(t, FormatYAML, f)
	}

	_, err := GetTypeFromFileExtension("config.toml")
	assert.Error(t, err)
}

func TestToYAMLMasksSecrets(t *testing.T) {
	cfg, err := Parse(FormatYAML, []byte(`
default:
  ssh_private_key: /root/.ssh/id_rsa
  repo_root: /root
  build_tool: /usr/bin/cargo
  secret: super-secret
  discord:
    token: bot-token
    channel_id: "123456"

specific:
  org/app:
    secret: app-secret
`))
	require.NoError(t, err)

	out := cfg.ToYAML()
	assert.NotContains(t, out, "super-secret")
	assert.NotContains(t, out, "app-secret")
	assert.NotContains(t, out, "bot-token")
	assert.Contains(t, out, "*******")
}
