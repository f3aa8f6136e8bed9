package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "server"
log_level = "debug"

[pool]
name = "qatar"
deadline = "2022-11-20T00:00:00Z"
ticket_price = "0.05"
schedule = ["2022-11-20T18:00:00Z", "2022-11-21T15:00:00Z"]

[gateway]
approvers = [
  "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
  "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC",
]
threshold = 2

[server]
port = 9090
rate_window = "30s"

[signer]
private_key = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "qatar", cfg.Pool.Name)
	assert.Equal(t, 80, cfg.Pool.PrizePercent)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RateWindow.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Server.MaxClockSkew.Duration)
	assert.Equal(t, "memory", cfg.Storage.Backend)

	price, err := cfg.Pool.TicketPriceWei()
	require.NoError(t, err)
	assert.Equal(t, "50000000000000000", price.String())

	schedule, err := cfg.Pool.ScheduleTimes()
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	assert.Equal(t, 15, schedule[1].Hour())

	approvers, err := cfg.Gateway.ApproverAddresses()
	require.NoError(t, err)
	assert.Len(t, approvers, 2)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRODEPOOL_POOL_NAME", "from-env")
	t.Setenv("PRODEPOOL_GATEWAY_THRESHOLD", "1")
	t.Setenv("PRODEPOOL_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PRODEPOOL_SIGNER_CHAIN_ID", "11155111")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Pool.Name)
	assert.Equal(t, 1, cfg.Gateway.Threshold)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, int64(11155111), cfg.Signer.ChainID)
}

func TestScheduleTimes_Generated(t *testing.T) {
	p := Defaults().Pool
	p.FixtureCount = 3
	p.FirstResultAt = "2026-06-11T20:00:00Z"
	p.ResultInterval = duration{24 * time.Hour}

	got, err := p.ScheduleTimes()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 48*time.Hour, got[2].Sub(got[0]))

	p.FirstResultAt = ""
	_, err = p.ScheduleTimes()
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "replay"
	cfg.Pool.TicketPrice = "-1"
	cfg.Gateway.Approvers = []string{"0x70997970C51812dc3A010C7d01b50e0d17dc79C8", "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}
	cfg.Signer.EncryptedKeyPath = "/keys/operator.json"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"deadline must be set",
		"ticket_price",
		"duplicate approver",
		"replay mode needs the postgres backend",
		"key_password is required",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_FirstResultBeforeDeadline(t *testing.T) {
	cfg := Defaults()
	cfg.Pool.Deadline = "2026-06-11T00:00:00Z"
	cfg.Pool.Schedule = []string{"2026-06-10T00:00:00Z"}
	cfg.Gateway.Approvers = []string{"0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before the betting deadline")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Signer.PrivateKey = "secret"
	cfg.Server.APIKey = "key"
	cfg.Gateway.Approvers = []string{"0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Signer.PrivateKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Supabase.Password)

	out.Gateway.Approvers[0] = "changed"
	assert.Equal(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", cfg.Gateway.Approvers[0])
	assert.Equal(t, "secret", cfg.Signer.PrivateKey)
}
