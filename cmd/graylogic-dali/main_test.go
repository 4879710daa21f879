package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-dali/internal/api"
	"github.com/nerrad567/gray-logic-dali/internal/auth"
	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali/dalitest"
	"github.com/nerrad567/gray-logic-dali/internal/commissioning"
	"github.com/nerrad567/gray-logic-dali/internal/infrastructure/database"
)

const testSecret = "test-secret-key-at-least-32-chars!"

// writeConfig writes a minimal config pointing at gatewayURL and returns
// its path and the database path.
func writeConfig(t *testing.T, gatewayURL string, daliEnabled bool) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "runs.db")
	configPath = filepath.Join(dir, "config.yaml")

	content := fmt.Sprintf(`
site:
  id: test-site
database:
  path: %q
  wal_mode: true
  busy_timeout: 5
logging:
  level: debug
  format: text
  output: stderr
security:
  jwt:
    secret: %q
    access_token_ttl: 30
dali:
  enabled: %t
  gateway:
    connection: %q
    connect_timeout: 2s
    response_timeout: 1s
`, dbPath, testSecret, daliEnabled, gatewayURL)

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath, dbPath
}

// startGateway serves sim on a loopback gateway for the test's lifetime.
func startGateway(t *testing.T, sim *dalitest.SimBus) string {
	t.Helper()
	gw, err := dalitest.NewGateway(sim)
	if err != nil {
		t.Fatalf("starting gateway: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return gw.URL()
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out, errOut bytes.Buffer
	code = execute(ctx, args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")

	if path := getConfigPath(&globalFlags{}); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_CONFIG", expected)

	if path := getConfigPath(&globalFlags{}); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestGetConfigPath_FlagWins(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/from/env.yaml")

	path := getConfigPath(&globalFlags{configPath: "/from/flag.yaml"})
	if path != "/from/flag.yaml" {
		t.Errorf("getConfigPath() = %q, want flag value", path)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"pool exhausted", commissioning.ErrPoolExhausted, exitPoolExhausted},
		{"wrapped pool exhausted", fmt.Errorf("run: %w", commissioning.ErrPoolExhausted), exitPoolExhausted},
		{"bus fault", commissioning.ErrBusFault, exitFailure},
		{"other", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestExecute_InvalidConfig(t *testing.T) {
	code, _, stderr := runCLI(t, "commission", "--config", "/nonexistent/path/config.yaml")

	if code != exitFailure {
		t.Errorf("exit code = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(stderr, "loading config") {
		t.Errorf("stderr = %q, want it to mention loading config", stderr)
	}
}

func TestExecute_UnknownCommand(t *testing.T) {
	code, _, _ := runCLI(t, "decommission")
	if code != exitFailure {
		t.Errorf("exit code = %d, want %d", code, exitFailure)
	}
}

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")

	if code != exitOK {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout, version) {
		t.Errorf("stdout = %q, want version %q", stdout, version)
	}
}

func TestServe_DALIDisabled(t *testing.T) {
	configPath, _ := writeConfig(t, "tcp://127.0.0.1:1", false)

	code, _, stderr := runCLI(t, "serve", "--config", configPath)

	if code != exitFailure {
		t.Errorf("exit code = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(stderr, "disabled") {
		t.Errorf("stderr = %q, want it to mention dali being disabled", stderr)
	}
}

func TestTokenCommand(t *testing.T) {
	configPath, _ := writeConfig(t, "tcp://127.0.0.1:1", true)

	code, stdout, stderr := runCLI(t, "token", "--config", configPath, "--subject", "site-installer", "--role", "admin")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(stdout), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "site-installer" {
		t.Errorf("Subject = %q, want site-installer", claims.Subject)
	}
	if claims.Role != auth.RoleAdmin {
		t.Errorf("Role = %q, want admin", claims.Role)
	}

	lifetime := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if lifetime != 30*time.Minute {
		t.Errorf("token lifetime = %v, want the configured 30m", lifetime)
	}
}

func TestTokenCommand_InvalidRole(t *testing.T) {
	configPath, _ := writeConfig(t, "tcp://127.0.0.1:1", true)

	code, stdout, stderr := runCLI(t, "token", "--config", configPath, "--subject", "bob", "--role", "superuser")

	if code != exitFailure {
		t.Errorf("exit code = %d, want %d", code, exitFailure)
	}
	if stdout != "" {
		t.Errorf("stdout = %q, want no token", stdout)
	}
	if !strings.Contains(stderr, "role") {
		t.Errorf("stderr = %q, want it to mention the role", stderr)
	}
}

func TestTokenCommand_SubjectRequired(t *testing.T) {
	configPath, _ := writeConfig(t, "tcp://127.0.0.1:1", true)

	code, _, _ := runCLI(t, "token", "--config", configPath)
	if code != exitFailure {
		t.Errorf("exit code = %d, want %d", code, exitFailure)
	}
}

func TestCommissionCommand_EndToEnd(t *testing.T) {
	sim := dalitest.New()
	sim.AddAddressedDevice(0x00F000, 0)
	sim.AddAddressedDevice(0x00F001, 1)
	sim.AddDevice(0x00ABCD)
	sim.AddDevice(0x001234)
	configPath, dbPath := writeConfig(t, startGateway(t, sim), true)

	code, stdout, stderr := runCLI(t, "commission", "--config", configPath, "--json", "--quiet")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}

	var res commissioning.Result
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("decoding result: %v\n%s", err, stdout)
	}
	if res.Phase != commissioning.PhaseDone {
		t.Errorf("Phase = %q, want done", res.Phase)
	}
	if len(res.Assignments) != 2 {
		t.Fatalf("assignments = %d, want 2", len(res.Assignments))
	}

	// Discovery is in ascending random order and allocation takes the
	// lowest free address.
	want := []struct {
		random dali.RandomAddress
		short  dali.ShortAddress
	}{{0x001234, 2}, {0x00ABCD, 3}}
	for i, w := range want {
		a := res.Assignments[i]
		if a.Random != w.random || a.Short != w.short || !a.Verified {
			t.Errorf("assignment %d = %+v, want %s -> %d verified", i, a, w.random, w.short)
		}
		if got, ok := sim.ShortAddressOf(w.random); !ok || got != w.short {
			t.Errorf("device %s holds %d (ok=%v), want %d", w.random, got, ok, w.short)
		}
	}
	if sim.Initialised() {
		t.Error("devices still initialised after the run")
	}

	db, err := database.Open(database.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()
	stored, err := commissioning.NewSQLiteRepository(db.DB).GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if len(stored.Assignments) != 2 {
		t.Errorf("stored assignments = %d, want 2", len(stored.Assignments))
	}
}

func TestCommissionCommand_PoolExhausted(t *testing.T) {
	sim := dalitest.New()
	for a := dali.ShortAddress(0); a <= dali.MaxShortAddress; a++ {
		sim.AddAddressedDevice(0x800000+dali.RandomAddress(a), a)
	}
	sim.AddDevice(0x000042)
	configPath, _ := writeConfig(t, startGateway(t, sim), true)

	code, stdout, stderr := runCLI(t, "commission", "--config", configPath, "--no-store", "--quiet")

	if code != exitPoolExhausted {
		t.Fatalf("exit code = %d, want %d; stderr = %s", code, exitPoolExhausted, stderr)
	}
	if !strings.Contains(stdout, "Unassigned: 1") || !strings.Contains(stdout, "0x000042") {
		t.Errorf("stdout = %q, want the unassigned device listed", stdout)
	}
	if _, ok := sim.ShortAddressOf(0x000042); ok {
		t.Error("device received a short address from an exhausted pool")
	}
}

func TestScanCommand(t *testing.T) {
	sim := dalitest.New()
	sim.AddAddressedDevice(0x000001, 4)
	sim.AddAddressedDevice(0x000002, 9)
	sim.AddDevice(0x000003)
	configPath, _ := writeConfig(t, startGateway(t, sim), true)

	code, stdout, stderr := runCLI(t, "scan", "--config", configPath, "--json", "-q")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}

	var out struct {
		Used  []int `json:"used"`
		Count int   `json:"count"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("decoding scan output: %v", err)
	}
	if out.Count != 2 || len(out.Used) != 2 || out.Used[0] != 4 || out.Used[1] != 9 {
		t.Errorf("scan = %+v, want [4 9]", out)
	}
}

func TestPrintResult_Text(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	res := &commissioning.Result{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Phase:      commissioning.PhaseAborted,
		Used:       commissioning.NewAddressSet(0, 1),
		Assignments: []commissioning.Assignment{
			{Random: 0x000010, Short: 2, Verified: true},
			{Random: 0x000020, Short: 3, Verified: false},
		},
		Unassigned: []dali.RandomAddress{0x000030},
		Probes:     42,
		Error:      "commissioning: no free short addresses left",
	}

	var buf bytes.Buffer
	if err := printResult(&buf, res, false); err != nil {
		t.Fatalf("printResult() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Run run-1: aborted in 1.5s",
		"Addresses already in use: 2 [0 1]",
		"0x000010 -> 2\n",
		"0x000020 -> 3 (verify failed)",
		"Unassigned: 1",
		"Compare probes: 42",
		"Error: commissioning: no free short addresses left",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealthCheck_ReportsFirstFailureInOrder(t *testing.T) {
	ok := checkFunc(func(context.Context) error { return nil })
	fail := func(msg string) checkFunc {
		return func(context.Context) error { return errors.New(msg) }
	}

	err := healthCheck(context.Background(), map[string]api.HealthChecker{
		"database": ok,
		"mqtt":     fail("broker down"),
		"gateway":  fail("no bus power"),
	})
	if err == nil || !strings.HasPrefix(err.Error(), "mqtt:") {
		t.Errorf("healthCheck() = %v, want the mqtt failure", err)
	}

	if err := healthCheck(context.Background(), map[string]api.HealthChecker{"database": ok}); err != nil {
		t.Errorf("healthCheck() with passing checks = %v", err)
	}
}
