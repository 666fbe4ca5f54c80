package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `
one_xmlrpc: http://oned.example.com:2633/RPC2
message_size: 2097152
timeout: 30s
db:
  backend: mysql
  server: db.example.com
  port: 3306
  user: oneadmin
  password: secret
  name: opennebula
  connections: 25
udp_listener:
  address: 127.0.0.1
  port: 4125
  threads: 8
im_mad:
  - name: im_kvm
    executable: one_im_ssh
    arguments: ["-r", "3", "kvm"]
    threads: 4
  - name: im_vcenter
    executable: one_im_vcenter
    threads: 1
host:
  monitor_expiration: 3600
  monitoring_interval: 30
  monitoring_threads: 50
notify:
  backend: redis
  url: redis://localhost:6379/0
  channel: onemonitord.host_state
  timeout: 5s
  retries: 3
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "one_xmlrpc", cfg.OneXMLRPC, "http://oned.example.com:2633/RPC2")
	if cfg.MessageSize != 2097152 {
		t.Errorf("expected message_size=2097152, got %d", cfg.MessageSize)
	}
	if cfg.Timeout.Duration != 30*time.Second {
		t.Errorf("expected timeout=30s, got %v", cfg.Timeout.Duration)
	}

	assertEqual(t, "db.backend", cfg.DB.Backend, "mysql")
	assertEqual(t, "db.server", cfg.DB.Server, "db.example.com")
	if cfg.DB.Port != 3306 {
		t.Errorf("expected db.port=3306, got %d", cfg.DB.Port)
	}
	if cfg.DB.Connections != 25 {
		t.Errorf("expected db.connections=25, got %d", cfg.DB.Connections)
	}

	assertEqual(t, "udp_listener.address", cfg.UDPListener.Address, "127.0.0.1")
	if cfg.UDPListener.Port != 4125 || cfg.UDPListener.Threads != 8 {
		t.Errorf("unexpected udp_listener: %+v", cfg.UDPListener)
	}

	if len(cfg.IMMad) != 2 {
		t.Fatalf("expected 2 im_mad entries, got %d", len(cfg.IMMad))
	}
	assertEqual(t, "im_mad[0].name", cfg.IMMad[0].Name, "im_kvm")
	assertEqual(t, "im_mad[0].executable", cfg.IMMad[0].Executable, "one_im_ssh")
	if len(cfg.IMMad[0].Arguments) != 2 {
		t.Errorf("expected 2 arguments, got %+v", cfg.IMMad[0].Arguments)
	}
	if cfg.IMMad[1].Threads != 1 {
		t.Errorf("expected im_vcenter threads=1, got %d", cfg.IMMad[1].Threads)
	}

	if cfg.Host.MonitorExpiration != 3600 || cfg.Host.MonitoringInterval != 30 || cfg.Host.MonitoringThreads != 50 {
		t.Errorf("unexpected host config: %+v", cfg.Host)
	}

	assertEqual(t, "notify.backend", cfg.Notify.Backend, "redis")
	assertEqual(t, "notify.channel", cfg.Notify.Channel, "onemonitord.host_state")
	if cfg.Notify.Retries == nil || *cfg.Notify.Retries != 3 {
		t.Error("expected notify.retries=3")
	}
}

func TestLoad_EmptyConfigGetsDefaults(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "one_xmlrpc", cfg.OneXMLRPC, "http://localhost:2633/RPC2")
	if cfg.MessageSize != 1073741824 {
		t.Errorf("expected default message_size, got %d", cfg.MessageSize)
	}
	if cfg.Timeout.Duration != 60*time.Second {
		t.Errorf("expected default timeout=60s, got %v", cfg.Timeout.Duration)
	}
	assertEqual(t, "db.backend", cfg.DB.Backend, "sqlite")
	assertEqual(t, "udp_listener.address", cfg.UDPListener.Address, "0.0.0.0")
	if cfg.UDPListener.Port != 4124 || cfg.UDPListener.Threads != 16 {
		t.Errorf("unexpected default udp_listener: %+v", cfg.UDPListener)
	}
	if cfg.Host.MonitorExpiration != 86400 || cfg.Host.MonitoringInterval != 60 {
		t.Errorf("unexpected default host config: %+v", cfg.Host)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/onemonitord.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "{{invalid yaml")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeTemp(t, "one_xmlrc: typo\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "s3cr3t")

	yaml := `
db:
  backend: mysql
  password: ${TEST_DB_PASSWORD}
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "db.password", cfg.DB.Password, "s3cr3t")
}

func TestLoad_UnsupportedBackendRejected(t *testing.T) {
	path := writeTemp(t, "db:\n  backend: postgres\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unsupported db backend")
	}
}

func TestLoad_IMMadMissingExecutableRejected(t *testing.T) {
	path := writeTemp(t, "im_mad:\n  - name: im_kvm\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for im_mad entry missing executable")
	}
}

func TestLoad_NotifyUnsupportedBackendRejected(t *testing.T) {
	path := writeTemp(t, "notify:\n  backend: kafka\n  url: kafka://localhost\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unsupported notify backend")
	}
}

func TestLoad_NotifyMissingURLRejected(t *testing.T) {
	path := writeTemp(t, "notify:\n  backend: webhook\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for notify backend with no url")
	}
}

func TestLoad_NotifyWebhookWithHeaders(t *testing.T) {
	yaml := `
notify:
  backend: webhook
  url: https://hooks.example.com/onemonitord
  headers:
    Authorization: Bearer token123
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "notify.backend", cfg.Notify.Backend, "webhook")
	if cfg.Notify.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("expected notify.headers.Authorization, got %+v", cfg.Notify.Headers)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "onemonitord.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
