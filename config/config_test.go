package config

import (
	"os"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("non-existent-config.toml", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Network.PortLeft != 8554 {
		t.Errorf("default PortLeft = %d, want 8554", cfg.Network.PortLeft)
	}
	if cfg.Network.PortRight != 8556 {
		t.Errorf("default PortRight = %d, want 8556", cfg.Network.PortRight)
	}
	if cfg.Network.ControlListenPort != 31285 {
		t.Errorf("default ControlListenPort = %d, want 31285", cfg.Network.ControlListenPort)
	}
	if cfg.Network.ServoPort != 32115 {
		t.Errorf("default ServoPort = %d, want 32115", cfg.Network.ServoPort)
	}
	if cfg.Movement.ElevationServoBiasUnits != 200_000_000 {
		t.Errorf("default ElevationServoBiasUnits = %v, want 200000000", cfg.Movement.ElevationServoBiasUnits)
	}
	if cfg.Movement.ElevationCalibrationRad != 0.5 {
		t.Errorf("default ElevationCalibrationRad = %v, want 0.5", cfg.Movement.ElevationCalibrationRad)
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test-config-*.toml")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
[network]
peer_ip = "192.168.1.50"
port_left = 9000

[video]
codec = "H265"
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("write config: %v", err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.PeerIP != "192.168.1.50" {
		t.Errorf("PeerIP = %s, want 192.168.1.50", cfg.Network.PeerIP)
	}
	if cfg.Network.PortLeft != 9000 {
		t.Errorf("PortLeft = %d, want 9000", cfg.Network.PortLeft)
	}
	if cfg.Video.Codec != "H265" {
		t.Errorf("Codec = %s, want H265", cfg.Video.Codec)
	}
	// A key the file does not set should keep its default.
	if cfg.Network.PortRight != 8556 {
		t.Errorf("PortRight = %d, want unchanged default 8556", cfg.Network.PortRight)
	}
}

func TestEnvOverridesPeerIPAndNTPServer(t *testing.T) {
	t.Setenv("HEADSET_PEER_IP", "10.0.0.5")
	t.Setenv("HEADSET_NTP_SERVER", "time.example.org")

	cfg, err := Load("non-existent-config.toml", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.PeerIP != "10.0.0.5" {
		t.Errorf("PeerIP = %s, want 10.0.0.5", cfg.Network.PeerIP)
	}
	if cfg.NTP.Server != "time.example.org" {
		t.Errorf("NTP.Server = %s, want time.example.org", cfg.NTP.Server)
	}
}

func TestInvalidConfigFileReturnsError(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test-invalid-config-*.toml")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString("[network\nport_left = \"oops\"\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmpFile.Close()

	if _, err := Load(tmpFile.Name(), zaptest.NewLogger(t)); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	cfg := defaults()
	cfg.Network.PeerIP = "172.16.0.9"
	cfg.Video.Resolution = "1920x1080"

	tmpFile, err := os.CreateTemp("", "test-save-config-*.toml")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	if err := Save(cfg, tmpFile.Name()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(tmpFile.Name(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Network.PeerIP != cfg.Network.PeerIP {
		t.Errorf("PeerIP mismatch: %s != %s", loaded.Network.PeerIP, cfg.Network.PeerIP)
	}
	if loaded.Video.Resolution != cfg.Video.Resolution {
		t.Errorf("Resolution mismatch: %s != %s", loaded.Video.Resolution, cfg.Video.Resolution)
	}
}
