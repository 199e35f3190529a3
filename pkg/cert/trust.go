package cert

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

const (
	linuxCADir    = "/usr/local/share/ca-certificates"
	macOSKeychain = "/Library/Keychains/System.keychain"
)

// InstallCA adds the CA certificate to the system trust store. Linux and
// macOS are supported; both typically need the command run with sudo.
func InstallCA(certPath string) error {
	if !fileExists(certPath) {
		return fmt.Errorf("CA certificate not found at %s, run init first", certPath)
	}

	switch runtime.GOOS {
	case "linux":
		return installLinux(certPath)
	case "darwin":
		return installMacOS(certPath)
	default:
		return fmt.Errorf("unsupported platform %s for automatic CA install", runtime.GOOS)
	}
}

func installLinux(certPath string) error {
	if err := os.MkdirAll(linuxCADir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", linuxCADir, err)
	}

	data, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("reading CA certificate: %w", err)
	}
	dest := filepath.Join(linuxCADir, "agentprobe-ca.crt")
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("copying CA to %s: %w", dest, err)
	}

	update, err := exec.LookPath("update-ca-certificates")
	if err != nil {
		// Copied but not activated; the operator can finish by hand.
		return nil
	}
	if out, err := exec.Command(update).CombinedOutput(); err != nil {
		return fmt.Errorf("update-ca-certificates: %w: %s", err, out)
	}
	return nil
}

func installMacOS(certPath string) error {
	cmd := exec.Command("security", "add-trusted-cert",
		"-d", "-r", "trustRoot",
		"-k", macOSKeychain,
		certPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("security add-trusted-cert: %w: %s", err, out)
	}
	return nil
}
