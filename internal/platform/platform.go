// Package platform provides OS-aware helpers for paths and service files.
// Code that needs to behave differently per OS belongs here rather than in
// scattered runtime.GOOS checks.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// AppName is the directory and service name used on every OS.
const AppName = "reviewbooster"

// IsWindows returns true when running on Windows.
func IsWindows() bool { return runtime.GOOS == "windows" }

// DefaultWorkDir returns the OS-appropriate data directory.
//
//	Linux:   ~/.local/share/reviewbooster
//	macOS:   ~/Library/Application Support/ReviewBooster
//	Windows: %APPDATA%\ReviewBooster
//
// WORK_DIR takes priority (used in containers).
func DefaultWorkDir() string {
	if env := os.Getenv("WORK_DIR"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "ReviewBooster")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "ReviewBooster")
	default:
		return filepath.Join(home, ".local", "share", AppName)
	}
}

// EnsureDir creates a directory and all parents if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// ServiceConfig describes the OS service wrapping the daemon.
type ServiceConfig struct {
	Name        string
	Description string
	ExecPath    string
	WorkDir     string
	Env         map[string]string
}

// ServiceManager returns the service manager for the current OS.
//
//	Linux:   "systemd"
//	macOS:   "launchd"
//	Windows: "windows-service"
func ServiceManager() string {
	switch runtime.GOOS {
	case "darwin":
		return "launchd"
	case "windows":
		return "windows-service"
	default:
		return "systemd"
	}
}

// ServiceFile returns the path and content of the service definition for
// goos. Windows services are registered with sc.exe, so both are empty there.
func ServiceFile(goos string, cfg ServiceConfig) (path, content string) {
	switch goos {
	case "linux":
		return filepath.Join("/etc", "systemd", "system", cfg.Name+".service"), systemdUnit(cfg)
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "LaunchAgents", "com."+cfg.Name+".plist"), launchdPlist(cfg)
	}
	return "", ""
}

func systemdUnit(cfg ServiceConfig) string {
	var env strings.Builder
	for _, k := range sortedKeys(cfg.Env) {
		env.WriteString("Environment=" + k + "=" + cfg.Env[k] + "\n")
	}
	return `[Unit]
Description=` + cfg.Description + `
After=network.target

[Service]
Type=simple
ExecStart=` + cfg.ExecPath + ` serve
WorkingDirectory=` + cfg.WorkDir + `
` + env.String() + `Restart=always
RestartSec=5

[Install]
WantedBy=multi-user.target
`
}

func launchdPlist(cfg ServiceConfig) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>com.` + cfg.Name + `</string>
    <key>ProgramArguments</key>
    <array>
        <string>` + cfg.ExecPath + `</string>
        <string>serve</string>
    </array>
    <key>WorkingDirectory</key>
    <string>` + cfg.WorkDir + `</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
</dict>
</plist>
`
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
