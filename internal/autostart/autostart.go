// Package autostart registers the relay to start with the operating system:
// a systemd unit on Linux, a launchd agent on macOS, and a Run registry value
// on Windows.
package autostart

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"attendance-relay/internal/utils"
)

const (
	ServiceName  = "attendance-relay"
	LaunchdLabel = "com.attendance.relay"
)

var ErrUnsupported = errors.New("autostart: unsupported platform")

// Installer writes and removes the autostart entry for one executable.
type Installer struct {
	Executable string
	Args       []string

	goos       string
	systemdDir string
	launchDir  string
	run        func(name string, args ...string) error
}

// New targets the current platform. executable should be an absolute path.
func New(executable string, args []string) *Installer {
	home, _ := os.UserHomeDir()
	return &Installer{
		Executable: executable,
		Args:       args,
		goos:       runtime.GOOS,
		systemdDir: "/etc/systemd/system",
		launchDir:  filepath.Join(home, "Library", "LaunchAgents"),
		run:        runCommand,
	}
}

func (i *Installer) Install() error {
	var err error
	switch i.goos {
	case "linux":
		err = i.installSystemd()
	case "darwin":
		err = i.installLaunchd()
	case "windows":
		err = setRunValue(ServiceName, i.commandLine())
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupported, i.goos)
	}
	if err != nil {
		return fmt.Errorf("autostart setup failed: %w", err)
	}
	utils.Logger.WithField("platform", i.goos).Info("Autostart configured")
	return nil
}

func (i *Installer) Uninstall() error {
	var err error
	switch i.goos {
	case "linux":
		err = i.uninstallSystemd()
	case "darwin":
		err = i.uninstallLaunchd()
	case "windows":
		err = deleteRunValue(ServiceName)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupported, i.goos)
	}
	if err != nil {
		return fmt.Errorf("autostart removal failed: %w", err)
	}
	utils.Logger.WithField("platform", i.goos).Info("Autostart removed")
	return nil
}

func (i *Installer) unitPath() string {
	return filepath.Join(i.systemdDir, ServiceName+".service")
}

func (i *Installer) plistPath() string {
	return filepath.Join(i.launchDir, LaunchdLabel+".plist")
}

func (i *Installer) installSystemd() error {
	unit, err := i.SystemdUnit()
	if err != nil {
		return err
	}
	if err := os.WriteFile(i.unitPath(), unit, 0o644); err != nil {
		return err
	}
	if err := i.run("systemctl", "daemon-reload"); err != nil {
		return err
	}
	return i.run("systemctl", "enable", "--now", ServiceName+".service")
}

func (i *Installer) uninstallSystemd() error {
	// stop/disable fail when the unit was never enabled; the file still goes.
	if err := i.run("systemctl", "disable", "--now", ServiceName+".service"); err != nil {
		utils.Logger.WithError(err).Warn("systemctl disable failed")
	}
	if err := os.Remove(i.unitPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return i.run("systemctl", "daemon-reload")
}

func (i *Installer) installLaunchd() error {
	plist, err := i.LaunchdPlist()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(i.launchDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(i.plistPath(), plist, 0o644); err != nil {
		return err
	}
	return i.run("launchctl", "load", i.plistPath())
}

func (i *Installer) uninstallLaunchd() error {
	if err := i.run("launchctl", "unload", i.plistPath()); err != nil {
		utils.Logger.WithError(err).Warn("launchctl unload failed")
	}
	if err := os.Remove(i.plistPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

var systemdTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=Attendance relay
After=network-online.target
Wants=network-online.target

[Service]
ExecStart={{.Command}}
WorkingDirectory={{.WorkDir}}
Restart=always
RestartSec=5

[Install]
WantedBy=multi-user.target
`))

var launchdTemplate = template.Must(template.New("plist").Funcs(template.FuncMap{"xml": xmlEscape}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{xml .Label}}</string>
	<key>ProgramArguments</key>
	<array>
{{- range .Argv}}
		<string>{{xml .}}</string>
{{- end}}
	</array>
	<key>WorkingDirectory</key>
	<string>{{xml .WorkDir}}</string>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
</dict>
</plist>
`))

func xmlEscape(s string) (string, error) {
	var b strings.Builder
	err := xml.EscapeText(&b, []byte(s))
	return b.String(), err
}

// SystemdUnit renders the unit file contents.
func (i *Installer) SystemdUnit() ([]byte, error) {
	var buf bytes.Buffer
	err := systemdTemplate.Execute(&buf, map[string]string{
		"Command": i.commandLine(),
		"WorkDir": filepath.Dir(i.Executable),
	})
	return buf.Bytes(), err
}

// LaunchdPlist renders the launch agent plist.
func (i *Installer) LaunchdPlist() ([]byte, error) {
	var buf bytes.Buffer
	err := launchdTemplate.Execute(&buf, map[string]interface{}{
		"Label":   LaunchdLabel,
		"Argv":    append([]string{i.Executable}, i.Args...),
		"WorkDir": filepath.Dir(i.Executable),
	})
	return buf.Bytes(), err
}

func (i *Installer) commandLine() string {
	parts := []string{quote(i.Executable)}
	for _, a := range i.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if strings.ContainsAny(s, " \t\"") {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}

func runCommand(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
