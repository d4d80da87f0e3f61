package autostart

import (
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRun struct {
	calls []string
	fail  map[string]bool
}

func (r *recordedRun) run(name string, args ...string) error {
	call := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, call)
	if r.fail[call] {
		return errors.New("exit status 1")
	}
	return nil
}

func testInstaller(t *testing.T, goos string) (*Installer, *recordedRun) {
	t.Helper()
	dir := t.TempDir()
	rec := &recordedRun{}
	return &Installer{
		Executable: "/opt/attendance relay/relay",
		Args:       []string{"--env-file", "/etc/relay.env"},
		goos:       goos,
		systemdDir: filepath.Join(dir, "systemd"),
		launchDir:  filepath.Join(dir, "LaunchAgents"),
		run:        rec.run,
	}, rec
}

func TestSystemdInstallAndUninstall(t *testing.T) {
	inst, rec := testInstaller(t, "linux")
	require.NoError(t, os.MkdirAll(inst.systemdDir, 0o755))

	require.NoError(t, inst.Install())
	unit, err := os.ReadFile(inst.unitPath())
	require.NoError(t, err)
	assert.Contains(t, string(unit), `ExecStart="/opt/attendance relay/relay" --env-file /etc/relay.env`)
	assert.Contains(t, string(unit), "Restart=always")
	assert.Contains(t, string(unit), "WantedBy=multi-user.target")
	assert.Equal(t, []string{
		"systemctl daemon-reload",
		"systemctl enable --now attendance-relay.service",
	}, rec.calls)

	rec.calls = nil
	rec.fail = map[string]bool{"systemctl disable --now attendance-relay.service": true}
	require.NoError(t, inst.Uninstall(), "disable failure does not block removal")
	_, err = os.Stat(inst.unitPath())
	assert.True(t, os.IsNotExist(err))
}

func TestLaunchdInstallAndUninstall(t *testing.T) {
	inst, rec := testInstaller(t, "darwin")

	require.NoError(t, inst.Install())
	plist, err := os.ReadFile(inst.plistPath())
	require.NoError(t, err)
	assert.Contains(t, string(plist), "<string>com.attendance.relay</string>")
	assert.Contains(t, string(plist), "<string>/opt/attendance relay/relay</string>")
	assert.Contains(t, string(plist), "<string>--env-file</string>")
	assert.Equal(t, []string{"launchctl load " + inst.plistPath()}, rec.calls)

	require.NoError(t, inst.Uninstall())
	_, err = os.Stat(inst.plistPath())
	assert.True(t, os.IsNotExist(err))
}

func TestLaunchdPlistEscapesPaths(t *testing.T) {
	inst, _ := testInstaller(t, "darwin")
	inst.Executable = "/opt/R&D <relay>/relay"
	inst.Args = []string{"--env-file", "/etc/a&b.env"}

	plist, err := inst.LaunchdPlist()
	require.NoError(t, err)
	assert.Contains(t, string(plist), "<string>/opt/R&amp;D &lt;relay&gt;/relay</string>")
	assert.Contains(t, string(plist), "<string>/etc/a&amp;b.env</string>")

	dec := xml.NewDecoder(strings.NewReader(string(plist)))
	dec.Strict = true
	for {
		_, err := dec.Token()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
}

func TestUnsupportedPlatform(t *testing.T) {
	inst, _ := testInstaller(t, "plan9")

	err := inst.Install()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.True(t, errors.Is(inst.Uninstall(), ErrUnsupported))
}
