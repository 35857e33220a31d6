package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultWorkDirHonoursEnv(t *testing.T) {
	t.Setenv("WORK_DIR", "/srv/rb")
	assert.Equal(t, "/srv/rb", DefaultWorkDir())
}

func TestServiceFileSystemd(t *testing.T) {
	path, content := ServiceFile("linux", ServiceConfig{
		Name:        "reviewbooster",
		Description: "Review booster",
		ExecPath:    "/usr/local/bin/reviewbooster",
		WorkDir:     "/var/lib/reviewbooster",
		Env:         map[string]string{"PORT": "8080", "DB_PATH": "/var/lib/reviewbooster/rb.db"},
	})
	assert.Equal(t, "/etc/systemd/system/reviewbooster.service", path)
	assert.Contains(t, content, "ExecStart=/usr/local/bin/reviewbooster serve")
	assert.Contains(t, content, "Environment=DB_PATH=/var/lib/reviewbooster/rb.db\nEnvironment=PORT=8080\n")
}

func TestServiceFileWindows(t *testing.T) {
	path, content := ServiceFile("windows", ServiceConfig{Name: "x"})
	assert.Empty(t, path)
	assert.Empty(t, content)
}
