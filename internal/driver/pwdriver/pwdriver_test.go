package pwdriver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/browserfarm/internal/driver"
)

func TestTimeoutFromDeadline(t *testing.T) {
	d := New(Options{DefaultTimeout: 5 * time.Second})
	assert.Equal(t, Name, d.Name())
	assert.Equal(t, float64(5000), d.timeoutMS(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ms := d.timeoutMS(ctx)
	assert.Greater(t, ms, float64(50000))
	assert.LessOrEqual(t, ms, float64(60000))

	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	assert.Equal(t, float64(1), d.timeoutMS(expired))
}

func TestDefaultTimeout(t *testing.T) {
	d := New(Options{})
	assert.Equal(t, 30*time.Second, d.opts.DefaultTimeout)
}

func TestDriverDirectoryIgnoresChromedriverPath(t *testing.T) {
	configured := t.TempDir()
	chromedriver := filepath.Join(t.TempDir(), "chromedriver.exe")
	require.NoError(t, os.WriteFile(chromedriver, []byte("MZ"), 0o755))

	d := New(Options{DriverDirectory: configured})
	assert.Equal(t, configured, d.driverDirectory(driver.Endpoint{Port: 1, DriverPath: chromedriver}))
	assert.Equal(t, configured, d.driverDirectory(driver.Endpoint{Port: 1, DriverPath: t.TempDir()}))
	assert.Equal(t, configured, d.driverDirectory(driver.Endpoint{Port: 1}))
}

func TestDriverDirectoryUsesInstalledDriver(t *testing.T) {
	installed := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(installed, "package"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(installed, "package", "cli.js"), []byte("//"), 0o644))

	d := New(Options{DriverDirectory: t.TempDir()})
	assert.Equal(t, installed, d.driverDirectory(driver.Endpoint{Port: 1, DriverPath: installed}))
}
