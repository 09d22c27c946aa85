// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/tphakala/preroll-recorder/internal/errors"
)

const (
	appName   = "preroll-recorder"
	osWindows = "windows"
)

// GetDefaultConfigPaths returns the configuration search paths for the
// current OS. When a config.yaml exists in one of them, only that path is
// returned.
func GetDefaultConfigPaths() ([]string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategorySystem).
			Context("operation", "get-executable-path").
			Build()
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", appName),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", appName),
			"/etc/" + appName,
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}

// GetBasePath expands environment variables in path and creates the directory
// when it does not exist.
func GetBasePath(path string) string {
	basePath := filepath.Clean(os.ExpandEnv(path))
	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		if err := os.MkdirAll(basePath, 0o750); err != nil {
			GetLogger().Warn("failed to create directory", errorField(err), pathField(basePath))
		}
	}
	return basePath
}

// GetFfmpegBinaryName returns the binary name for ffmpeg based on the current OS.
func GetFfmpegBinaryName() string {
	if runtime.GOOS == osWindows {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// ValidateToolPath returns configuredPath when it points to an executable,
// otherwise the PATH location of toolName.
func ValidateToolPath(configuredPath, toolName string) (string, error) {
	if configuredPath != "" {
		if _, err := exec.LookPath(configuredPath); err == nil {
			return configuredPath, nil
		}
	}
	path, err := exec.LookPath(toolName)
	if err != nil {
		return "", errors.Newf("tool %q not found at configured path %q or in system PATH", toolName, configuredPath).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return path, nil
}
