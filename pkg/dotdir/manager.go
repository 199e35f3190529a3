// Package dotdir manages the .agentprobe/ data directory that holds the
// capture database, the CA material, and the optional config file.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dirName is the name of the agentprobe directory.
	dirName = ".agentprobe"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the absolute path of the .agentprobe/ directory, creating
// it if needed. Order of precedence:
//  1. Provided override
//  2. Local ./.agentprobe/ dir
//  3. Home ~/.agentprobe/ dir (created when nothing else exists)
func (m *Manager) Target(overrideDir string) (string, error) {
	var dir string

	switch {
	case overrideDir != "":
		dir = overrideDir

	case m.localDirExists():
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting current directory: %w", err)
		}
		dir = filepath.Join(cwd, dirName)

	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, dirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating agentprobe directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// localDirExists checks whether an .agentprobe/ directory exists in the
// current working directory.
func (m *Manager) localDirExists() bool {
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}

	info, err := os.Stat(filepath.Join(cwd, dirName))
	return err == nil && info.IsDir()
}
