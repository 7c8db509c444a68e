package patchtool

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/utils"
)

// safeToolExec resolves the tool binary under the configured root and
// refuses to run it unless:
//   - the root is non-empty and free of control characters
//   - the tools directory still lies inside the root after resolving symlinks
//   - the binary itself is a regular file, not a symlink
func (t *Tool) safeToolExec() (string, error) {
	root := strings.TrimSpace(t.Paths.RootPath)
	if root == "" {
		return "", fmt.Errorf("empty root path")
	}
	if strings.ContainsAny(root, "\n\r\x00") {
		return "", fmt.Errorf("invalid characters in root path")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("unable to resolve absolute root: %w", err)
	}
	toolsDir := t.Paths.ToolsDir()
	if abs, err := filepath.Abs(toolsDir); err == nil {
		toolsDir = abs
	}
	if err := utils.EnsureWithin(absRoot, toolsDir); err != nil {
		return "", fmt.Errorf("patch tool directory containment failed: %w", err)
	}
	if evalRoot, err := filepath.EvalSymlinks(absRoot); err == nil {
		if evalDir, err := filepath.EvalSymlinks(toolsDir); err == nil {
			if err := utils.EnsureWithin(evalRoot, evalDir); err != nil {
				return "", fmt.Errorf("patch tool directory escapes root after symlink resolution")
			}
		}
	}
	execPath := filepath.Join(toolsDir, filepath.Base(t.Paths.ToolBinary(t.Platform)))
	if _, err := utils.EnsureRegularFile(execPath); err != nil {
		return "", fmt.Errorf("patch tool executable unusable: %w", err)
	}
	return execPath, nil
}

// validateToolArgs checks the argv handed to the tool against the two
// command shapes the engine issues:
//
//	apply --json --staging-dir DIR --signature SIG PATCH TARGET
//	verify --json SIG TARGET
func validateToolArgs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no arguments provided")
	}
	for _, a := range args {
		if strings.ContainsAny(a, "\n\r\x00") {
			return fmt.Errorf("invalid control characters in argument")
		}
	}

	var positional []string
	switch args[0] {
	case "apply":
		for i := 1; i < len(args); i++ {
			switch args[i] {
			case "--json":
			case "--staging-dir", "--signature":
				if i+1 >= len(args) || strings.HasPrefix(args[i+1], "-") || strings.TrimSpace(args[i+1]) == "" {
					return fmt.Errorf("missing value for %s", args[i])
				}
				i++
			default:
				if strings.HasPrefix(args[i], "-") {
					return fmt.Errorf("unexpected flag %q in apply args", args[i])
				}
				positional = append(positional, args[i])
			}
		}
	case "verify":
		for _, a := range args[1:] {
			if a == "--json" {
				continue
			}
			if strings.HasPrefix(a, "-") {
				return fmt.Errorf("unexpected flag %q in verify args", a)
			}
			positional = append(positional, a)
		}
	default:
		return fmt.Errorf("unexpected subcommand %q", args[0])
	}
	if len(positional) != 2 {
		return fmt.Errorf("%s expects 2 positional arguments, got %d", args[0], len(positional))
	}
	for _, p := range positional {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("empty path argument")
		}
	}
	return nil
}
