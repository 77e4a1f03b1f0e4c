package cargotoml

import (
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
)

// expandMemberPattern expands one entry of `[workspace] members`, either a
// literal relative path or a `dir/*` glob naming every immediate
// subdirectory of dir. Cargo supports only this one glob shape for
// workspace members, so a full glob engine is unwarranted; godirwalk's
// single-level directory listing (same idiom as the teacher's vendored
// copy) is all that's needed.
func expandMemberPattern(workspaceRoot, pattern string) ([]string, error) {
	if !strings.HasSuffix(pattern, "/*") {
		return []string{filepath.Join(workspaceRoot, pattern)}, nil
	}

	base := filepath.Join(workspaceRoot, strings.TrimSuffix(pattern, "/*"))
	var dirs []string
	err := godirwalk.Walk(base, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == base {
				return nil
			}
			if de.IsDir() {
				dirs = append(dirs, path)
				return filepath.SkipDir
			}
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "expanding workspace member glob %q", pattern)
	}
	return dirs, nil
}
